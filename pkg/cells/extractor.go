// Package cells partitions a (ground truth, reconstruction) volume pair into
// cells: maximal voxel sets sharing one specific label pair. The extraction
// also seeds the possible-match bookkeeping that the tolerance enumeration
// and the assignment problem operate on.
package cells

import (
	"errors"
	"fmt"
	"sort"

	"segeval/internal/models"
)

// ErrSizeMismatch is returned when the two volumes do not have identical dimensions
var ErrSizeMismatch = errors.New("ground truth and reconstruction have different size")

// Collection holds the cells of one volume pair together with the label sets
// and the symmetric possible-match mappings.
type Collection struct {
	// cells keyed by reconstruction label, then ground truth label
	cells map[uint64]map[uint64]*models.Cell

	// label value lookup by bit key
	gtLabels  map[uint64]float64
	recLabels map[uint64]float64

	// possible matches in both directions
	possibleByGt  map[uint64]map[uint64]float64
	possibleByRec map[uint64]map[uint64]float64

	width, height, depth int
}

// Extract performs one linear pass over the paired volumes and builds the
// cell collection. Every voxel is appended to the cell of its label pair,
// and the pair is registered as a possible match.
func Extract(groundTruth, reconstruction *models.Volume) (*Collection, error) {
	if !groundTruth.SameShape(reconstruction) {
		return nil, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", ErrSizeMismatch,
			groundTruth.Width, groundTruth.Height, groundTruth.Depth,
			reconstruction.Width, reconstruction.Height, reconstruction.Depth)
	}

	c := &Collection{
		cells:         make(map[uint64]map[uint64]*models.Cell),
		gtLabels:      make(map[uint64]float64),
		recLabels:     make(map[uint64]float64),
		possibleByGt:  make(map[uint64]map[uint64]float64),
		possibleByRec: make(map[uint64]map[uint64]float64),
		width:         groundTruth.Width,
		height:        groundTruth.Height,
		depth:         groundTruth.Depth,
	}

	for z := 0; z < groundTruth.Depth; z++ {
		for y := 0; y < groundTruth.Height; y++ {
			for x := 0; x < groundTruth.Width; x++ {
				gtLabel := groundTruth.At(x, y, z)
				recLabel := reconstruction.At(x, y, z)

				cell := c.cell(recLabel, gtLabel)
				cell.AddLocation(models.Location{X: x, Y: y, Z: z})

				c.RegisterPossibleMatch(gtLabel, recLabel)
			}
		}
	}

	return c, nil
}

// cell returns the cell for the given label pair, creating it on first touch
func (c *Collection) cell(recLabel, gtLabel float64) *models.Cell {
	recKey := models.LabelKey(recLabel)
	gtKey := models.LabelKey(gtLabel)

	byGt, ok := c.cells[recKey]
	if !ok {
		byGt = make(map[uint64]*models.Cell)
		c.cells[recKey] = byGt
	}

	cell, ok := byGt[gtKey]
	if !ok {
		cell = &models.Cell{
			GroundTruthLabel:    gtLabel,
			ReconstructionLabel: recLabel,
		}
		byGt[gtKey] = cell
	}

	return cell
}

// RegisterPossibleMatch records that the given ground truth label may be
// covered by the given reconstruction label, either because the pair occurs
// in the input or because the tolerance enables it.
func (c *Collection) RegisterPossibleMatch(gtLabel, recLabel float64) {
	gtKey := models.LabelKey(gtLabel)
	recKey := models.LabelKey(recLabel)

	if _, ok := c.possibleByGt[gtKey]; !ok {
		c.possibleByGt[gtKey] = make(map[uint64]float64)
	}
	c.possibleByGt[gtKey][recKey] = recLabel

	if _, ok := c.possibleByRec[recKey]; !ok {
		c.possibleByRec[recKey] = make(map[uint64]float64)
	}
	c.possibleByRec[recKey][gtKey] = gtLabel

	c.gtLabels[gtKey] = gtLabel
	c.recLabels[recKey] = recLabel
}

// GroundTruthLabels returns all ground truth labels in ascending order
func (c *Collection) GroundTruthLabels() []float64 {
	return sortedValues(c.gtLabels)
}

// ReconstructionLabels returns all reconstruction labels in ascending order
func (c *Collection) ReconstructionLabels() []float64 {
	return sortedValues(c.recLabels)
}

// CellsByReconstruction returns the cells carrying the given reconstruction
// label, ordered by ascending ground truth label for reproducibility.
func (c *Collection) CellsByReconstruction(recLabel float64) []*models.Cell {
	byGt := c.cells[models.LabelKey(recLabel)]
	out := make([]*models.Cell, 0, len(byGt))
	for _, cell := range byGt {
		out = append(out, cell)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GroundTruthLabel < out[j].GroundTruthLabel
	})
	return out
}

// Cells returns all cells ordered by (reconstruction label, ground truth label)
func (c *Collection) Cells() []*models.Cell {
	var out []*models.Cell
	for _, recLabel := range c.ReconstructionLabels() {
		out = append(out, c.CellsByReconstruction(recLabel)...)
	}
	return out
}

// NumCells returns the number of cells in the collection
func (c *Collection) NumCells() int {
	n := 0
	for _, byGt := range c.cells {
		n += len(byGt)
	}
	return n
}

// PossibleMatchesByGroundTruth returns, in ascending order, the
// reconstruction labels the given ground truth label may be covered by.
func (c *Collection) PossibleMatchesByGroundTruth(gtLabel float64) []float64 {
	return sortedValues(c.possibleByGt[models.LabelKey(gtLabel)])
}

// PossibleMatchesByReconstruction returns, in ascending order, the ground
// truth labels the given reconstruction label may cover.
func (c *Collection) PossibleMatchesByReconstruction(recLabel float64) []float64 {
	return sortedValues(c.possibleByRec[models.LabelKey(recLabel)])
}

// Shape returns the dimensions of the volumes the collection was built from
func (c *Collection) Shape() (width, height, depth int) {
	return c.width, c.height, c.depth
}

func sortedValues(m map[uint64]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
