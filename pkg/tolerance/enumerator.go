// Package tolerance decides, for every cell, which alternative reconstruction
// labels the cell may adopt without shifting any boundary further than the
// configured physical threshold. One distance field is computed per
// reconstruction label; a cell can take a label only if every one of its
// voxels lies within tolerance of a voxel already carrying that label.
package tolerance

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"segeval/internal/models"
	"segeval/pkg/cells"
	"segeval/pkg/distance"
)

// Params configures the enumeration
type Params struct {
	// Threshold is the maximum allowed boundary shift in nanometers
	Threshold float64

	// Pitch is the physical voxel spacing in nanometers
	Pitch models.Pitch

	// Workers bounds the number of distance fields computed concurrently.
	// Zero or negative means one worker per CPU.
	Workers int
}

// Enumerate populates the alternative labels of every cell in the collection
// and extends the possible-match sets accordingly. The distance fields of
// the reconstruction labels are independent and run concurrently; writes
// into the shared collection are serialized.
func Enumerate(col *cells.Collection, params Params, log zerolog.Logger) error {
	width, height, depth := col.Shape()
	numVoxels := width * height * depth
	if numVoxels == 0 {
		return nil
	}

	// the squared field is compared against the squared threshold
	thresholdSq := params.Threshold * params.Threshold

	workers := params.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	recLabels := col.ReconstructionLabels()
	allCells := col.Cells()

	// one mask and one field buffer per concurrent worker
	transforms := sync.Pool{
		New: func() any {
			return &fieldScratch{
				transform: distance.NewTransform(width, height, depth, params.Pitch),
				mask:      make([]bool, numVoxels),
			}
		},
	}

	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)

	for _, recLabel := range recLabels {
		recLabel := recLabel
		g.Go(func() error {
			scratch := transforms.Get().(*fieldScratch)
			defer transforms.Put(scratch)

			log.Debug().Float64("recLabel", recLabel).Msg("computing distance field")

			// sources are the voxels currently carrying recLabel
			clear(scratch.mask)
			for _, cell := range col.CellsByReconstruction(recLabel) {
				for _, l := range cell.Locations {
					scratch.mask[l.Z*width*height+l.Y*width+l.X] = true
				}
			}

			field := scratch.transform.FieldFrom(scratch.mask)

			recKey := models.LabelKey(recLabel)
			for _, cell := range allCells {
				if models.LabelKey(cell.ReconstructionLabel) == recKey {
					continue
				}

				// the furthest voxel of the cell decides; stop early once
				// a voxel reaches the threshold
				within := true
				for _, l := range cell.Locations {
					if field[l.Z*width*height+l.Y*width+l.X] >= thresholdSq {
						within = false
						break
					}
				}

				if within {
					mu.Lock()
					cell.AddAlternativeLabel(recLabel)
					col.RegisterPossibleMatch(cell.GroundTruthLabel, recLabel)
					mu.Unlock()
				}
			}

			return nil
		})
	}

	return g.Wait()
}

type fieldScratch struct {
	transform *distance.Transform
	mask      []bool
}
