package tolerance

import (
	"testing"

	"github.com/rs/zerolog"

	"segeval/internal/models"
	"segeval/pkg/cells"
)

func volumeFrom(width, height, depth int, labels []float64) *models.Volume {
	v := models.NewVolume(width, height, depth)
	copy(v.Data, labels)
	return v
}

func enumerate(t *testing.T, gt, rec *models.Volume, threshold float64, pitch models.Pitch) *cells.Collection {
	t.Helper()

	col, err := cells.Extract(gt, rec)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	err = Enumerate(col, Params{Threshold: threshold, Pitch: pitch, Workers: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}

	return col
}

// TestZeroToleranceYieldsNoAlternatives verifies that a zero threshold
// leaves every cell with only its default label
func TestZeroToleranceYieldsNoAlternatives(t *testing.T) {
	gt := volumeFrom(4, 1, 1, []float64{1, 1, 1, 1})
	rec := volumeFrom(4, 1, 1, []float64{1, 1, 2, 2})

	col := enumerate(t, gt, rec, 0, models.Pitch{X: 1, Y: 1, Z: 1})

	for _, cell := range col.Cells() {
		if len(cell.AlternativeLabels()) != 0 {
			t.Errorf("Cell (gt=%g, rec=%g) has alternatives %v at zero tolerance",
				cell.GroundTruthLabel, cell.ReconstructionLabel, cell.AlternativeLabels())
		}
	}
}

// TestAdjacentCellGainsAlternative verifies the basic enumeration: a
// one-voxel cell next to another label may adopt it
func TestAdjacentCellGainsAlternative(t *testing.T) {
	gt := volumeFrom(4, 1, 1, []float64{1, 2, 2, 2})
	rec := volumeFrom(4, 1, 1, []float64{1, 1, 2, 2})

	col := enumerate(t, gt, rec, 2, models.Pitch{X: 1, Y: 1, Z: 1})

	// the (gt=2, rec=1) voxel at x=1 is one voxel away from rec label 2
	shifted := col.CellsByReconstruction(1)
	var found *models.Cell
	for _, cell := range shifted {
		if cell.GroundTruthLabel == 2 {
			found = cell
		}
	}
	if found == nil {
		t.Fatal("Expected a (gt=2, rec=1) cell")
	}

	alts := found.AlternativeLabels()
	if len(alts) != 1 || alts[0] != 2 {
		t.Errorf("Expected alternative labels [2], got %v", alts)
	}

	// the possible matches were extended symmetrically
	byGt := col.PossibleMatchesByGroundTruth(2)
	if len(byGt) != 2 {
		t.Errorf("Expected gt 2 to match rec {1, 2}, got %v", byGt)
	}
}

// TestEveryVoxelMustBeWithinTolerance verifies that one distant voxel
// blocks the whole cell: relabeling is all or nothing per cell
func TestEveryVoxelMustBeWithinTolerance(t *testing.T) {
	// the rec-1 cell spans x=0..2; its far voxel is 3 away from rec 2
	gt := volumeFrom(4, 1, 1, []float64{1, 1, 1, 1})
	rec := volumeFrom(4, 1, 1, []float64{1, 1, 1, 2})

	col := enumerate(t, gt, rec, 2, models.Pitch{X: 1, Y: 1, Z: 1})

	for _, cell := range col.CellsByReconstruction(1) {
		if len(cell.AlternativeLabels()) != 0 {
			t.Errorf("Cell with a voxel outside tolerance must not gain the label, got %v",
				cell.AlternativeLabels())
		}
	}
}

// TestThresholdIsStrict verifies that a squared distance exactly at the
// squared threshold does not qualify
func TestThresholdIsStrict(t *testing.T) {
	gt := volumeFrom(2, 1, 1, []float64{1, 1})
	rec := volumeFrom(2, 1, 1, []float64{1, 2})

	// the two voxels are exactly 1 nm apart
	col := enumerate(t, gt, rec, 1, models.Pitch{X: 1, Y: 1, Z: 1})
	for _, cell := range col.Cells() {
		if len(cell.AlternativeLabels()) != 0 {
			t.Errorf("Distance equal to the threshold must not qualify")
		}
	}

	// a hair more tolerance qualifies both cells
	col = enumerate(t, gt, rec, 1.01, models.Pitch{X: 1, Y: 1, Z: 1})
	for _, cell := range col.Cells() {
		if len(cell.AlternativeLabels()) != 1 {
			t.Errorf("Expected one alternative for cell (gt=%g, rec=%g)",
				cell.GroundTruthLabel, cell.ReconstructionLabel)
		}
	}
}

// TestAnisotropicPitchBlocksAcrossSections verifies that the section
// pitch enters the distance
func TestAnisotropicPitchBlocksAcrossSections(t *testing.T) {
	gt := volumeFrom(1, 1, 2, []float64{1, 1})
	rec := volumeFrom(1, 1, 2, []float64{1, 2})

	// 5 nm tolerance, 10 nm sections: no alternatives
	col := enumerate(t, gt, rec, 5, models.Pitch{X: 1, Y: 1, Z: 10})
	for _, cell := range col.Cells() {
		if len(cell.AlternativeLabels()) != 0 {
			t.Errorf("Section pitch must block relabeling across sections")
		}
	}

	// the same volume with isotropic pitch allows it
	col = enumerate(t, gt, rec, 5, models.Pitch{X: 1, Y: 1, Z: 1})
	for _, cell := range col.Cells() {
		if len(cell.AlternativeLabels()) != 1 {
			t.Errorf("Isotropic pitch must allow relabeling")
		}
	}
}
