package ted

import (
	"segeval/internal/models"
)

// Locations marks where in the volume each error kind occurs. Every volume
// is binary: 1 at voxels contributing to the error, 0 elsewhere. Split and
// merge locations are always produced; false positives and negatives only
// when the respective background labels are configured.
type Locations struct {
	Splits         *models.Volume
	Merges         *models.Volume
	FalsePositives *models.Volume
	FalseNegatives *models.Volume
}

// ErrorLocations scans the corrected reconstruction against the ground
// truth and paints the error location volumes. For a ground truth region
// covered by several reconstruction labels, the label covering most of its
// voxels counts as the main one and the others mark split locations; merge
// locations mirror this on the reconstruction side.
func (r *Result) ErrorLocations(groundTruth *models.Volume, cfg Config) *Locations {
	corrected := r.Corrected

	loc := &Locations{
		Splits: models.NewVolume(corrected.Width, corrected.Height, corrected.Depth),
		Merges: models.NewVolume(corrected.Width, corrected.Height, corrected.Depth),
	}

	// voxel counts per (gt, rec) pair in the corrected volume
	pairCounts := make(map[uint64]map[uint64]int)
	recCounts := make(map[uint64]map[uint64]int)
	for i, gtLabel := range groundTruth.Data {
		recLabel := corrected.Data[i]
		gtKey := models.LabelKey(gtLabel)
		recKey := models.LabelKey(recLabel)

		if _, ok := pairCounts[gtKey]; !ok {
			pairCounts[gtKey] = make(map[uint64]int)
		}
		pairCounts[gtKey][recKey]++

		if _, ok := recCounts[recKey]; !ok {
			recCounts[recKey] = make(map[uint64]int)
		}
		recCounts[recKey][gtKey]++
	}

	mainRec := dominantPartner(pairCounts)
	mainGt := dominantPartner(recCounts)

	for i, gtLabel := range groundTruth.Data {
		recLabel := corrected.Data[i]
		gtKey := models.LabelKey(gtLabel)
		recKey := models.LabelKey(recLabel)

		if mainRec[gtKey] != recKey {
			loc.Splits.Data[i] = 1
		}
		if mainGt[recKey] != gtKey {
			loc.Merges.Data[i] = 1
		}
	}

	if cfg.GtBackgroundLabel != nil && cfg.RecBackgroundLabel != nil {
		gtBg := models.LabelKey(*cfg.GtBackgroundLabel)
		recBg := models.LabelKey(*cfg.RecBackgroundLabel)

		loc.FalsePositives = models.NewVolume(corrected.Width, corrected.Height, corrected.Depth)
		loc.FalseNegatives = models.NewVolume(corrected.Width, corrected.Height, corrected.Depth)

		for i, gtLabel := range groundTruth.Data {
			recLabel := corrected.Data[i]
			isGtBg := models.LabelKey(gtLabel) == gtBg
			isRecBg := models.LabelKey(recLabel) == recBg

			if isGtBg && !isRecBg {
				loc.FalsePositives.Data[i] = 1
			}
			if !isGtBg && isRecBg {
				loc.FalseNegatives.Data[i] = 1
			}
		}
	}

	return loc
}

// dominantPartner picks, for every key, the partner covering most voxels.
// Ties resolve to the smaller bit pattern for determinism.
func dominantPartner(counts map[uint64]map[uint64]int) map[uint64]uint64 {
	out := make(map[uint64]uint64, len(counts))
	for key, partners := range counts {
		var bestPartner uint64
		best := -1
		for partner, n := range partners {
			if n > best || (n == best && partner < bestPartner) {
				best = n
				bestPartner = partner
			}
		}
		out[key] = bestPartner
	}
	return out
}
