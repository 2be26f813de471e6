package ted

import (
	"gonum.org/v1/gonum/stat"

	"segeval/internal/models"
)

// Metrics summarizes how well the reconstruction agrees with the ground
// truth, independently of the label numbering on either side. Variation of
// information is the standard information-theoretic distance between two
// segmentations of the same volume; zero means the partitions are identical
// up to renaming.
type Metrics struct {
	// MutualInformation between the ground truth and the raw reconstruction
	MutualInformation float64

	// VariationOfInformation between the ground truth and the raw
	// reconstruction, in nats
	VariationOfInformation float64

	// CorrectedVariationOfInformation is the same distance measured against
	// the corrected reconstruction
	CorrectedVariationOfInformation float64

	// RelabeledFraction is the fraction of voxels whose label changed in
	// the corrected reconstruction
	RelabeledFraction float64
}

func computeMetrics(groundTruth, reconstruction, corrected *models.Volume) Metrics {
	n := groundTruth.NumVoxels()
	if n == 0 {
		return Metrics{}
	}

	hGt := labelEntropy(groundTruth)
	hRec := labelEntropy(reconstruction)
	hCorr := labelEntropy(corrected)

	hJointRec := jointEntropy(groundTruth, reconstruction)
	hJointCorr := jointEntropy(groundTruth, corrected)

	relabeled := 0
	for i := range reconstruction.Data {
		if models.LabelKey(reconstruction.Data[i]) != models.LabelKey(corrected.Data[i]) {
			relabeled++
		}
	}

	return Metrics{
		MutualInformation:               hGt + hRec - hJointRec,
		VariationOfInformation:          2*hJointRec - hGt - hRec,
		CorrectedVariationOfInformation: 2*hJointCorr - hGt - hCorr,
		RelabeledFraction:               float64(relabeled) / float64(n),
	}
}

// labelEntropy computes the Shannon entropy of the label distribution
func labelEntropy(v *models.Volume) float64 {
	counts := make(map[uint64]float64)
	for _, label := range v.Data {
		counts[models.LabelKey(label)]++
	}

	total := float64(v.NumVoxels())
	p := make([]float64, 0, len(counts))
	for _, c := range counts {
		p = append(p, c/total)
	}
	return stat.Entropy(p)
}

// jointEntropy computes the entropy of the joint label pair distribution
func jointEntropy(a, b *models.Volume) float64 {
	counts := make(map[[2]uint64]float64)
	for i := range a.Data {
		key := [2]uint64{models.LabelKey(a.Data[i]), models.LabelKey(b.Data[i])}
		counts[key]++
	}

	total := float64(len(a.Data))
	p := make([]float64, 0, len(counts))
	for _, c := range counts {
		p = append(p, c/total)
	}
	return stat.Entropy(p)
}
