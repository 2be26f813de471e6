package distance

import (
	"math"
	"math/rand"
	"testing"

	"segeval/internal/models"
)

// bruteForce computes the squared anisotropic distance field by comparing
// every voxel against every source voxel
func bruteForce(mask []bool, width, height, depth int, pitch models.Pitch) []float64 {
	out := make([]float64, width*height*depth)

	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				best := math.Inf(1)
				for sz := 0; sz < depth; sz++ {
					for sy := 0; sy < height; sy++ {
						for sx := 0; sx < width; sx++ {
							if !mask[sz*width*height+sy*width+sx] {
								continue
							}
							dx := pitch.X * float64(x-sx)
							dy := pitch.Y * float64(y-sy)
							dz := pitch.Z * float64(z-sz)
							d := dx*dx + dy*dy + dz*dz
							if d < best {
								best = d
							}
						}
					}
				}
				out[z*width*height+y*width+x] = best
			}
		}
	}

	return out
}

// TestZeroAtSources verifies that source voxels get distance zero
func TestZeroAtSources(t *testing.T) {
	mask := make([]bool, 3*3*3)
	mask[0] = true
	mask[13] = true // center
	mask[26] = true

	tr := NewTransform(3, 3, 3, models.Pitch{X: 1, Y: 1, Z: 1})
	field := tr.FieldFrom(mask)

	for i, isSource := range mask {
		if isSource && field[i] != 0 {
			t.Errorf("Expected distance 0 at source voxel %d, got %f", i, field[i])
		}
	}
}

// TestLineDistances verifies exact squared distances along a single axis
func TestLineDistances(t *testing.T) {
	width := 6
	mask := make([]bool, width)
	mask[0] = true

	tr := NewTransform(width, 1, 1, models.Pitch{X: 1, Y: 1, Z: 1})
	field := tr.FieldFrom(mask)

	for x := 0; x < width; x++ {
		expected := float64(x * x)
		if field[x] != expected {
			t.Errorf("Expected squared distance %f at x=%d, got %f", expected, x, field[x])
		}
	}
}

// TestTwoSources verifies that the nearest source wins
func TestTwoSources(t *testing.T) {
	width := 7
	mask := make([]bool, width)
	mask[0] = true
	mask[6] = true

	tr := NewTransform(width, 1, 1, models.Pitch{X: 1, Y: 1, Z: 1})
	field := tr.FieldFrom(mask)

	expected := []float64{0, 1, 4, 9, 4, 1, 0}
	for x, want := range expected {
		if field[x] != want {
			t.Errorf("Expected squared distance %f at x=%d, got %f", want, x, field[x])
		}
	}
}

// TestAnisotropicPitch verifies that the section pitch scales the z axis
func TestAnisotropicPitch(t *testing.T) {
	// two voxels stacked along z, one source
	mask := []bool{true, false}

	tr := NewTransform(1, 1, 2, models.Pitch{X: 1, Y: 1, Z: 10})
	field := tr.FieldFrom(mask)

	if field[0] != 0 {
		t.Errorf("Expected 0 at source, got %f", field[0])
	}
	if field[1] != 100 {
		t.Errorf("Expected squared distance 100 across one section, got %f", field[1])
	}
}

// TestDiagonal verifies a mixed-axis distance
func TestDiagonal(t *testing.T) {
	// 2x2x1 volume, source at (0,0)
	mask := []bool{true, false, false, false}

	tr := NewTransform(2, 2, 1, models.Pitch{X: 1, Y: 1, Z: 1})
	field := tr.FieldFrom(mask)

	if field[3] != 2 {
		t.Errorf("Expected squared diagonal distance 2, got %f", field[3])
	}
}

// TestMatchesBruteForce cross-checks the separable transform against the
// quadratic reference on a random anisotropic volume
func TestMatchesBruteForce(t *testing.T) {
	width, height, depth := 6, 5, 4
	pitch := models.Pitch{X: 4, Y: 4, Z: 40}

	rng := rand.New(rand.NewSource(42))
	mask := make([]bool, width*height*depth)
	for i := range mask {
		mask[i] = rng.Float64() < 0.2
	}
	// guarantee at least one source
	mask[0] = true

	tr := NewTransform(width, height, depth, pitch)
	field := tr.FieldFrom(mask)
	expected := bruteForce(mask, width, height, depth, pitch)

	for i := range expected {
		if math.Abs(field[i]-expected[i]) > 1e-9 {
			t.Errorf("Voxel %d: expected %f, got %f", i, expected[i], field[i])
		}
	}
}

// TestFieldReuse verifies that consecutive calls do not leak state
func TestFieldReuse(t *testing.T) {
	width := 4
	tr := NewTransform(width, 1, 1, models.Pitch{X: 1, Y: 1, Z: 1})

	first := make([]bool, width)
	first[3] = true
	tr.FieldFrom(first)

	second := make([]bool, width)
	second[0] = true
	field := tr.FieldFrom(second)

	for x := 0; x < width; x++ {
		expected := float64(x * x)
		if field[x] != expected {
			t.Errorf("Second field at x=%d: expected %f, got %f", x, expected, field[x])
		}
	}
}
