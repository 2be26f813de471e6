// Package stack reads and writes label volumes as directories of 2D slice
// images. Slices are grayscale PNG, JPEG or TIFF files whose pixel values
// are the labels; files are ordered by the numeric part of their names so
// that the anatomical z order of a section series is preserved.
package stack

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "image/jpeg"

	_ "golang.org/x/image/tiff"

	"segeval/internal/models"
)

var sliceExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tif":  true,
	".tiff": true,
}

// LoadVolume reads all slice images from a directory into a label volume.
// All slices must share the dimensions of the first one.
func LoadVolume(dir string) (*models.Volume, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read stack directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if sliceExtensions[ext] {
			files = append(files, entry.Name())
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	// sort by the numeric part of the filename to keep the section order
	sort.Slice(files, func(i, j int) bool {
		return sliceIndex(files[i]) < sliceIndex(files[j])
	})

	var volume *models.Volume
	for z, name := range files {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load slice %s: %w", name, err)
		}

		bounds := img.Bounds()
		if volume == nil {
			volume = models.NewVolume(bounds.Dx(), bounds.Dy(), len(files))
		} else if bounds.Dx() != volume.Width || bounds.Dy() != volume.Height {
			return nil, fmt.Errorf("slice %s has size %dx%d, expected %dx%d",
				name, bounds.Dx(), bounds.Dy(), volume.Width, volume.Height)
		}

		for y := 0; y < volume.Height; y++ {
			for x := 0; x < volume.Width; x++ {
				px := img.At(bounds.Min.X+x, bounds.Min.Y+y)
				if g, ok := px.(color.Gray); ok {
					// 8-bit slices carry their labels unscaled
					volume.Set(x, y, z, float64(g.Y))
					continue
				}
				gray := color.Gray16Model.Convert(px).(color.Gray16)
				volume.Set(x, y, z, float64(gray.Y))
			}
		}
	}

	return volume, nil
}

// SaveVolume writes a volume as a sequence of 16-bit grayscale PNG slices.
// Labels above 65535 cannot be represented and cause an error.
func SaveVolume(volume *models.Volume, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for z := 0; z < volume.Depth; z++ {
		img := image.NewGray16(image.Rect(0, 0, volume.Width, volume.Height))
		for y := 0; y < volume.Height; y++ {
			for x := 0; x < volume.Width; x++ {
				label := volume.At(x, y, z)
				if label < 0 || label > 65535 {
					return fmt.Errorf("label %g at (%d,%d,%d) does not fit 16-bit output", label, x, y, z)
				}
				img.SetGray16(x, y, color.Gray16{Y: uint16(label)})
			}
		}

		filename := filepath.Join(dir, fmt.Sprintf("slice_%03d.png", z))
		if err := saveImage(img, filename); err != nil {
			return fmt.Errorf("failed to save slice %d: %w", z, err)
		}
	}

	return nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	return img, err
}

func saveImage(img image.Image, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

var digitRuns = regexp.MustCompile(`[0-9]+`)

// sliceIndex derives a slice's stack position from the digits in its
// filename. All digit runs are concatenated, so "sec12_z003.png" sorts by
// 12003; names without any digit sort first.
func sliceIndex(name string) int {
	runs := digitRuns.FindAllString(filepath.Base(name), -1)
	if runs == nil {
		return 0
	}

	n, err := strconv.Atoi(strings.Join(runs, ""))
	if err != nil {
		// digit string too long for an int; fall back to the first run
		n, _ = strconv.Atoi(runs[0])
	}
	return n
}
