// Package mask provides the binary tissue mask abstraction shared by the
// tiling, filtering and sampling stages.
//
// A whole-slide mask image is thresholded once at ingestion into a single
// documented convention: stored value 1 means background, stored value 0
// means tissue. Every downstream formula (density, keep thresholds, center
// of mass) is written against this convention, so the polarity question
// never reappears outside this package.
package mask

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"

	"gonum.org/v1/gonum/mat"
)

// TissueMask is a read-only single-channel binary mask over a whole-slide
// image. Pixel values are 1 for background and 0 for tissue. The backing
// store is a gonum dense matrix so that tiles and patch windows can be taken
// as non-owning views without copying.
type TissueMask struct {
	data   *mat.Dense
	height int
	width  int
}

// New wraps an already-thresholded matrix as a TissueMask. The matrix must
// contain only 0 and 1 values; callers constructing masks by hand (tests,
// synthetic data) are responsible for that.
func New(data *mat.Dense) *TissueMask {
	h, w := data.Dims()
	return &TissueMask{data: data, height: h, width: w}
}

// FromImage converts a raw mask image into a TissueMask. Only the first
// channel is consulted: any pixel with a nonzero value becomes 1
// (background), everything else stays 0 (tissue). This is the single
// conversion point for the mask polarity convention.
func FromImage(img image.Image) *TissueMask {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()
	data := mat.NewDense(h, w, nil)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			if r > 0 {
				data.Set(y, x, 1)
			}
		}
	}
	return New(data)
}

// Load reads a mask image file (TIFF, PNG or JPEG) and converts it with
// FromImage.
func Load(path string) (*TissueMask, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load mask: %v", err)
	}
	return FromImage(img), nil
}

// LoadImage decodes an image file using the registered decoders
// (TIFF, PNG, JPEG).
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v", path, err)
	}
	return img, nil
}

// Height returns the number of mask rows.
func (m *TissueMask) Height() int { return m.height }

// Width returns the number of mask columns.
func (m *TissueMask) Width() int { return m.width }

// At returns the stored value at (row, col).
func (m *TissueMask) At(y, x int) float64 { return m.data.At(y, x) }

// View returns a non-owning view of the h-by-w window anchored at (y0, x0).
// The view shares the mask's backing store; callers must treat it as
// read-only.
func (m *TissueMask) View(y0, x0, h, w int) mat.Matrix {
	return m.data.Slice(y0, y0+h, x0, x0+w)
}

// WindowSum returns the sum of stored values over the h-by-w window anchored
// at (y0, x0). Under the mask convention this counts background pixels.
func (m *TissueMask) WindowSum(y0, x0, h, w int) float64 {
	return mat.Sum(m.View(y0, x0, h, w))
}
