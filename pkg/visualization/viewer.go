// Package visualization renders quick-look PNG thumbnails of volumes.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"

	"volaudit/internal/models"
)

// ErrConstantSlice is returned when the selected slice has a single intensity
// and cannot be rescaled to the display range
var ErrConstantSlice = errors.New("slice has constant intensity")

// Options controls thumbnail rendering
type Options struct {
	// Width and Height bound the thumbnail; images are only ever shrunk to fit
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// MaxSlice picks the slice with the most foreground voxels instead of the middle one
	MaxSlice bool `yaml:"max_slice"`
}

// DefaultOptions returns a 128x128 box on the middle slice
func DefaultOptions() Options {
	return Options{Width: 128, Height: 128}
}

// Viewer cuts 2D planes out of a 2D or 3D volume
type Viewer struct {
	vol *models.Volume
}

// NewViewer creates a viewer over vol; the volume is not copied
func NewViewer(vol *models.Volume) (*Viewer, error) {
	if d := vol.Dims(); d != 2 && d != 3 {
		return nil, fmt.Errorf("thumbnails need a 2D or 3D image, got %dD", d)
	}
	if len(vol.Data) != vol.NumVoxels() {
		return nil, fmt.Errorf("buffer holds %d voxels, geometry needs %d", len(vol.Data), vol.NumVoxels())
	}
	return &Viewer{vol: vol}, nil
}

// ExtractSlice cuts the plane perpendicular to axis at position. Columns follow
// the lower remaining axis and rows the higher one. A 2D volume has a single
// plane and ignores axis.
func (v *Viewer) ExtractSlice(axis, position int) (*models.Slice, error) {
	size := v.vol.Size
	if len(size) == 2 {
		return &models.Slice{
			Data:   append([]float64(nil), v.vol.Data...),
			Width:  size[0],
			Height: size[1],
			Axis:   -1,
		}, nil
	}

	if axis < 0 || axis > 2 {
		return nil, fmt.Errorf("invalid axis %d (must be 0, 1 or 2)", axis)
	}
	if position < 0 || position >= size[axis] {
		return nil, fmt.Errorf("position %d outside axis %d of length %d", position, axis, size[axis])
	}

	var colAxis, rowAxis int
	switch axis {
	case 0:
		colAxis, rowAxis = 1, 2
	case 1:
		colAxis, rowAxis = 0, 2
	case 2:
		colAxis, rowAxis = 0, 1
	}

	s := &models.Slice{
		Width:  size[colAxis],
		Height: size[rowAxis],
		Axis:   axis,
		Index:  position,
	}
	s.Data = make([]float64, s.Width*s.Height)
	idx := make([]int, 3)
	idx[axis] = position
	for r := 0; r < s.Height; r++ {
		idx[rowAxis] = r
		for c := 0; c < s.Width; c++ {
			idx[colAxis] = c
			s.Data[r*s.Width+c] = v.vol.Data[v.vol.Index(idx)]
		}
	}
	return s, nil
}

// SelectSlice returns the index along the first axis to render: the middle
// slice, or with maxSlice the one holding the most strictly positive voxels.
// When no voxel is positive the middle slice is used.
func (v *Viewer) SelectSlice(maxSlice bool) int {
	n := v.vol.Size[0]
	middle := n / 2
	if !maxSlice || v.vol.Dims() != 3 {
		return middle
	}

	counts := make([]int, n)
	for i, val := range v.vol.Data {
		if val > 0 {
			counts[i%n]++
		}
	}
	best, bestCount := middle, 0
	for i, c := range counts {
		if c > bestCount {
			best, bestCount = i, c
		}
	}
	return best
}

// Thumbnail renders the selected slice as an 8-bit gray image: flipped along
// both plane axes, rescaled to 0-255 and shrunk to fit the options box
func (v *Viewer) Thumbnail(opts Options) (*image.Gray, error) {
	s, err := v.ExtractSlice(0, v.SelectSlice(opts.MaxSlice))
	if err != nil {
		return nil, err
	}
	img, err := toGray(flip(s))
	if err != nil {
		return nil, err
	}
	return fit(img, opts.Width, opts.Height), nil
}

// SaveThumbnail renders a thumbnail and writes it as PNG
func (v *Viewer) SaveThumbnail(filename string, opts Options) error {
	img, err := v.Thumbnail(opts)
	if err != nil {
		return err
	}
	return SaveSlice(img, filename)
}

// SaveSlice writes an image as PNG
func SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()
	return png.Encode(file, img)
}

func flip(s *models.Slice) *models.Slice {
	out := *s
	out.Data = make([]float64, len(s.Data))
	n := len(s.Data)
	for i, v := range s.Data {
		out.Data[n-1-i] = v
	}
	return &out
}

func toGray(s *models.Slice) (*image.Gray, error) {
	lo, hi := floats.Min(s.Data), floats.Max(s.Data)
	if hi == lo || math.IsNaN(hi-lo) {
		return nil, ErrConstantSlice
	}
	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	scale := 255 / (hi - lo)
	for r := 0; r < s.Height; r++ {
		for c := 0; c < s.Width; c++ {
			img.Pix[r*img.Stride+c] = uint8(math.Round((s.At(c, r) - lo) * scale))
		}
	}
	return img, nil
}

// fit shrinks img to fit inside a w x h box keeping its aspect ratio
func fit(img *image.Gray, w, h int) *image.Gray {
	b := img.Bounds()
	if w <= 0 || h <= 0 || (b.Dx() <= w && b.Dy() <= h) {
		return img
	}
	scale := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))

	dst := image.NewGray(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
