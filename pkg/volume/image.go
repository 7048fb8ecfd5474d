// Package volume provides Image, a lazily decoded handle on one volume file.
package volume

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"volaudit/internal/models"
	"volaudit/pkg/imageio"
	"volaudit/pkg/interpolation"
	"volaudit/pkg/visualization"
)

var (
	// ErrMissingFilename is returned when a save is requested without a destination
	ErrMissingFilename = errors.New("no output filename given")

	// ErrGeometryMismatch is returned when requested geometry components do not
	// agree with the image dimensionality
	ErrGeometryMismatch = errors.New("geometry does not match image dimensions")
)

// Image is a handle on a volume file. The header is read when the handle is
// created; pixel data is decoded on first use and then cached.
type Image struct {
	path   string
	header imageio.Header

	// mu guards the fields a non-copy Resample replaces
	mu  sync.RWMutex
	vol *models.Volume
}

// Load reads the header of the image at path
func Load(path string) (*Image, error) {
	hdr, err := imageio.ReadHeader(path)
	if err != nil {
		return nil, err
	}
	return &Image{path: path, header: *hdr}, nil
}

// Open decodes the pixel data, once
func (img *Image) Open() (*models.Volume, error) {
	img.mu.Lock()
	defer img.mu.Unlock()
	if img.vol != nil {
		return img.vol, nil
	}
	vol, err := imageio.ReadVolume(img.path)
	if err != nil {
		return nil, err
	}
	img.vol = vol
	return vol, nil
}

// head returns the current header; its slices are replaced, never mutated
func (img *Image) head() imageio.Header {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.header
}

// Path returns the file the handle reads from
func (img *Image) Path() string {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.path
}

// Format returns the on-disk format
func (img *Image) Format() imageio.Format { return img.head().Format }

// Geometry returns a copy of the image geometry
func (img *Image) Geometry() models.Geometry { return img.head().Geometry.Clone() }

// Size returns the number of voxels along each axis
func (img *Image) Size() []int { return append([]int(nil), img.head().Geometry.Size...) }

// Spacing returns the pixel dimensions in mm
func (img *Image) Spacing() []float64 {
	return append([]float64(nil), img.head().Geometry.Spacing...)
}

// Origin returns the physical position of the first voxel
func (img *Image) Origin() []float64 {
	return append([]float64(nil), img.head().Geometry.Origin...)
}

// Direction returns the row-major direction cosine matrix
func (img *Image) Direction() []float64 {
	return append([]float64(nil), img.head().Geometry.Direction...)
}

// PixelType returns the stored scalar type
func (img *Image) PixelType() models.PixelType { return img.head().PixelType }

// NumDims returns the number of dimensions
func (img *Image) NumDims() int { return img.head().Geometry.Dims() }

// ResampleOptions selects the output grid of Image.Resample. Reference wins over
// every other geometry field; unset fields fall back to the standard grid when
// Standard is true and to the image's own values otherwise.
type ResampleOptions struct {
	Reference *Image
	Origin    []float64
	Spacing   []float64
	Direction []float64
	Size      []int
	Standard  bool

	// RescaleOrigin defaults the origin to NewOrigin(origin, spacing, oldSpacing)
	// instead of keeping it
	RescaleOrigin bool

	Save     bool
	Filename string

	// Copy leaves the handle untouched; otherwise it takes over the result
	Copy bool

	Workers int

	// DefaultValue fills output voxels that fall outside the image
	DefaultValue float64

	Progress interpolation.ProgressCallback
}

// TargetGeometry resolves the output grid without touching pixel data
func (img *Image) TargetGeometry(opts ResampleOptions) (models.Geometry, error) {
	d := img.NumDims()
	if opts.Reference != nil {
		ref := opts.Reference.Geometry()
		if ref.Dims() != d {
			return models.Geometry{}, fmt.Errorf("%w: reference is %dD, image is %dD", ErrGeometryMismatch, ref.Dims(), d)
		}
		return ref, nil
	}

	if err := checkLen("spacing", len(opts.Spacing), d); err != nil {
		return models.Geometry{}, err
	}
	if err := checkLen("origin", len(opts.Origin), d); err != nil {
		return models.Geometry{}, err
	}
	if err := checkLen("size", len(opts.Size), d); err != nil {
		return models.Geometry{}, err
	}
	if err := checkLen("direction", len(opts.Direction), d*d); err != nil {
		return models.Geometry{}, err
	}

	var g models.Geometry
	switch {
	case len(opts.Spacing) > 0:
		g.Spacing = append([]float64(nil), opts.Spacing...)
	case opts.Standard:
		g.Spacing = ones(d)
	default:
		g.Spacing = img.Spacing()
	}

	switch {
	case len(opts.Origin) > 0:
		g.Origin = append([]float64(nil), opts.Origin...)
	case opts.Standard:
		g.Origin = make([]float64, d)
	case opts.RescaleOrigin:
		g.Origin = NewOrigin(img.Origin(), g.Spacing, img.Spacing())
	default:
		g.Origin = img.Origin()
	}

	switch {
	case len(opts.Direction) > 0:
		g.Direction = append([]float64(nil), opts.Direction...)
	case opts.Standard:
		g.Direction = models.Identity(d)
	default:
		g.Direction = img.Direction()
	}

	if len(opts.Size) > 0 {
		g.Size = append([]int(nil), opts.Size...)
	} else {
		g.Size = NewSize(img.Size(), g.Spacing, img.Spacing())
	}

	if err := g.Validate(); err != nil {
		return models.Geometry{}, fmt.Errorf("%w: %v", ErrGeometryMismatch, err)
	}
	return g, nil
}

// Resample linearly interpolates the image onto the grid chosen by opts,
// optionally saving the result and adopting it into the handle
func (img *Image) Resample(opts ResampleOptions) (*models.Volume, error) {
	if opts.Save && opts.Filename == "" {
		return nil, ErrMissingFilename
	}
	target, err := img.TargetGeometry(opts)
	if err != nil {
		return nil, err
	}
	src, err := img.Open()
	if err != nil {
		return nil, err
	}

	out, err := interpolation.Resample(context.Background(), src, target, interpolation.Options{
		Workers:      opts.Workers,
		DefaultValue: opts.DefaultValue,
		Progress:     opts.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("resampling %s: %w", img.Path(), err)
	}

	if opts.Save {
		if err := imageio.WriteVolume(opts.Filename, out); err != nil {
			return nil, err
		}
	}

	if !opts.Copy {
		img.mu.Lock()
		img.vol = out
		img.header.Geometry = out.Geometry.Clone()
		img.header.PixelType = out.PixelType
		if opts.Save {
			img.path = opts.Filename
			img.header.Format = imageio.DetectFormat(opts.Filename)
		}
		img.mu.Unlock()
	}
	return out, nil
}

// Save writes the current pixel buffer, decoding it first if needed
func (img *Image) Save(filename string) error {
	if filename == "" {
		return ErrMissingFilename
	}
	vol, err := img.Open()
	if err != nil {
		return err
	}
	return imageio.WriteVolume(filename, vol)
}

// SaveThumbnail writes a PNG preview of the image
func (img *Image) SaveThumbnail(filename string, opts visualization.Options) error {
	if filename == "" {
		return ErrMissingFilename
	}
	vol, err := img.Open()
	if err != nil {
		return err
	}
	viewer, err := visualization.NewViewer(vol)
	if err != nil {
		return fmt.Errorf("thumbnail of %s: %w", img.Path(), err)
	}
	if err := viewer.SaveThumbnail(filename, opts); err != nil {
		return fmt.Errorf("thumbnail of %s: %w", img.Path(), err)
	}
	return nil
}

// NewSize returns the voxel counts that keep the physical extent when the
// spacing changes from oldSpacing to newSpacing
func NewSize(size []int, newSpacing, oldSpacing []float64) []int {
	out := make([]int, len(size))
	for i, n := range size {
		out[i] = int(math.Round(float64(n) * oldSpacing[i] / newSpacing[i]))
		if out[i] < 1 {
			out[i] = 1
		}
	}
	return out
}

// NewOrigin scales an origin by the spacing ratio newSpacing/oldSpacing
func NewOrigin(origin, newSpacing, oldSpacing []float64) []float64 {
	out := make([]float64, len(origin))
	for i, o := range origin {
		out[i] = o * newSpacing[i] / oldSpacing[i]
	}
	return out
}

func checkLen(name string, got, want int) error {
	if got != 0 && got != want {
		return fmt.Errorf("%w: %s has %d components, expected %d", ErrGeometryMismatch, name, got, want)
	}
	return nil
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
