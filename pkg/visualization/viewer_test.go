package visualization

import (
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volaudit/internal/models"
)

// createTestVolume builds a volume whose voxel value is x + 10*y + 100*z
func createTestVolume(nx, ny, nz int) *models.Volume {
	vol := &models.Volume{
		Geometry: models.Geometry{
			Size:      []int{nx, ny, nz},
			Spacing:   []float64{1, 1, 1},
			Origin:    []float64{0, 0, 0},
			Direction: models.Identity(3),
		},
		PixelType: models.PixelFloat32,
		Data:      make([]float64, nx*ny*nz),
	}
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				vol.Data[vol.Index([]int{x, y, z})] = float64(x + 10*y + 100*z)
			}
		}
	}
	return vol
}

// TestExtractSlice verifies plane layout for each axis
func TestExtractSlice(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(4, 3, 2))
	require.NoError(t, err)

	s, err := viewer.ExtractSlice(0, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Width)
	assert.Equal(t, 2, s.Height)
	// column is y, row is z
	assert.Equal(t, 1.0+20+100, s.At(2, 1))

	s, err = viewer.ExtractSlice(2, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Width)
	assert.Equal(t, 3, s.Height)
	assert.Equal(t, 3.0+10+100, s.At(3, 1))

	_, err = viewer.ExtractSlice(0, 4)
	assert.Error(t, err)
	_, err = viewer.ExtractSlice(3, 0)
	assert.Error(t, err)
}

// TestSelectSlice verifies middle and max-foreground slice selection
func TestSelectSlice(t *testing.T) {
	vol := createTestVolume(5, 2, 2)
	for i := range vol.Data {
		vol.Data[i] = 0
	}
	viewer, err := NewViewer(vol)
	require.NoError(t, err)

	assert.Equal(t, 2, viewer.SelectSlice(false))
	// nothing positive, fall back to the middle
	assert.Equal(t, 2, viewer.SelectSlice(true))

	vol.Data[vol.Index([]int{4, 0, 0})] = 1
	vol.Data[vol.Index([]int{4, 1, 1})] = 1
	vol.Data[vol.Index([]int{1, 1, 0})] = 3
	assert.Equal(t, 4, viewer.SelectSlice(true))
}

// TestThumbnailFlipAndRescale verifies orientation and intensity mapping
func TestThumbnailFlipAndRescale(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(3, 2, 2))
	require.NoError(t, err)

	img, err := viewer.Thumbnail(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	// slice x=1 holds 1, 11 / 101, 111; after flipping the top left is the max
	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(1, 1).Y)
	assert.Equal(t, uint8(232), img.GrayAt(1, 0).Y)
}

// TestThumbnailDownscale verifies that large slices shrink with their aspect ratio
func TestThumbnailDownscale(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(2, 64, 32))
	require.NoError(t, err)

	img, err := viewer.Thumbnail(Options{Width: 16, Height: 16})
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy())

	// never upscaled
	img, err = viewer.Thumbnail(Options{Width: 512, Height: 512})
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 32, img.Bounds().Dy())
}

// TestThumbnailConstantSlice verifies that flat slices are reported
func TestThumbnailConstantSlice(t *testing.T) {
	vol := createTestVolume(3, 3, 3)
	for i := range vol.Data {
		vol.Data[i] = 7
	}
	viewer, err := NewViewer(vol)
	require.NoError(t, err)

	_, err = viewer.Thumbnail(DefaultOptions())
	assert.ErrorIs(t, err, ErrConstantSlice)
}

// TestThumbnail2D verifies that 2D images are rendered whole
func TestThumbnail2D(t *testing.T) {
	vol := &models.Volume{
		Geometry: models.Geometry{
			Size:      []int{4, 2},
			Spacing:   []float64{1, 1},
			Origin:    []float64{0, 0},
			Direction: models.Identity(2),
		},
		PixelType: models.PixelUint8,
		Data:      []float64{0, 1, 2, 3, 4, 5, 6, 7},
	}
	viewer, err := NewViewer(vol)
	require.NoError(t, err)

	img, err := viewer.Thumbnail(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())
	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
}

// TestSaveThumbnail verifies that a decodable PNG is written
func TestSaveThumbnail(t *testing.T) {
	viewer, err := NewViewer(createTestVolume(4, 6, 5))
	require.NoError(t, err)

	filename := filepath.Join(t.TempDir(), "thumb.png")
	require.NoError(t, viewer.SaveThumbnail(filename, DefaultOptions()))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

// TestNewViewerRejects4D verifies the dimensionality guard
func TestNewViewerRejects4D(t *testing.T) {
	vol := &models.Volume{
		Geometry: models.Geometry{
			Size:      []int{1, 1, 1, 1},
			Spacing:   []float64{1, 1, 1, 1},
			Origin:    []float64{0, 0, 0, 0},
			Direction: models.Identity(4),
		},
		Data: []float64{0},
	}
	_, err := NewViewer(vol)
	assert.Error(t, err)
}
