package batch

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volaudit/internal/fixtures"
	"volaudit/internal/models"
	"volaudit/pkg/imageio"
	"volaudit/pkg/observability"
	"volaudit/pkg/volume"
)

func writeTestImage(t *testing.T, path string, size []int, spacing []float64) {
	t.Helper()
	vol := &models.Volume{
		Geometry: models.Geometry{
			Size:      size,
			Spacing:   spacing,
			Origin:    make([]float64, len(size)),
			Direction: models.Identity(len(size)),
		},
		PixelType: models.PixelUint8,
	}
	vol.Data = make([]float64, vol.NumVoxels())
	for i := range vol.Data {
		vol.Data[i] = float64(i % 251)
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, imageio.WriteVolume(path, vol))
}

// TestOutputName verifies suffix insertion before compound extensions
func TestOutputName(t *testing.T) {
	assert.Equal(t, "data/brain_rs.nii.gz", filepath.ToSlash(OutputName("data/brain.nii.gz", "_rs", "")))
	assert.Equal(t, "out/brain_rs.nii.gz", filepath.ToSlash(OutputName("data/brain.nii.gz", "_rs", "out")))
	assert.Equal(t, "data/brain.nii", filepath.ToSlash(OutputName("data/brain.nii", "", "")))
	assert.Equal(t, "thumbs/brain.png", filepath.ToSlash(ThumbnailName("data/brain.nii.gz", "thumbs")))
	assert.Equal(t, "scans/slice_rs.nii.gz", filepath.ToSlash(OutputName("scans/slice.dcm", "_rs", "")))
	assert.Equal(t, "out/slice.nii.gz", filepath.ToSlash(OutputName("scans/slice.dcm", "", "out")))
}

// TestResampleImages verifies outputs, thumbnails, manifest and metrics
func TestResampleImages(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		filepath.Join(dir, "in", "a.nii.gz"),
		filepath.Join(dir, "in", "b.nii"),
	}
	writeTestImage(t, inputs[0], []int{8, 8, 8}, []float64{1, 1, 1})
	writeTestImage(t, inputs[1], []int{6, 6, 4}, []float64{2, 2, 3})

	metrics := observability.NewMetrics()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	m, err := ResampleImages(inputs, Options{
		Spacing:          []float64{2, 2, 2},
		Suffix:           "_rs",
		SaveFolder:       filepath.Join(dir, "out"),
		ThumbnailsFolder: filepath.Join(dir, "thumbs"),
		ManifestPath:     manifestPath,
		RunID:            "run-42",
		Metrics:          metrics,
	})
	require.NoError(t, err)
	require.Len(t, m.Images, 2)

	a, err := volume.Load(filepath.Join(dir, "out", "a_rs.nii.gz"))
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 4}, a.Size())
	assert.Equal(t, models.PixelUint8, a.PixelType())

	b, err := volume.Load(filepath.Join(dir, "out", "b_rs.nii"))
	require.NoError(t, err)
	assert.Equal(t, []int{6, 6, 6}, b.Size())

	for _, name := range []string{"a.png", "b.png"} {
		_, err := os.Stat(filepath.Join(dir, "thumbs", name))
		assert.NoError(t, err)
	}

	// inputs are left alone
	orig, err := volume.Load(inputs[0])
	require.NoError(t, err)
	assert.Equal(t, []int{8, 8, 8}, orig.Size())

	loaded, err := LoadManifest(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, "run-42", loaded.RunID)
	require.Len(t, loaded.Images, 2)
	assert.Equal(t, inputs[1], loaded.Images[1].Input)
	assert.Equal(t, []int{6, 6, 6}, loaded.Images[1].Geometry.Size)
	assert.Len(t, loaded.Images[0].BLAKE3, 64)
	require.NoError(t, loaded.Verify())

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ImagesResampledTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ThumbnailsWrittenTotal))
	assert.Equal(t, float64(m.Images[0].Bytes+m.Images[1].Bytes), testutil.ToFloat64(metrics.BytesWrittenTotal))
}

// TestResampleImagesReference verifies that every input takes the reference grid
func TestResampleImagesReference(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "ref.nii")
	in := filepath.Join(dir, "x.nii")
	writeTestImage(t, ref, []int{5, 7, 3}, []float64{1.5, 1, 2})
	writeTestImage(t, in, []int{8, 8, 8}, []float64{1, 1, 1})

	m, err := ResampleImages([]string{in}, Options{Reference: ref, Suffix: "_ref"})
	require.NoError(t, err)
	assert.Equal(t, ref, m.Reference)
	assert.Equal(t, filepath.Join(dir, "x_ref.nii"), m.Images[0].Output)

	out, err := volume.Load(m.Images[0].Output)
	require.NoError(t, err)
	refImg, err := volume.Load(ref)
	require.NoError(t, err)
	assert.True(t, refImg.Geometry().Equal(out.Geometry(), 1e-6))
}

// TestResampleImagesAborts verifies that the first failure stops the batch
func TestResampleImagesAborts(t *testing.T) {
	_, err := ResampleImages(nil, Options{})
	assert.ErrorIs(t, err, ErrNoInputs)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.nii")
	writeTestImage(t, good, []int{4, 4, 4}, []float64{1, 1, 1})
	missing := filepath.Join(dir, "missing.nii")
	last := filepath.Join(dir, "last.nii")
	writeTestImage(t, last, []int{4, 4, 4}, []float64{1, 1, 1})

	_, err = ResampleImages([]string{good, missing, last}, Options{Suffix: "_rs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), missing)

	_, err = os.Stat(filepath.Join(dir, "good_rs.nii"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "last_rs.nii"))
	assert.True(t, os.IsNotExist(err))

	_, err = ResampleImages([]string{good}, Options{Reference: missing})
	assert.Error(t, err)
}

// TestManifestVerifyDetectsChange verifies digest checking
func TestManifestVerifyDetectsChange(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.nii")
	writeTestImage(t, in, []int{4, 4, 4}, []float64{1, 1, 1})

	m, err := ResampleImages([]string{in}, Options{Suffix: "_rs"})
	require.NoError(t, err)
	require.NoError(t, m.Verify())

	require.NoError(t, os.WriteFile(m.Images[0].Output, []byte("tampered"), 0644))
	assert.Error(t, m.Verify())
}

// TestResampleImagesRefusesOverwrite verifies that no output may replace its input
func TestResampleImagesRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "brain.nii")
	writeTestImage(t, in, []int{8, 8, 8}, []float64{1, 1, 1})
	before, err := os.ReadFile(in)
	require.NoError(t, err)

	_, err = ResampleImages([]string{in}, Options{Spacing: []float64{2, 2, 2}})
	assert.ErrorIs(t, err, ErrOverwritesInput)

	_, err = ResampleImages([]string{in}, Options{Spacing: []float64{2, 2, 2}, SaveFolder: dir + string(filepath.Separator)})
	assert.ErrorIs(t, err, ErrOverwritesInput)

	after, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// a folder elsewhere needs no suffix
	m, err := ResampleImages([]string{in}, Options{Spacing: []float64{2, 2, 2}, SaveFolder: filepath.Join(dir, "out")})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out", "brain.nii"), m.Images[0].Output)
}

// TestResampleImagesDICOM verifies that DICOM inputs are resampled into NIfTI files
func TestResampleImagesDICOM(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "slice.dcm")
	values := make([]int, 20)
	for i := range values {
		values[i] = 100 * i
	}
	require.NoError(t, fixtures.WriteDICOM(in, fixtures.DICOM{
		Rows:           4,
		Columns:        5,
		Frames:         [][]int{values},
		BitsAllocated:  16,
		PixelSpacing:   [2]float64{0.5, 0.5},
		SliceThickness: 2,
		Position:       []float64{1, 2, 3},
		Orientation:    []float64{1, 0, 0, 0, 1, 0},
	}))

	thumbs := filepath.Join(dir, "thumbs")
	m, err := ResampleImages([]string{in}, Options{
		Spacing:          []float64{1, 1, 2},
		Suffix:           "_rs",
		ThumbnailsFolder: thumbs,
	})
	require.NoError(t, err)
	require.Len(t, m.Images, 1)
	assert.Equal(t, filepath.Join(dir, "slice_rs.nii.gz"), m.Images[0].Output)
	assert.Equal(t, filepath.Join(thumbs, "slice.png"), m.Images[0].Thumbnail)

	out, err := volume.Load(m.Images[0].Output)
	require.NoError(t, err)
	assert.Equal(t, imageio.FormatNIfTIGzip, out.Format())
	assert.Equal(t, []int{3, 2, 1}, out.Size())
	assert.Equal(t, models.PixelUint16, out.PixelType())
	assert.InDeltaSlice(t, []float64{1, 2, 3}, out.Origin(), 1e-5)
	assert.InDeltaSlice(t, []float64{1, 1, 2}, out.Spacing(), 1e-6)
	require.NoError(t, m.Verify())
}

// TestResampleImagesConstantThumbnail verifies that a featureless image only
// skips its thumbnail
func TestResampleImagesConstantThumbnail(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "blank.nii")
	vol := &models.Volume{
		Geometry: models.Geometry{
			Size:      []int{4, 4, 4},
			Spacing:   []float64{1, 1, 1},
			Origin:    []float64{0, 0, 0},
			Direction: models.Identity(3),
		},
		PixelType: models.PixelUint8,
		Data:      make([]float64, 64),
	}
	require.NoError(t, imageio.WriteVolume(in, vol))

	var logs bytes.Buffer
	metrics := observability.NewMetrics()
	m, err := ResampleImages([]string{in}, Options{
		Suffix:           "_rs",
		ThumbnailsFolder: filepath.Join(dir, "thumbs"),
		Logger:           observability.NewLogger("volaudit", "test", &logs),
		Metrics:          metrics,
	})
	require.NoError(t, err)
	assert.Empty(t, m.Images[0].Thumbnail)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ThumbnailsWrittenTotal))
	assert.Contains(t, logs.String(), "thumbnail skipped")
	assert.Contains(t, logs.String(), `"image":"`+in+`"`)
}

// TestResampleImagesProgress verifies the per-image progress bar and fill value
func TestResampleImagesProgress(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "a.nii")
	writeTestImage(t, in, []int{4, 4, 4}, []float64{1, 1, 1})

	var bar bytes.Buffer
	m, err := ResampleImages([]string{in}, Options{
		Origin:         []float64{100, 100, 100},
		DefaultValue:   9,
		Suffix:         "_rs",
		Progress:       true,
		ProgressWriter: &bar,
	})
	require.NoError(t, err)
	assert.Contains(t, bar.String(), "Resampling a.nii")

	out, err := imageio.ReadVolume(m.Images[0].Output)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, 9.0, v)
	}
}
