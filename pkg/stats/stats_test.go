package stats

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volaudit/internal/models"
	"volaudit/pkg/imageio"
	"volaudit/pkg/observability"
)

// createDataset writes one small NIfTI file per geometry and returns the paths
func createDataset(t *testing.T, sizes [][]int, spacings [][]float64, types []models.PixelType) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(sizes))
	for i := range sizes {
		vol := &models.Volume{
			Geometry: models.Geometry{
				Size:      sizes[i],
				Spacing:   spacings[i],
				Origin:    make([]float64, len(sizes[i])),
				Direction: models.Identity(len(sizes[i])),
			},
			PixelType: types[i],
		}
		vol.Data = make([]float64, vol.NumVoxels())
		paths[i] = filepath.Join(dir, fmt.Sprintf("img%02d.nii", i))
		require.NoError(t, imageio.WriteVolume(paths[i], vol))
	}
	return paths
}

func uniformDataset(t *testing.T, n int) []string {
	sizes := make([][]int, n)
	spacings := make([][]float64, n)
	types := make([]models.PixelType, n)
	for i := 0; i < n; i++ {
		sizes[i] = []int{4, 4, 4}
		spacings[i] = []float64{1, 1, 1}
		types[i] = models.PixelFloat32
	}
	return createDataset(t, sizes, spacings, types)
}

// TestFrequencyTable verifies counting and ordering
func TestFrequencyTable(t *testing.T) {
	table := NewFrequencyTable()
	table.AddInts([]int{256, 256, 128})
	table.AddInts([]int{256, 256, 128})
	table.AddInts([]int{512, 512, 64})
	table.AddInts([]int{256, 300, 1})

	assert.Equal(t, 3, table.Len())
	assert.Equal(t, 4, table.Total())
	assert.Equal(t, 2, table.Count("(256, 256, 128)"))
	assert.Equal(t, 0, table.Count("(1, 1, 1)"))

	var keys []string
	for _, e := range table.Entries() {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"(512, 512, 64)", "(256, 300, 1)", "(256, 256, 128)"}, keys)

	_, ok := table.Only()
	assert.False(t, ok)

	strs := NewFrequencyTable()
	strs.AddString("16-bit signed integer")
	strs.AddString("32-bit float")
	strs.AddString("16-bit signed integer")
	entries := strs.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "32-bit float", entries[0].Key)
	assert.Nil(t, entries[0].Values)
}

// TestFormatTuple verifies tuple rendering
func TestFormatTuple(t *testing.T) {
	assert.Equal(t, "(1, 0.5, 2.25)", FormatTuple([]float64{1, 0.5, 2.25}))
	assert.Equal(t, "()", FormatTuple(nil))
}

// TestUniformDatasetPasses verifies that identical images pass every check
func TestUniformDatasetPasses(t *testing.T) {
	paths := uniformDataset(t, 3)

	var out bytes.Buffer
	res, err := RunChecks(&out, paths, RunOptions{Dims: true, Pixs: true, Dtypes: true, Verbose: true})
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Len(t, res.Verdict, 3)

	report := out.String()
	assert.Contains(t, report, "Running Checks")
	assert.Contains(t, report, "[PASSED] Images dimensions check")
	assert.Contains(t, report, "[PASSED] Pixel dimensions check")
	assert.Contains(t, report, "[PASSED] Data Type check")
	assert.Contains(t, report, "         Image Dimensions: (4, 4, 4)")
	assert.NotContains(t, report, "[FAILED]")
}

// TestTwoSizesFail verifies the dims verdict and table for a mixed dataset
func TestTwoSizesFail(t *testing.T) {
	paths := createDataset(t,
		[][]int{{4, 4, 4}, {4, 4, 4}, {2, 3, 4}},
		[][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
		[]models.PixelType{models.PixelInt16, models.PixelInt16, models.PixelInt16})

	s, err := CollectStats(paths, Options{Sizes: true})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Sizes.Len())
	sum := 0
	for _, e := range s.Sizes.Entries() {
		sum += e.Count
	}
	assert.Equal(t, len(paths), sum)
	assert.Equal(t, 0, s.Spacings.Len())
	assert.Equal(t, 0, s.PixelTypes.Len())

	var out bytes.Buffer
	assert.False(t, DimsCheck(&out, s.Sizes, true))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "[FAILED] Images dimensions check", lines[0])
	assert.Equal(t, []string{
		"         Image Sizes Count:",
		"             2: (4, 4, 4)",
		"             1: (2, 3, 4)",
	}, lines[len(lines)-3:])
}

// TestPixCheckAnisotropic verifies that a single non-isotropic spacing fails
func TestPixCheckAnisotropic(t *testing.T) {
	table := NewFrequencyTable()
	table.Add([]float64{1, 1, 3})
	table.Add([]float64{1, 1, 3})

	var out bytes.Buffer
	assert.False(t, PixCheck(&out, table, true))
	assert.Contains(t, out.String(), "do not match across dimensions")

	out.Reset()
	iso := NewFrequencyTable()
	iso.Add([]float64{0.8, 0.8, 0.8})
	assert.True(t, PixCheck(&out, iso, false))
	assert.Equal(t, "[PASSED] Pixel dimensions check\n", out.String())
}

// TestDtypeCheckExpected verifies the expected type branch
func TestDtypeCheckExpected(t *testing.T) {
	table := NewFrequencyTable()
	table.AddString(models.PixelFloat64.String())

	var out bytes.Buffer
	assert.True(t, DtypeCheck(&out, table, "", true))

	out.Reset()
	assert.False(t, DtypeCheck(&out, table, models.PixelFloat32.String(), true))
	assert.Contains(t, out.String(), "Sub-optimal data type")
	assert.Contains(t, out.String(), "We recommend resampling every image to 32-bit float")

	table.AddString(models.PixelUint8.String())
	out.Reset()
	assert.False(t, DtypeCheck(&out, table, "", false))
	assert.Equal(t, "[FAILED] Data Type check\n", out.String())
}

// TestEmptyTablesFail verifies that an empty dataset never passes
func TestEmptyTablesFail(t *testing.T) {
	empty := NewFrequencyTable()
	var out bytes.Buffer
	assert.False(t, DimsCheck(&out, empty, false))
	assert.False(t, PixCheck(&out, empty, false))
	assert.False(t, DtypeCheck(&out, empty, "", false))
	assert.Equal(t, 3, strings.Count(out.String(), "no images"))
}

// TestCollectStatsErrors verifies that an unreadable file aborts the pass
func TestCollectStatsErrors(t *testing.T) {
	paths := uniformDataset(t, 2)
	missing := filepath.Join(t.TempDir(), "gone.nii")
	paths = append(paths, missing)

	_, err := CollectStats(paths, Options{Sizes: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), missing)

	// nothing requested, nothing read
	s, err := CollectStats([]string{missing}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Sizes.Total())
}

// TestRunChecksMetrics verifies that verdicts and scans are counted
func TestRunChecksMetrics(t *testing.T) {
	paths := uniformDataset(t, 2)
	metrics := observability.NewMetrics()
	var logs bytes.Buffer

	var out bytes.Buffer
	res, err := RunChecks(&out, paths, RunOptions{
		Dims:          true,
		Dtypes:        true,
		ExpectedDtype: models.PixelUint8.String(),
		Progress:      false,
		Logger:        observability.NewLogger("volaudit", "test", &logs),
		Metrics:       metrics,
	})
	require.NoError(t, err)
	assert.False(t, res.Passed())
	assert.True(t, res.Verdict[CheckDims])
	assert.False(t, res.Verdict[CheckDtypes])
	_, ran := res.Verdict[CheckPixs]
	assert.False(t, ran)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ImagesScannedTotal.WithLabelValues("nifti")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CheckResultsTotal.WithLabelValues(CheckDtypes, "failed")))
	assert.Contains(t, logs.String(), `"check":"dims"`)
}
