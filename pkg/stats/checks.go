package stats

import (
	"fmt"
	"io"
	"strings"

	"volaudit/pkg/observability"
)

// Check names used in logs and metrics
const (
	CheckDims   = "dims"
	CheckPixs   = "pixs"
	CheckDtypes = "dtypes"
)

const (
	passed = "[PASSED] "
	failed = "[FAILED] "
)

// indent lines up explanations under the verdict text
var indent = strings.Repeat(" ", len(passed))

// DimsCheck passes when every image has the same voxel grid size
func DimsCheck(w io.Writer, table *FrequencyTable, verbose bool) bool {
	const title = "Images dimensions check"
	if table.Len() == 0 {
		return noImages(w, title)
	}
	if table.Len() > 1 {
		fmt.Fprintln(w, failed+title)
		if verbose {
			explain(w,
				"Image dimensions do not match in between images",
				"We recommend resampling every image to the same image dimensions")
			breakdown(w, "Image Sizes Count:", table)
		}
		return false
	}
	only, _ := table.Only()
	fmt.Fprintln(w, passed+title)
	if verbose {
		explain(w, "Image Dimensions: "+only.Key)
	}
	return true
}

// PixCheck passes when every image has the same spacing and that spacing is
// isotropic
func PixCheck(w io.Writer, table *FrequencyTable, verbose bool) bool {
	const title = "Pixel dimensions check"
	const recommend = "We recommend resampling every image to the same pixel dimensions for every dimension (e.g. (1, 1, 1))"
	if table.Len() == 0 {
		return noImages(w, title)
	}
	if table.Len() > 1 {
		fmt.Fprintln(w, failed+title)
		if verbose {
			explain(w, "Pixel dimensions do not match in between images", recommend)
			breakdown(w, "Pixel Sizes Count:", table)
		}
		return false
	}
	only, _ := table.Only()
	for _, v := range only.Values {
		if v != only.Values[0] {
			fmt.Fprintln(w, failed+title)
			if verbose {
				explain(w, "Pixel dimensions do not match across dimensions", recommend)
				breakdown(w, "Pixel Sizes Count:", table)
			}
			return false
		}
	}
	fmt.Fprintln(w, passed+title)
	if verbose {
		explain(w, "Pixel Dimensions: "+only.Key)
	}
	return true
}

// DtypeCheck passes when every image has the same pixel type and, if expected
// is not empty, that type is expected
func DtypeCheck(w io.Writer, table *FrequencyTable, expected string, verbose bool) bool {
	const title = "Data Type check"
	if table.Len() == 0 {
		return noImages(w, title)
	}
	target := expected
	if target == "" {
		target = "a single data type"
	}
	if table.Len() > 1 {
		fmt.Fprintln(w, failed+title)
		if verbose {
			explain(w, "More than one data type", "We recommend resampling every image to "+target)
			breakdown(w, "Data Types Count:", table)
		}
		return false
	}
	only, _ := table.Only()
	if expected != "" && only.Key != expected {
		fmt.Fprintln(w, failed+title)
		if verbose {
			explain(w,
				"Sub-optimal data type. You might be using more memory than required storing your data "+
					"and subsequently increasing the loading time.",
				"We recommend resampling every image to "+expected)
			breakdown(w, "Data Types Count:", table)
		}
		return false
	}
	fmt.Fprintln(w, passed+title)
	if verbose {
		explain(w, "Data Type: "+only.Key)
	}
	return true
}

func noImages(w io.Writer, title string) bool {
	fmt.Fprintln(w, failed+title)
	explain(w, "no images to check")
	return false
}

func explain(w io.Writer, lines ...string) {
	for _, l := range lines {
		fmt.Fprintln(w, indent+l)
	}
}

func breakdown(w io.Writer, header string, table *FrequencyTable) {
	fmt.Fprintln(w, indent+header)
	for _, e := range table.Entries() {
		fmt.Fprintf(w, "%s%5d: %s\n", indent, e.Count, e.Key)
	}
}

// RunOptions selects the checks RunChecks performs
type RunOptions struct {
	Dims   bool
	Pixs   bool
	Dtypes bool

	ExpectedDtype string
	Verbose       bool
	Progress      bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Result holds the verdict of every check that ran
type Result struct {
	Stats   *Stats
	Verdict map[string]bool
}

// Passed reports whether every check that ran passed
func (r *Result) Passed() bool {
	for _, ok := range r.Verdict {
		if !ok {
			return false
		}
	}
	return true
}

// RunChecks collects stats over paths and reports the requested checks on w
func RunChecks(w io.Writer, paths []string, opts RunOptions) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	fmt.Fprintln(w, "Running Checks")
	s, err := CollectStats(paths, Options{
		Sizes:       opts.Dims,
		Spacings:    opts.Pixs,
		PixelTypes:  opts.Dtypes,
		Progress:    opts.Progress,
		Description: "Running Image and Pixel Dimension Checks",
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	res := &Result{Stats: s, Verdict: make(map[string]bool)}
	record := func(name string, table *FrequencyTable, ok bool) {
		res.Verdict[name] = ok
		logger.CheckFinished(name, ok, table.Len(), table.Total())
		opts.Metrics.RecordCheck(name, ok)
	}
	if opts.Dims {
		record(CheckDims, s.Sizes, DimsCheck(w, s.Sizes, opts.Verbose))
	}
	if opts.Pixs {
		record(CheckPixs, s.Spacings, PixCheck(w, s.Spacings, opts.Verbose))
	}
	if opts.Dtypes {
		record(CheckDtypes, s.PixelTypes, DtypeCheck(w, s.PixelTypes, opts.ExpectedDtype, opts.Verbose))
	}
	return res, nil
}
