package stats

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"volaudit/pkg/observability"
	"volaudit/pkg/volume"
)

// Options selects what CollectStats tabulates
type Options struct {
	Sizes      bool
	Spacings   bool
	PixelTypes bool

	// Progress renders a progress bar on ProgressWriter (stderr when nil)
	Progress       bool
	ProgressWriter io.Writer
	Description    string

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Stats holds one table per header field; tables that were not requested stay empty
type Stats struct {
	Sizes      *FrequencyTable
	Spacings   *FrequencyTable
	PixelTypes *FrequencyTable
}

// CollectStats reads the header of every path and counts the requested fields.
// Pixel data is never decoded. The first unreadable file aborts the pass.
func CollectStats(paths []string, opts Options) (*Stats, error) {
	s := &Stats{
		Sizes:      NewFrequencyTable(),
		Spacings:   NewFrequencyTable(),
		PixelTypes: NewFrequencyTable(),
	}
	if !(opts.Sizes || opts.Spacings || opts.PixelTypes) {
		return s, nil
	}

	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	out := opts.ProgressWriter
	if out == nil {
		out = os.Stderr
	}
	if !opts.Progress {
		out = io.Discard
	}
	desc := opts.Description
	if desc == "" {
		desc = "Getting Pixel Dimension Stats"
	}
	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
	)

	for _, path := range paths {
		img, err := volume.Load(path)
		if err != nil {
			return nil, fmt.Errorf("collecting stats: %w", err)
		}
		if opts.Sizes {
			s.Sizes.AddInts(img.Size())
		}
		if opts.Spacings {
			s.Spacings.Add(img.Spacing())
		}
		if opts.PixelTypes {
			s.PixelTypes.AddString(img.PixelType().String())
		}
		logger.ImageScanned(path, img.Size(), img.Spacing(), img.PixelType().String())
		opts.Metrics.RecordScan(img.Format().String())
		_ = bar.Add(1)
	}
	_ = bar.Finish()
	if opts.Progress {
		fmt.Fprintln(out)
	}
	return s, nil
}
