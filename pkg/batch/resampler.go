// Package batch resamples a list of images onto one common grid.
package batch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"volaudit/pkg/imageio"
	"volaudit/pkg/interpolation"
	"volaudit/pkg/observability"
	"volaudit/pkg/visualization"
	"volaudit/pkg/volume"
)

var (
	// ErrNoInputs is returned when the batch has nothing to process
	ErrNoInputs = errors.New("no input images")

	// ErrOverwritesInput is returned when an output name resolves to its own input
	ErrOverwritesInput = errors.New("output would overwrite its input")
)

// fallbackExtension is used for inputs whose format cannot be written
const fallbackExtension = "nii.gz"

// Options describes the target grid and where results go
type Options struct {
	// Reference is an image whose full geometry every input is resampled onto
	Reference string

	Origin    []float64
	Spacing   []float64
	Direction []float64
	Size      []int
	Standard  bool

	RescaleOrigin bool
	Workers       int
	DefaultValue  float64

	// Suffix is inserted between the file stem and its extension
	Suffix string

	// SaveFolder receives the outputs; empty writes next to each input
	SaveFolder string

	// ThumbnailsFolder receives <stem>.png previews of the inputs; empty disables them
	ThumbnailsFolder string
	Thumbnail        visualization.Options

	// ManifestPath is an optional YAML record of the run
	ManifestPath string
	RunID        string

	// Progress renders one bar per image on ProgressWriter (stderr when nil)
	Progress       bool
	ProgressWriter io.Writer

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// OutputName derives the resampled file name: brain.nii.gz with suffix _rs
// becomes brain_rs.nii.gz, placed in saveFolder when set. Inputs in a format
// that cannot be written, such as DICOM, get a .nii.gz output.
func OutputName(path, suffix, saveFolder string) string {
	stem, ext := imageio.SplitExtension(path)
	if saveFolder != "" {
		stem = filepath.Join(saveFolder, filepath.Base(stem))
	}
	if !imageio.DetectFormat(path).Writable() {
		ext = fallbackExtension
	}
	return stem + suffix + "." + ext
}

// ThumbnailName derives the thumbnail path of an input image
func ThumbnailName(path, folder string) string {
	stem, _ := imageio.SplitExtension(path)
	return filepath.Join(folder, filepath.Base(stem)+".png")
}

// ResampleImages resamples every path in order. The first failure stops the batch.
func ResampleImages(paths []string, opts Options) (*Manifest, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}

	for _, path := range paths {
		if filepath.Clean(OutputName(path, opts.Suffix, opts.SaveFolder)) == filepath.Clean(path) {
			return nil, fmt.Errorf("%s: %w; set a suffix or an output folder", path, ErrOverwritesInput)
		}
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithRun(runID)

	thumbOpts := opts.Thumbnail
	if thumbOpts.Width == 0 && thumbOpts.Height == 0 {
		def := visualization.DefaultOptions()
		thumbOpts.Width, thumbOpts.Height = def.Width, def.Height
	}

	for _, dir := range []string{opts.SaveFolder, opts.ThumbnailsFolder} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	var ref *volume.Image
	if opts.Reference != "" {
		var err error
		if ref, err = volume.Load(opts.Reference); err != nil {
			return nil, fmt.Errorf("loading reference: %w", err)
		}
	}

	manifest := &Manifest{
		RunID:     runID,
		Created:   time.Now().UTC(),
		Reference: opts.Reference,
	}

	for _, path := range paths {
		entry, err := resampleOne(path, ref, thumbOpts, opts, logger)
		if err != nil {
			return nil, fmt.Errorf("resampling %s: %w", path, err)
		}
		manifest.Images = append(manifest.Images, *entry)
	}

	if opts.ManifestPath != "" {
		if err := manifest.Save(opts.ManifestPath); err != nil {
			return nil, err
		}
		logger.Info("manifest written to " + opts.ManifestPath)
	}
	return manifest, nil
}

func resampleOne(path string, ref *volume.Image, thumbOpts visualization.Options, opts Options, logger *observability.Logger) (*ManifestEntry, error) {
	img, err := volume.Load(path)
	if err != nil {
		return nil, err
	}
	log := logger.WithImage(path)

	output := OutputName(path, opts.Suffix, opts.SaveFolder)
	progress, finish := slabProgress(path, opts)
	start := time.Now()
	vol, err := img.Resample(volume.ResampleOptions{
		Reference:     ref,
		Origin:        opts.Origin,
		Spacing:       opts.Spacing,
		Direction:     opts.Direction,
		Size:          opts.Size,
		Standard:      opts.Standard,
		RescaleOrigin: opts.RescaleOrigin,
		Workers:       opts.Workers,
		DefaultValue:  opts.DefaultValue,
		Progress:      progress,
		Save:          true,
		Filename:      output,
		Copy:          true,
	})
	finish()
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	info, err := os.Stat(output)
	if err != nil {
		return nil, err
	}
	opts.Metrics.RecordResample(info.Size(), elapsed)
	log.ImageResampled(output, vol.Size, vol.Spacing, info.Size(), elapsed)

	digest, err := fileDigest(output)
	if err != nil {
		return nil, err
	}
	entry := &ManifestEntry{
		Input:     path,
		Output:    output,
		Geometry:  vol.Geometry.Clone(),
		PixelType: vol.PixelType.String(),
		Bytes:     info.Size(),
		BLAKE3:    digest,
	}

	if opts.ThumbnailsFolder != "" {
		thumb := ThumbnailName(path, opts.ThumbnailsFolder)
		err := img.SaveThumbnail(thumb, thumbOpts)
		switch {
		case errors.Is(err, visualization.ErrConstantSlice):
			log.Warn("thumbnail skipped: selected slice has constant intensity")
		case err != nil:
			return nil, err
		default:
			opts.Metrics.RecordThumbnail()
			log.ThumbnailWritten(thumb)
			entry.Thumbnail = thumb
		}
	}
	return entry, nil
}

// slabProgress returns a resample progress callback drawing a bar for one
// image, and a function that completes the bar
func slabProgress(path string, opts Options) (interpolation.ProgressCallback, func()) {
	if !opts.Progress {
		return nil, func() {}
	}
	out := opts.ProgressWriter
	if out == nil {
		out = os.Stderr
	}
	// the resampler serialises callbacks
	var bar *progressbar.ProgressBar
	cb := func(completed, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Resampling "+filepath.Base(path)),
				progressbar.OptionSetWriter(out),
				progressbar.OptionShowCount(),
			)
		}
		_ = bar.Set(completed)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(out)
		}
	}
	return cb, finish
}
