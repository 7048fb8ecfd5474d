package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/google/uuid"

	"volaudit/pkg/batch"
	"volaudit/pkg/config"
	"volaudit/pkg/observability"
	"volaudit/pkg/stats"
	"volaudit/pkg/visualization"
)

const defaultConfigPath = "volaudit.yaml"

func runCheck(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Configuration file (defaults apply when missing)")
	dims := fs.Bool("dims", false, "Check that all images share one grid size")
	pixs := fs.Bool("pixs", false, "Check that all images share one isotropic spacing")
	dtypes := fs.Bool("dtypes", false, "Check that all images share one data type")
	expected := fs.String("expected-dtype", "", `Data type the dtype check requires, e.g. "32-bit float"`)
	quiet := fs.Bool("quiet", false, "Print verdicts only, without breakdowns")
	noProgress := fs.Bool("no-progress", false, "Hide the progress bar")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: volaudit check [flags] <glob>...")
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	set := explicitFlags(fs)
	// naming any check on the command line selects exactly those checks
	if set["dims"] || set["pixs"] || set["dtypes"] {
		cfg.Checks.Dims, cfg.Checks.Pixs, cfg.Checks.Dtypes = *dims, *pixs, *dtypes
	}
	if set["expected-dtype"] {
		cfg.Checks.ExpectedDtype = *expected
	}
	if *quiet {
		cfg.Checks.Verbose = false
	}
	if *noProgress {
		cfg.Output.Progress = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	logger = logger.WithRun(uuid.NewString())
	paths, err := expandGlobs(fs.Args())
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("checking %d images", len(paths)))

	metrics := observability.NewMetrics()
	defer writeMetrics(cfg, metrics, logger)

	res, err := stats.RunChecks(stdout, paths, stats.RunOptions{
		Dims:          cfg.Checks.Dims,
		Pixs:          cfg.Checks.Pixs,
		Dtypes:        cfg.Checks.Dtypes,
		ExpectedDtype: cfg.Checks.ExpectedDtype,
		Verbose:       cfg.Checks.Verbose,
		Progress:      cfg.Output.Progress,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}
	if !res.Passed() {
		return errChecksFailed
	}
	return nil
}

func runResample(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("resample", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", defaultConfigPath, "Configuration file (defaults apply when missing)")
	ref := fs.String("ref", "", "Reference image whose geometry every input is resampled onto")
	standard := fs.Bool("standard", false, "Use 1mm spacing, zero origin and identity direction for unset values")
	var spacing, origin, direction floatList
	var size intList
	fs.Var(&spacing, "spacing", "Output spacing, e.g. 1,1,1")
	fs.Var(&size, "size", "Output size, e.g. 256,256,128")
	fs.Var(&origin, "origin", "Output origin, e.g. 0,0,0")
	fs.Var(&direction, "direction", "Output direction cosines, row-major")
	suffix := fs.String("suffix", "", `Suffix inserted before the extension of output files (default from config, "_resampled")`)
	out := fs.String("out", "", "Output folder (default: next to each input)")
	thumbs := fs.String("thumbs", "", "Folder for PNG thumbnails of the inputs")
	maxSlice := fs.Bool("max-slice", false, "Thumbnail the slice with the most foreground instead of the middle one")
	manifest := fs.String("manifest", "", "Write a YAML manifest of the run")
	workers := fs.Int("workers", 0, "Goroutines per resample (default from config)")
	defaultValue := fs.Float64("default-value", 0, "Intensity of voxels that map outside the input")
	noProgress := fs.Bool("no-progress", false, "Hide the per-image progress bars")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: volaudit resample [flags] <glob>...")
		fs.PrintDefaults()
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	applyResampleFlags(cfg, explicitFlags(fs), resampleFlags{
		ref: *ref, standard: *standard, spacing: spacing, size: size, origin: origin,
		direction: direction, suffix: *suffix, out: *out, thumbs: *thumbs,
		maxSlice: *maxSlice, manifest: *manifest, workers: *workers,
		defaultValue: *defaultValue,
	})
	if *noProgress {
		cfg.Output.Progress = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// batch tags the logger with the run id itself
	logger, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	paths, err := expandGlobs(fs.Args())
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	defer writeMetrics(cfg, metrics, logger)

	m, err := batch.ResampleImages(paths, batch.Options{
		Reference:        cfg.Resample.Reference,
		Origin:           cfg.Resample.Origin,
		Spacing:          cfg.Resample.Spacing,
		Direction:        cfg.Resample.Direction,
		Size:             cfg.Resample.Size,
		Standard:         cfg.Resample.Standard,
		RescaleOrigin:    cfg.Resample.RescaleOrigin,
		Workers:          cfg.Resample.Workers,
		DefaultValue:     cfg.Resample.DefaultValue,
		Suffix:           cfg.Resample.Suffix,
		SaveFolder:       cfg.Resample.SaveFolder,
		ThumbnailsFolder: cfg.Thumbnail.Folder,
		Thumbnail: visualization.Options{
			Width:    cfg.Thumbnail.Width,
			Height:   cfg.Thumbnail.Height,
			MaxSlice: cfg.Thumbnail.MaxSlice,
		},
		ManifestPath:   cfg.Output.Manifest,
		Progress:       cfg.Output.Progress,
		ProgressWriter: stderr,
		RunID:          uuid.NewString(),
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}
	for _, e := range m.Images {
		fmt.Fprintf(stdout, "%s -> %s\n", e.Input, e.Output)
	}
	return nil
}

type resampleFlags struct {
	ref          string
	standard     bool
	spacing      []float64
	size         []int
	origin       []float64
	direction    []float64
	suffix       string
	out          string
	thumbs       string
	maxSlice     bool
	manifest     string
	workers      int
	defaultValue float64
}

// applyResampleFlags lets explicitly given flags override the config file
func applyResampleFlags(cfg *config.Config, set map[string]bool, f resampleFlags) {
	r := &cfg.Resample
	if set["ref"] {
		r.Reference = f.ref
	}
	if set["standard"] {
		r.Standard = f.standard
	}
	if set["spacing"] {
		r.Spacing = f.spacing
	}
	if set["size"] {
		r.Size = f.size
	}
	if set["origin"] {
		r.Origin = f.origin
	}
	if set["direction"] {
		r.Direction = f.direction
	}
	if set["suffix"] {
		r.Suffix = f.suffix
	}
	if set["out"] {
		r.SaveFolder = f.out
	}
	if set["workers"] {
		r.Workers = f.workers
	}
	if set["default-value"] {
		r.DefaultValue = f.defaultValue
	}
	if set["thumbs"] {
		cfg.Thumbnail.Folder = f.thumbs
	}
	if set["max-slice"] {
		cfg.Thumbnail.MaxSlice = f.maxSlice
	}
	if set["manifest"] {
		cfg.Output.Manifest = f.manifest
	}
}

func runVerify(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: volaudit verify <manifest>")
	}
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	m, err := batch.LoadManifest(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := m.Verify(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%d images match manifest %s\n", len(m.Images), fs.Arg(0))
	return nil
}

func runInitConfig(args []string, stdout io.Writer) error {
	path := defaultConfigPath
	if len(args) > 0 {
		path = args[0]
	}
	if err := config.CreateDefaultConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Default configuration written to %s\n", path)
	return nil
}
