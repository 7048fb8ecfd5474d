package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"volaudit/pkg/config"
	"volaudit/pkg/observability"
)

// errUsage is returned after a flag set has already printed its usage
var errUsage = errors.New("usage error")

// floatList is a comma separated list flag such as -spacing 1,1,1
type floatList []float64

func (f *floatList) String() string {
	parts := make([]string, len(*f))
	for i, v := range *f {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (f *floatList) Set(s string) error {
	var out []float64
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", p)
		}
		out = append(out, v)
	}
	*f = out
	return nil
}

// intList is a comma separated list flag such as -size 128,128,64
type intList []int

func (l *intList) String() string {
	parts := make([]string, len(*l))
	for i, v := range *l {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *intList) Set(s string) error {
	var out []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, v)
	}
	*l = out
	return nil
}

// parseFlags parses args and maps flag.ErrHelp and parse failures to errUsage
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	return nil
}

// explicitFlags returns the names of flags given on the command line
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// expandGlobs resolves patterns, including ** recursion, into a sorted list
// of unique files. A pattern that matches nothing is an error.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadConfig reads and validates the configuration file
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// newLogger builds the console logger of one command invocation
func newLogger(cfg *config.Config, stderr io.Writer) (*observability.Logger, error) {
	logger := observability.NewConsoleLogger("volaudit", version, stderr)
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, err
	}
	return logger, nil
}

// writeMetrics exports metrics when a textfile path is configured
func writeMetrics(cfg *config.Config, metrics *observability.Metrics, logger *observability.Logger) {
	if cfg.Output.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
		logger.Error(err, "writing metrics")
	}
}
