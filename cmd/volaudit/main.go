package main

import (
	"errors"
	"fmt"
	"io"
	"os"
)

const version = "0.1.0"

const usageText = `volaudit audits and resamples NIfTI/DICOM volumes.

Usage:
  volaudit check [flags] <glob>...      report size, spacing and data type consistency
  volaudit resample [flags] <glob>...   resample images onto a common grid
  volaudit verify <manifest>            check written files against a run manifest
  volaudit init-config [path]           write the default configuration
  volaudit version

Run "volaudit <command> -h" for the flags of a command.
`

// errChecksFailed marks a run whose checks completed but did not all pass
var errChecksFailed = errors.New("dataset checks failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	var err error
	switch args[0] {
	case "check":
		err = runCheck(args[1:], stdout, stderr)
	case "resample":
		err = runResample(args[1:], stdout, stderr)
	case "verify":
		err = runVerify(args[1:], stdout, stderr)
	case "init-config":
		err = runInitConfig(args[1:], stdout)
	case "version":
		fmt.Fprintln(stdout, "volaudit", version)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usageText)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usageText)
		return 2
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.Is(err, errChecksFailed):
		return 1
	default:
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
}
