package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModeDashboard = "dashboard-service"
	ModeIngest    = "ingest-service"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModeDashboard, "dashboard", "d":
		return ModeDashboard, true
	case ModeIngest, "ingest", "i":
		return ModeIngest, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `dashboard-service --port=3000`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<service>")
	}

	if m, ok := isKnownMode(mode); ok {
		mode = m
	}

	return mode, out, nil
}

// AttachUsage wires a per-mode usage message onto a flag set.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: fleetwatch --mode=%s [flags]\n\nFlags:\n", mode)
		fs.PrintDefaults()
	}
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  ./fleetwatch --mode=<service> [flags]

Services (modes):
  dashboard-service            Vehicle API and real-time update streams (SSE/WS)
  ingest-service               Telemetry consumer feeding Postgres and fanout

Examples:
  ./fleetwatch --mode=dashboard-service --max-concurrent=150
  ./fleetwatch --mode=ingest-service --prefetch=8
  ./fleetwatch dashboard-service --config=config/config.yaml`)
}
