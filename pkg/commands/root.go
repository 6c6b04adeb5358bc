// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and prysm contributors
//
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gitlab.clyso.com/clyso/smartd/internal/daemon"
)

// flags holds the global option block (spec.md §6), populated from
// persistent flags with env var fallbacks, the way ctl.go layers flags
// over environment configuration for its other commands.
type flags struct {
	configPath  string
	debug       bool
	dumpDirectives bool
	interval    int
	facility    string
	noFork      bool
	pidFile     string
	quitMode    string
	report      string
	verbosity   string
	natsURL     string
	prometheus  bool
	promPort    int
	runtimeCfg  string
}

var f flags

var rootCmd = &cobra.Command{
	Use:   "smartd",
	Short: "SMART monitoring daemon for ATA/SCSI storage devices",
	Long:  "smartd polls ATA/SCSI device health and self-test state on a fixed interval and dispatches rate-limited warnings when attributes cross thresholds.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setUpLogs(f.verbosity)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", getEnv("SMARTD_CONFIG", "/etc/smartd.conf"), "alternate config file, or - for stdin")
	pf.BoolVarP(&f.debug, "debug", "d", getEnvBool("SMARTD_DEBUG", false), "debug mode: run in foreground, log to stderr")
	pf.BoolVarP(&f.dumpDirectives, "dump-directives", "D", false, "dump configuration directive help and exit")
	pf.IntVarP(&f.interval, "interval", "i", getEnvInt("SMARTD_INTERVAL", 1800), "cycle time in seconds (>=10)")
	pf.StringVarP(&f.facility, "facility", "l", getEnv("SMARTD_FACILITY", "daemon"), "syslog facility: daemon, local0..local7")
	pf.BoolVarP(&f.noFork, "no-fork", "n", getEnvBool("SMARTD_NO_FORK", false), "do not daemonize; run in the foreground")
	pf.StringVarP(&f.pidFile, "pidfile", "p", getEnv("SMARTD_PIDFILE", ""), "PID file path")
	pf.StringVarP(&f.quitMode, "quit", "q", getEnv("SMARTD_QUIT", "nodev"), "nodev|nodevstartup|never|onecheck|showtests|errors")
	pf.StringVarP(&f.report, "report", "r", getEnv("SMARTD_REPORT", ""), "ioctl|ataioctl|scsiioctl report level, TYPE[,N]")
	pf.StringVarP(&f.verbosity, "verbosity", "v", getEnv("SMARTD_VERBOSITY", zerolog.WarnLevel.String()), "log level: debug, info, warn, error, fatal, panic")
	pf.StringVar(&f.natsURL, "nats-url", getEnv("SMARTD_NATS_URL", ""), "NATS server URL for warning events; empty disables the side channel")
	pf.BoolVar(&f.prometheus, "prometheus", getEnvBool("SMARTD_PROMETHEUS", false), "serve Prometheus metrics")
	pf.IntVar(&f.promPort, "prometheus-port", getEnvInt("SMARTD_PROMETHEUS_PORT", 9169), "port for the Prometheus /metrics endpoint")
	pf.StringVar(&f.runtimeCfg, "runtime-config", getEnv("SMARTD_RUNTIME_CONFIG", ""), "optional YAML/JSON/TOML file of live-reloadable settings (currently: nats_url); empty disables the watch")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree and maps any failure to its exit-status
// category (spec.md §6) instead of the single generic exit(1) cobra's
// own Execute() would otherwise leave callers to apply. A cobra usage
// error (bad flags, unknown subcommand) never reaches an *ExitError and
// falls back to bad-cmdline.
func Execute() {
	// A panic reaching here is an unrecovered programming error inside
	// some command path; report it as internal-bug rather than letting
	// the Go runtime's own nonzero-but-undocumented crash code leak out.
	// A true runtime out-of-memory condition is a fatal error the Go
	// runtime raises outside of panic/recover entirely, so it can't be
	// reclassified here (see DESIGN.md).
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "smartd: internal error: %v\n", r)
			os.Exit(int(daemon.ExitInternalBug))
		}
	}()

	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "smartd: %s\n", err)

	var exitErr *daemon.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(int(exitErr.Code))
	}
	os.Exit(int(daemon.ExitBadCmdline))
}

// setUpLogs mirrors the teacher's ctl.go logging setup: a global zerolog
// level plus a timestamped JSON writer, switched to stderr in debug mode
// per spec.md §6's "-d debug mode (foreground, log to stderr)".
func setUpLogs(level string) error {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)

	out := os.Stdout
	if f.debug {
		out = os.Stderr
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}
