package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/dectpair/internal/bus"
	"github.com/nextlevelbuilder/dectpair/internal/config"
	"github.com/nextlevelbuilder/dectpair/pkg/protocol"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

// app carries what every command shares: the loaded config, the live log
// level and the one keyboard bus of the process.
type app struct {
	cfgFlag string
	verbose bool

	cfgPath string
	cfg     *config.Config
	level   *slog.LevelVar
	keys    *bus.KeypressBus
	out     io.Writer
}

// Execute runs the root command.
func Execute() {
	a := &app{
		level: new(slog.LevelVar),
		keys:  bus.NewKeypressBus(),
		out:   crlf(os.Stdout),
	}
	defer a.keys.Close()

	if err := rootCmd(a).Execute(); err != nil {
		a.keys.Close()
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportedError wraps an error the command has already shown the user.
// It still fails the process, but is not printed again.
type reportedError struct{ error }

func (e reportedError) Unwrap() error { return e.error }

func printError(w io.Writer, err error) {
	var re reportedError
	if errors.As(err, &re) {
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err)
}

func rootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "dectpair",
		Short:         "Pair DECT headsets with their base dongles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFlag, "config", "", "config file (default ~/.dectpair/config.json5)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(pairCmd(a))
	root.AddCommand(devicesCmd(a))
	root.AddCommand(monitorCmd(a))
	root.AddCommand(doctorCmd(a))
	root.AddCommand(simulateCmd(a))
	root.AddCommand(tokenCmd(a))
	root.AddCommand(versionCmd())
	return root
}

func (a *app) load() error {
	a.cfgPath = config.ResolvePath(a.cfgFlag)
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.setupLogging()
	return nil
}

func (a *app) setupLogging() {
	a.applyLevel(a.cfg)
	opts := &slog.HandlerOptions{Level: a.level}
	w := crlf(os.Stderr)

	var h slog.Handler
	if a.cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

// applyLevel sets the log level from cfg; --verbose always wins.
func (a *app) applyLevel(cfg *config.Config) {
	if a.verbose {
		a.level.Set(slog.LevelDebug)
		return
	}
	a.level.Set(cfg.SlogLevel())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dectpair %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}
