package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codewiresh/httpllm/internal/config"
	"github.com/codewiresh/httpllm/internal/node"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:           "httpllm",
		Short:         "HTTP/1.1 server whose responses are written by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a TOML or YAML config file")

	rootCmd.AddCommand(
		serveCmd(),
		transcriptsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[httpllm] %v\n", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// serveCmd (alias: start)
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var (
		host  string
		port  int
		debug bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Accept HTTP connections and answer them with the model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFlag)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.Host = host
			}
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("debug") {
				cfg.Debug = debug
			}

			if err := cfg.Validate(); err != nil {
				if errors.Is(err, config.ErrMissingAPIKey) {
					return fmt.Errorf("cannot start: %w\n\nExport your key and retry:\n  export ANTHROPIC_API_KEY=sk-ant-...", err)
				}
				return fmt.Errorf("invalid configuration: %w", err)
			}

			setupLogging(cfg.Debug)

			n, err := node.NewNode(cfg, nil)
			if err != nil {
				return fmt.Errorf("initializing node: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				<-sigCh
				fmt.Fprintln(os.Stderr, "[httpllm] shutting down...")
				cancel()
			}()

			if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "Address to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "Port to listen on (0 picks a free port)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Verbose logging")
	return cmd
}

// setupLogging installs the process-wide slog handler: human-readable text
// on a terminal, JSON lines otherwise.
func setupLogging(debug bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if debug {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler
	if fd := os.Stderr.Fd(); isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
