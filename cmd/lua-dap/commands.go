package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stefan/lua-dap/internal/dap/adapter"
	luatransport "github.com/stefan/lua-dap/internal/luadebug/transport"
	"github.com/stefan/lua-dap/internal/runtime/config"
	"github.com/stefan/lua-dap/internal/support/diagbundle"
	"github.com/stefan/lua-dap/internal/support/logging"
)

type rootOptions struct {
	configFile string
	logLevel   string
	logFile    string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	serve := func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context(), opts, stdin, stdout, stderr)
	}

	root := &cobra.Command{
		Use:   "lua-dap",
		Short: "Debug Adapter Protocol server for Lua debuggees",
		Long: `lua-dap speaks DAP with an IDE over stdio and bridges it to a Lua
debuggee that connects back over two TCP sockets.

Without a subcommand it serves one debug session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve,
	}
	root.SetIn(stdin)
	root.SetOut(stderr)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./lua-dap.yaml or ~/.lua-dap/lua-dap.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "write JSON logs to this rotated file instead of stderr")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve one DAP session over stdio",
		Args:  cobra.NoArgs,
		RunE:  serve,
	})
	root.AddCommand(newVersionCmd(stdout))
	root.AddCommand(newTrafficSummaryCmd(stdout))
	return root
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			_, _ = fmt.Fprintf(stdout, "lua-dap %s\n", version)
			_, _ = fmt.Fprintf(stdout, "  Build time: %s\n", buildTime)
			_, _ = fmt.Fprintf(stdout, "  Git commit: %s\n", gitCommit)
		},
	}
}

func newTrafficSummaryCmd(stdout io.Writer) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "traffic-summary <traffic.jsonl>",
		Short: "Summarise a recorded debuggee traffic log",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read traffic log: %w", err)
			}
			summary, err := diagbundle.SummarizeTraffic(data)
			if err != nil {
				return err
			}
			if jsonOutput {
				return diagbundle.WriteJSON(stdout, summary)
			}
			return diagbundle.WriteText(stdout, summary)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON")
	return cmd
}

// run serves one session. stdout carries only DAP frames.
func run(ctx context.Context, opts *rootOptions, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFile != "" {
		cfg.Logging.File = opts.logFile
	}

	closer := logging.Setup(cfg.Logging, stderr)
	defer closer.Close()

	sessionOpts := adapter.Options{Config: cfg}
	if cfg.Logging.TrafficFile != "" {
		traffic := luatransport.OpenTrafficLog(cfg.Logging.TrafficFile, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
		defer traffic.Close()
		sessionOpts.TrafficLogger = luatransport.NewJSONLTrafficLogger(traffic)
	}

	log.Info().Str("version", version).Str("resolver", cfg.Resolver.Mode).Msg("lua-dap starting")
	return adapter.NewSession(sessionOpts).Serve(ctx, stdin, stdout)
}
