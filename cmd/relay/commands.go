package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HendryAvila/relay/internal/config"
	"github.com/HendryAvila/relay/internal/logging"
	relayserver "github.com/HendryAvila/relay/internal/server"
)

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "relay",
		Short:         "MCP tool server for approval-gated planning",
		Long:          `relay plans requests as tasks the user approves one at a time, and brokers vector memory, web research and JetBrains IDE tools behind one MCP endpoint.`,
		Version:       relayserver.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.relay/relay.yaml or ./relay.yaml)")

	root.AddCommand(
		newServeCmd(&configFile),
		newToolsCmd(&configFile),
		newVersionCmd(),
	)
	return root
}

// --- serve ---

func newServeCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long:  `Start the MCP server on stdio (default) or streamable HTTP. Logs always go to stderr.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, *configFile)
		},
	}
	cmd.Flags().String("transport", config.TransportStdio, "transport: stdio or http")
	cmd.Flags().String("addr", ":8080", "listen address for the http transport")
	cmd.Flags().String("log-level", "info", "log level: debug, info, warn, error")
	return cmd
}

func runServe(cmd *cobra.Command, configFile string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	s, cleanup, err := relayserver.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	// Graceful shutdown on interrupt.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		return relayserver.ListenAndServe(ctx, cfg.Server.Addr, relayserver.NewHTTPHandler(s, logger), logger)
	default:
		if err := s.ServeStdio(ctx, os.Stdin, os.Stdout, logger); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}

// --- tools ---

func newToolsCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Print the static tool catalog",
		Long:  `Print every tool relay registers at startup. IDE tools appear once a client lists tools while the IDE is running.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile, nil)
			if err != nil {
				return err
			}
			// no refresher: the catalog is read once
			cfg.IDE.RefreshInterval = 0

			s, cleanup, err := relayserver.New(cfg, zap.NewNop())
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			defer cleanup()

			registered := s.ListTools()
			names := make([]string, 0, len(registered))
			for name := range registered {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tDESCRIPTION")
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", name, firstLine(registered[name].Tool.Description))
			}
			return w.Flush()
		},
	}
}

// firstLine returns the first sentence of a tool description.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, ". "); i >= 0 {
		s = s[:i+1]
	}
	return s
}

// --- version ---

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay v%s\n", relayserver.Version)
		},
	}
}
