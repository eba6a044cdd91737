// Command dotbot routes device messages to long-running agents.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Druidia-Bot/DotBot-sub006/pkg/config"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/core"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/logx"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/metrics"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/server"
	"github.com/Druidia-Bot/DotBot-sub006/pkg/workspace"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:           "dotbot",
		Short:         "Route device messages to long-running agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if debug {
				logx.SetDebug(true)
			}
			return config.LoadConfig(configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(serveCmd(), routeCmd(), workspaceCmd(), statsCmd(), versionCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the WebSocket and HTTP endpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.GetConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, &cfg, true)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := a.close(shutdownCtx); err != nil {
					a.logger.Warn("Shutdown incomplete: %v", err)
				}
			}()

			return server.NewServer(a.service, a.registry).Start(ctx, cfg.Server.ListenAddr)
		},
	}
}

func routeCmd() *cobra.Command {
	var (
		deviceID string
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Route one message and print the outcome",
		Long:  "Route one message and print the outcome. With no arguments the message is read from piped stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig()
			if err != nil {
				return err
			}
			text, err := messageText(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, &cfg, wait)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			out, err := a.service.HandleMessage(ctx, core.Message{DeviceID: deviceID, Text: text})
			if printErr := printJSON(cmd, out); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&deviceID, "device", "d", "cli", "Device id the message comes from")
	cmd.Flags().BoolVar(&wait, "wait", false, "Run a new or resumed agent to completion before exiting")
	return cmd
}

func workspaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workspace <agentId>",
		Short: "Print the workspace layout and setup commands for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig()
			if err != nil {
				return err
			}
			ws, cmds, err := workspace.NewManager(cfg.Workspace.BaseDir).CreateWorkspace(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"workspace": ws, "setupCommands": cmds})
		},
	}
}

func statsCmd() *cobra.Command {
	var (
		prometheusURL string
		window        string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize routing and planning counters from Prometheus",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if prometheusURL == "" {
				cfg, err := config.GetConfig()
				if err != nil {
					return err
				}
				prometheusURL = cfg.Server.PrometheusURL
			}
			if prometheusURL == "" {
				return errors.New("no Prometheus URL: set --prometheus or server.prometheus_url")
			}
			q, err := metrics.NewQueryService(prometheusURL)
			if err != nil {
				return err
			}
			summary, err := q.GetSummary(cmd.Context(), window)
			if err != nil {
				return err
			}
			return printJSON(cmd, summary)
		},
	}
	cmd.Flags().StringVar(&prometheusURL, "prometheus", "", "Prometheus base URL")
	cmd.Flags().StringVar(&window, "window", "24h", "Aggregation window")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:              "version",
		Short:            "Print version information",
		PersistentPreRun: func(*cobra.Command, []string) {},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Print("dotbot"))
		},
	}
}

// messageText joins args, or reads the message from stdin when it is piped.
func messageText(in io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", errors.New("no message given: pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read message from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("empty message on stdin")
	}
	return text, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
