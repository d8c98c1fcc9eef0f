// Package cli wires the cobra command tree backing the whisperlistend
// binary: start, status, test, queue, retry, cleanup, version.
//
// Built on cobra subcommands rather than a hand-rolled switch-based
// dispatcher, so typed flags like --item-id and --days are expressed
// directly.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/marvinmvns/whisperlisten-go/internal/config"
	"github.com/marvinmvns/whisperlisten-go/internal/doctor"
	"github.com/marvinmvns/whisperlisten-go/internal/ipc"
	"github.com/marvinmvns/whisperlisten-go/internal/logging"
	"github.com/marvinmvns/whisperlisten-go/internal/metrics"
	"github.com/marvinmvns/whisperlisten-go/internal/orchestrator"
	"github.com/marvinmvns/whisperlisten-go/internal/version"
)

// socketTimeout bounds how long non-start subcommands wait for a daemon
// reply over the control socket.
const socketTimeout = 3 * time.Second

// Execute builds and runs the root command against args, writing to out/errOut.
func Execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "whisperlistend",
		Short:         "Continuous speech capture, local transcription, and durable forwarding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: $XDG_CONFIG_HOME/whisperlisten/config.yaml)")

	root.AddCommand(
		newStartCmd(&configPath),
		newStatusCmd(&configPath),
		newTestCmd(&configPath),
		newQueueCmd(&configPath),
		newRetryCmd(&configPath),
		newCleanupCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}

func newStartCmd(configPath *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the capture/transcribe/forward agent in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if metricsAddr != "" {
				loaded.Config.Debug.MetricsAddr = metricsAddr
			}

			runtime, err := logging.New(loaded.Config.Paths.LogDir)
			if err != nil {
				return fmt.Errorf("init logging: %w", err)
			}
			defer runtime.Close()

			for _, w := range loaded.Warnings {
				runtime.Logger.Warn("config warning", "message", w.Message)
			}

			agent, err := orchestrator.New(cmd.Context(), loaded, runtime.Logger)
			if err != nil {
				return fmt.Errorf("initialize agent: %w", err)
			}

			socketPath, err := ipc.RuntimeSocketPath()
			if err != nil {
				runtime.Logger.Warn("control socket disabled", "error", err)
				socketPath = ""
			}

			metricsDone := make(chan error, 1)
			go func() { metricsDone <- metrics.Serve(cmd.Context(), loaded.Config.Debug.MetricsAddr) }()

			runErr := agent.Run(cmd.Context(), socketPath)
			if metricsErr := <-metricsDone; metricsErr != nil && runErr == nil {
				runErr = metricsErr
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to expose Prometheus /metrics on (disabled if empty)")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the running daemon's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callDaemon(cmd, *configPath, ipc.Request{Command: ipc.CommandStatus})
		},
	}
}

func newTestCmd(configPath *string) *cobra.Command {
	var mic, transcriberFlag, remote bool

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run readiness diagnostics for config, audio, transcriber backend, and remote API",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			report := doctor.Run(cmd.Context(), loaded, doctor.Options{Mic: mic, Transcriber: transcriberFlag, Remote: remote})
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("one or more readiness checks failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mic, "mic", false, "only run the audio device check")
	cmd.Flags().BoolVar(&transcriberFlag, "transcriber", false, "only run the transcriber backend check")
	cmd.Flags().BoolVar(&remote, "remote", false, "only run the remote API check")
	return cmd
}

func newQueueCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Print queue depth by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return callDaemon(cmd, *configPath, ipc.Request{Command: ipc.CommandQueue, Limit: limit})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "override the pending/recent item view size (default: 10 pending, 20 recent)")
	return cmd
}

func newRetryCmd(configPath *string) *cobra.Command {
	var itemID string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Reset an item's attempts and retry delivery if online",
		RunE: func(cmd *cobra.Command, args []string) error {
			if itemID == "" {
				return fmt.Errorf("--item-id is required")
			}
			return callDaemon(cmd, *configPath, ipc.Request{Command: ipc.CommandRetry, ItemID: itemID})
		},
	}
	cmd.Flags().StringVar(&itemID, "item-id", "", "queue item ID to retry")
	return cmd
}

func newCleanupCmd(configPath *string) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete sent items older than the given retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be a positive integer")
			}
			return callDaemon(cmd, *configPath, ipc.Request{Command: ipc.CommandCleanup, Days: days})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "delete sent items older than this many days")
	return cmd
}

// callDaemon sends req to the running `start` daemon's control socket and
// prints the response as structured JSON.
func callDaemon(cmd *cobra.Command, configPath string, req ipc.Request) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return fmt.Errorf("resolve control socket: %w", err)
	}

	resp, err := ipc.Send(cmd.Context(), socketPath, req, socketTimeout)
	if err != nil {
		return fmt.Errorf("contact daemon (is `whisperlistend start` running?): %w", err)
	}
	if err := printJSON(cmd, resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
