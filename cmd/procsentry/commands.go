package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/loykin/procsentry"
	"github.com/spf13/cobra"
)

// createServeCommand runs the engine and HTTP API in the foreground
func createServeCommand(globalFlags *GlobalFlags, serveFlags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring daemon with the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags, serveFlags)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address (default 127.0.0.1:8080)")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "API base path (default /api)")
	cmd.Flags().BoolVar(&serveFlags.Metrics, "metrics", false, "expose prometheus /metrics")
	return cmd
}

func runServe(globalFlags *GlobalFlags, serveFlags *ServeFlags) error {
	var fc *procsentry.Config
	if globalFlags.ConfigPath != "" {
		loaded, err := procsentry.LoadConfig(globalFlags.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		fc = loaded
	}

	listen := "127.0.0.1:8080"
	basePath := "/api"
	withMetrics := serveFlags.Metrics
	if fc != nil {
		if fc.Server.Listen != "" {
			listen = fc.Server.Listen
		}
		if fc.Server.BasePath != "" {
			basePath = fc.Server.BasePath
		}
		if fc.Server.Metrics {
			withMetrics = true
		}
		closeLog := procsentry.SetupLogging(fc.Log)
		defer closeLog()
	}
	if serveFlags.Listen != "" {
		listen = serveFlags.Listen
	}
	if serveFlags.BasePath != "" {
		basePath = serveFlags.BasePath
	}

	eng, err := procsentry.NewFromConfig(fc)
	if err != nil {
		return err
	}
	if withMetrics {
		if err := procsentry.RegisterMetricsDefault(); err != nil {
			return err
		}
	}
	eng.Start(nil)
	defer eng.Stop()

	srv, err := eng.NewHTTPServer(listen, basePath, withMetrics)
	if err != nil {
		return err
	}
	defer func() { _ = srv.Close() }()

	fmt.Printf("procsentry daemon listening on %s%s\n", listen, basePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	fmt.Println("shutting down")
	return nil
}

// createPsCommand lists tracked processes via the daemon API
func createPsCommand(globalFlags *GlobalFlags, listFlags *ListFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List tracked processes",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.Processes(listFlags.Name, listFlags.Security, listFlags.Sort)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&listFlags.Name, "name", "", "filter by name substring")
	cmd.Flags().StringVar(&listFlags.Security, "security", "", "filter by security level (low|medium|high)")
	cmd.Flags().StringVar(&listFlags.Sort, "sort", "", "sort order (name|pid|memory|cpu)")
	return cmd
}

// createKillCommand terminates one process
func createKillCommand(globalFlags *GlobalFlags, killFlags *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill <pid>",
		Short: "Terminate a process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePid(args[0])
			if err != nil {
				return err
			}
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.Terminate(pid, killFlags.Strategy)
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&killFlags.Strategy, "strategy", "auto", "termination strategy (auto|graceful|forceful|escalating|restart)")
	return cmd
}

// createKillAllCommand terminates several pids tier by tier
func createKillAllCommand(globalFlags *GlobalFlags, killFlags *KillFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill-all <pid>...",
		Short: "Terminate several processes, lowest risk first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pids := make([]int, 0, len(args))
			for _, a := range args {
				pid, err := parsePid(a)
				if err != nil {
					return err
				}
				pids = append(pids, pid)
			}
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.TerminateBatch(pids, killFlags.Strategy)
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&killFlags.Strategy, "strategy", "auto", "termination strategy (auto|graceful|forceful|escalating|restart)")
	return cmd
}

// createForceQuitCommand sends an emergency force quit
func createForceQuitCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "force-quit <pid>",
		Short: "Kill a process immediately, skipping the graceful phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := parsePid(args[0])
			if err != nil {
				return err
			}
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.ForceQuit(pid)
			if result != nil {
				_ = printJSON(result)
			}
			return err
		},
	}
}

// createResultsCommand shows recent termination results
func createResultsCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Show recent termination results",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.Results()
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

// createHealthCommand shows the engine health report
func createHealthCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the engine health report",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			result, err := client.Health()
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

// createRefreshCommand forces one reconciliation scan
func createRefreshCommand(globalFlags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a reconciliation scan now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(globalFlags.APIUrl, globalFlags.APITimeout)
			if err := client.Refresh(); err != nil {
				return err
			}
			fmt.Println("refreshed")
			return nil
		},
	}
}

func parsePid(s string) (int, error) {
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return pid, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
