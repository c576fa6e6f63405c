package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vercel-labs/dev3000-sub004/internal/api"
	"github.com/vercel-labs/dev3000-sub004/internal/config"
	"github.com/vercel-labs/dev3000-sub004/internal/jank"
	"github.com/vercel-labs/dev3000-sub004/internal/logs"
	"github.com/vercel-labs/dev3000-sub004/internal/mcp"
	"github.com/vercel-labs/dev3000-sub004/internal/replay"
	"github.com/vercel-labs/dev3000-sub004/internal/session"
	"github.com/vercel-labs/dev3000-sub004/pkg/events"
	"github.com/vercel-labs/dev3000-sub004/pkg/ports"
)

var (
	// Version is set at build time
	Version = "dev"

	workDir     string
	logFile     string
	sessionName string
	debugMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "d3k",
	Short: "Unified dev-time log timeline with replay, jank detection, and MCP access",
	Long: `d3k consolidates server output, browser console messages, network
requests, user interactions, and screenshots into one chronological log,
then makes that timeline useful: prioritized error reports, interaction
replay against the running app, and visual layout-shift detection.

Everything is also exposed over MCP so coding agents can read the
timeline and drive the browser without asking the user to paste logs.

Basic Usage:
  d3k serve                     # Start the HTTP API + MCP server
  d3k errors                    # Prioritized error report for the last 10m
  d3k replay --start <ts>       # Re-execute recorded interactions
  d3k jank my-app               # Layout-shift analysis for a session
  d3k sessions                  # List active sessions`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "dir", "d", "", "Project directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Consolidated log file (default: active session's)")
	rootCmd.PersistentFlags().StringVarP(&sessionName, "session", "s", "", "Session name (default: most recent active)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Verbose logging")
	rootCmd.Version = Version

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(errorsCmd())
	rootCmd.AddCommand(replayCmd())
	rootCmd.AddCommand(jankCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(toolsCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env assembles the shared pieces every command needs.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *session.Registry
}

func setup() (*env, error) {
	dir := workDir
	if dir == "" {
		dir, _ = os.Getwd()
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	var logger *zap.Logger
	if debugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}

	sessionDir := cfg.Log.SessionDir
	if sessionDir == "" {
		sessionDir = session.Dir()
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: session.NewRegistry(sessionDir),
	}, nil
}

// resolveLogPath picks the log file: explicit flag, then the named (or most
// recent) active session's file, then the configured default.
func (e *env) resolveLogPath() string {
	if logFile != "" {
		return logFile
	}
	if desc, err := e.registry.Find(sessionName); err == nil && desc.LogFilePath != "" {
		return desc.LogFilePath
	}
	project := sessionName
	if project == "" {
		dir := workDir
		if dir == "" {
			dir, _ = os.Getwd()
		}
		project = filepath.Base(dir)
	}
	return e.cfg.LogFilePath(project)
}

// backends wires the MCP/API entry points over the engines.
func (e *env) backends() mcp.Backends {
	return mcp.Backends{
		ReadLogs: func(ctx context.Context, lines int, filter string) ([]string, error) {
			return readLogTail(e.resolveLogPath(), lines, filter)
		},
		GetErrors: func(ctx context.Context, windowMinutes int) (interface{}, error) {
			return e.errorReport(windowMinutes)
		},
		ExecuteReplay: func(ctx context.Context, startTime, endTime string, speed float64) (interface{}, error) {
			return e.executeReplay(ctx, startTime, endTime, speed)
		},
		DetectJank: func(ctx context.Context, sess string) (interface{}, error) {
			return e.detectJank(sess)
		},
		ListSessions: func(ctx context.Context) (interface{}, error) {
			return e.registry.FindActiveSessions()
		},
	}
}

func (e *env) errorReport(windowMinutes int) (*logs.Report, error) {
	raw, err := os.ReadFile(e.resolveLogPath())
	if err != nil {
		if os.IsNotExist(err) {
			return logs.Prioritize(nil, time.Duration(windowMinutes)*time.Minute, time.Now()), nil
		}
		return nil, err
	}
	lines := splitLines(string(raw))
	return logs.Prioritize(lines, time.Duration(windowMinutes)*time.Minute, time.Now()), nil
}

func (e *env) parseReplay(startTime, endTime string) (*logs.ReplayData, error) {
	start, err := parseTimeArg(startTime)
	if err != nil {
		return nil, fmt.Errorf("startTime: %w", err)
	}
	end, err := parseTimeArg(endTime)
	if err != nil {
		return nil, fmt.Errorf("endTime: %w", err)
	}
	return logs.ParseLogFile(e.resolveLogPath(), start, end)
}

// executeReplay picks an automation backend: MCP when a browser automation
// server is configured, otherwise the active session's CDP endpoint.
func (e *env) executeReplay(ctx context.Context, startTime, endTime string, speed float64) (*replay.Result, error) {
	data, err := e.parseReplay(startTime, endTime)
	if err != nil {
		return nil, err
	}

	auto, cleanup, err := e.automator()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	engine := replay.NewEngine(auto, e.logger)
	return engine.Execute(ctx, data, speed)
}

func (e *env) automator() (replay.Automator, func(), error) {
	if url := e.cfg.Server.MCPServerURL; url != "" {
		client := mcp.NewHTTPClient(url)
		return replay.NewMCPAutomator(client), func() { client.Close() }, nil
	}

	desc, err := e.registry.Find(sessionName)
	if err != nil || desc.CDPUrl == "" {
		return nil, nil, fmt.Errorf("no automation backend: set %s or start a session with a CDP browser", config.EnvMCPServerURL)
	}
	auto, err := replay.NewCDPAutomator(desc.CDPUrl)
	if err != nil {
		return nil, nil, err
	}
	return auto, func() { auto.Close() }, nil
}

func (e *env) detectJank(sess string) (*jank.Result, error) {
	if sess == "" {
		desc, err := e.registry.Find("")
		if err != nil {
			return nil, fmt.Errorf("no session named and none active")
		}
		sess = desc.ProjectName
	}

	dir := e.cfg.ScreenshotDir()
	shots, err := jank.LoadScreenshots(dir, sess)
	if err != nil {
		return nil, err
	}
	meta, err := jank.LoadMetadata(dir, sess)
	if err != nil {
		return nil, err
	}
	return jank.Detect(shots, meta)
}

func readLogTail(path string, lines int, filter string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	all := splitLines(string(raw))
	if filter != "" {
		re, err := regexp.Compile(filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		matched := all[:0]
		for _, line := range all {
			if re.MatchString(line) {
				matched = append(matched, line)
			}
		}
		all = matched
	}

	if lines > 0 && len(all) > lines {
		all = all[len(all)-lines:]
	}
	return all, nil
}

func splitLines(content string) []string {
	var out []string
	start := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			if i > start {
				out = append(out, content[start:i])
			}
			start = i + 1
		}
	}
	if start < len(content) {
		out = append(out, content[start:])
	}
	return out
}

func parseTimeArg(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func serveCmd() *cobra.Command {
	var (
		port  int
		stdio bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if port == 0 {
				port = e.cfg.Server.Port
			}
			if port == 0 {
				port, err = ports.FindAvailablePort(3684)
				if err != nil {
					return err
				}
			}

			bus := events.NewBus()
			defer bus.Shutdown()

			manager := mcp.NewManager(e.cfg.Downstream, e.logger, bus)
			manager.Initialize(ctx)
			defer manager.Shutdown()

			selfURL := fmt.Sprintf("http://localhost:%d/mcp", port)
			mcpServer := mcp.NewServer(e.backends(), manager, e.logger)
			mcpServer.RegisterDownstreamTools()

			if stdio {
				return mcpServer.ServeStdio()
			}

			orch := mcp.NewOrchestrator(manager, selfURL, e.logger)
			handlers := api.Handlers{
				ParseReplay: func(ctx context.Context, startTime, endTime string) (*logs.ReplayData, error) {
					return e.parseReplay(startTime, endTime)
				},
				ExecuteReplay: func(ctx context.Context, startTime, endTime string, speed float64) (interface{}, error) {
					return e.executeReplay(ctx, startTime, endTime, speed)
				},
				DetectJank: func(ctx context.Context, sess string) (interface{}, error) {
					return e.detectJank(sess)
				},
			}
			srv := api.NewServer(e.resolveLogPath(), handlers, orch, mcpServer.Handler(), bus, e.logger)

			e.logger.Info("serving",
				zap.Int("port", port),
				zap.String("logFile", e.resolveLogPath()))
			fmt.Printf("d3k listening on http://localhost:%d (MCP at /mcp)\n", port)
			return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (default: config, else first free from 3684)")
	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve MCP over stdio instead of HTTP")
	return cmd
}

func errorsCmd() *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Print a prioritized error report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			report, err := e.errorReport(window)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}

	cmd.Flags().IntVarP(&window, "window", "w", 10, "Minutes of log history to scan")
	return cmd
}

func replayCmd() *cobra.Command {
	var (
		startTime string
		endTime   string
		speed     float64
		execute   bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Parse or re-execute recorded interactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			if !execute {
				data, err := e.parseReplay(startTime, endTime)
				if err != nil {
					return err
				}
				return printJSON(data)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			result, err := e.executeReplay(ctx, startTime, endTime, speed)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.Flags().StringVar(&startTime, "start", "", "ISO-8601 window start")
	cmd.Flags().StringVar(&endTime, "end", "", "ISO-8601 window end")
	cmd.Flags().Float64Var(&speed, "speed", 1.0, "Playback speed multiplier")
	cmd.Flags().BoolVarP(&execute, "execute", "x", false, "Dispatch to the browser instead of printing")
	return cmd
}

func jankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jank [session]",
		Short: "Detect visual layout shifts from a session's screenshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			sess := ""
			if len(args) > 0 {
				sess = args[0]
			}
			result, err := e.detectJank(sess)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List active development sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			active, err := e.registry.FindActiveSessions()
			if err != nil {
				return err
			}
			return printJSON(active)
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Connect to configured downstream MCP servers and list their tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			manager := mcp.NewManager(e.cfg.Downstream, e.logger, nil)
			manager.Initialize(ctx)
			defer manager.Shutdown()

			return printJSON(manager.AllTools())
		},
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
