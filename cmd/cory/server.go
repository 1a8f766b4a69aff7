package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/cory/internal/api"
	"github.com/kalambet/cory/internal/app"
	"github.com/kalambet/cory/internal/collection"
	"github.com/kalambet/cory/internal/config"
	"github.com/kalambet/cory/internal/explore"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cory server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running cory server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and account status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the collection as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "cory.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func healthURL(cfg config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
}

func serverRunning(cfg config.Config) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(cfg))
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func runServer() error {
	fmt.Fprintln(os.Stderr, versionLine())

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if serverRunning(cfg) {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("cory is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("cory is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	logCapabilities(cfg)

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing app", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(api.AppDeps{App: a, Token: cfg.Server.APIToken}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "cory listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// logCapabilities reports which AI features will run and which fall back to
// offline behavior.
func logCapabilities(cfg config.Config) {
	relay := cfg.AI.KeyRelayURL != ""
	for _, c := range []struct{ name, provider string }{
		{"analysis", cfg.Analysis.Provider},
		{"chat", cfg.Chat.Provider},
		{"image", "gemini"},
	} {
		if cfg.APIKey(c.provider) != "" || relay || c.provider == "ollama" {
			slog.Info("AI capability configured", "capability", c.name, "provider", c.provider)
		} else {
			slog.Warn("AI capability unconfigured, using offline fallback", "capability", c.name, "provider", c.provider)
		}
	}
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	if serverRunning(cfg) {
		slog.Warn("cory server is running against the same data; changes made here may be overwritten by its autosave")
	}

	a, err := app.New(cfg, app.Deps{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{App: a}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout)
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("cory is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop cory (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to cory (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	running := serverRunning(cfg)
	if running {
		printStatus("Server", "running on port %d", cfg.Server.Port)
	} else {
		printStatus("Server", "stopped")
	}

	printStatus("Analysis", "%s", providerLabel(cfg, cfg.Analysis.Provider, cfg.Analysis.Model))
	printStatus("Chat", "%s", providerLabel(cfg, cfg.Chat.Provider, cfg.Chat.Model))
	printStatus("Image", "%s", providerLabel(cfg, "gemini", cfg.Image.Model))

	if running {
		client, err := newAPIClient()
		if err == nil {
			if err := printAccountStatus(ctx, client); err != nil {
				printWarning("could not read account: %v", err)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printAccountStatus(ctx context.Context, client *apiClient) error {
	resp, err := client.get(ctx, "/account")
	if err != nil {
		return err
	}
	var summary collection.Summary
	if err := decodeJSON(resp, &summary); err != nil {
		return err
	}
	printStatus("Account", "%s", summary.AccountID)
	printStatus("Creatures", "%d", summary.Count)
	printStatus("Play time", "%d min", summary.PlayTimeMinutes)

	resp, err = client.get(ctx, "/explorations/current")
	if err != nil {
		return err
	}
	var ex api.ExplorationView
	if err := decodeJSON(resp, &ex); err != nil {
		return err
	}
	if ex.State == explore.Exploring {
		printStatus("Exploration", "back in %s", formatRemaining(ex.RemainingSeconds))
	} else {
		printStatus("Exploration", "idle")
	}
	return nil
}

func providerLabel(cfg config.Config, provider, model string) string {
	label := provider + " / " + model
	if cfg.APIKey(provider) == "" && cfg.AI.KeyRelayURL == "" && provider != "ollama" {
		label += " " + colorize(colorYellow, "(no key, offline fallback)")
	}
	return label
}
