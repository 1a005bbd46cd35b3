// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/voicetube/internal/api/connect"
	"github.com/osa030/voicetube/internal/api/skill"
	"github.com/osa030/voicetube/internal/app/catalog"
	"github.com/osa030/voicetube/internal/app/filter"
	"github.com/osa030/voicetube/internal/app/notification"
	"github.com/osa030/voicetube/internal/app/playback"
	"github.com/osa030/voicetube/internal/app/poller"
	"github.com/osa030/voicetube/internal/app/session/store"
	"github.com/osa030/voicetube/internal/infra/config"
	"github.com/osa030/voicetube/internal/infra/logger"
	"github.com/osa030/voicetube/internal/infra/mediagw"
)

var (
	app        = kingpin.New("voicetube-server", "Voice-driven video playback skill server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Load config before the logger so the log section applies; failures are
	// reported through the default logger.
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config from %s: %v", *configPath, err)
	}

	// Initialize logger, command-line flags override config
	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loaded config from %s", *configPath)

	// Run server (defer ensures shutdown hook is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		logCloser.Close()
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	filters, err := buildFilterChain(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	messages, err := catalog.New(cfg.Catalog.OverridePath)
	if err != nil {
		return errors.Wrap(err, "failed to load response catalog")
	}
	zlog.Info().Msgf("Response catalog loaded: locales=%s", strings.Join(messages.Locales(), ","))

	gateway, err := mediagw.New(mediagw.Config{
		BaseURL:         cfg.Gateway.BaseURL,
		Timeout:         cfg.GatewayTimeout(),
		DefaultLanguage: cfg.Gateway.DefaultLanguage,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create media gateway client")
	}

	waiter := poller.New(gateway, poller.Config{
		Interval: cfg.PollInterval(),
		Timeout:  cfg.PollTimeout(),
	})

	sessions := store.New()
	events := notification.NewManager()
	orchestrator := playback.NewOrchestrator(sessions, gateway, waiter, messages,
		playback.WithEventSink(events),
	)

	// Create HTTP mux
	mux := http.NewServeMux()

	// Register the platform endpoint
	mux.Handle(cfg.Server.SkillPath, skill.NewHandler(orchestrator, filters, messages,
		skill.WithDefaultLocale(cfg.Skill.DefaultLocale),
	))

	// Register the admin service behind the token interceptor
	done := make(chan struct{})
	adminService := apiconnect.NewAdminService(sessions, events, done)
	adminPath, adminHandler := apiconnect.NewAdminServiceHandler(
		adminService,
		connect.WithInterceptors(apiconnect.NewAdminAuthInterceptor(cfg.Admin.Token)),
	)
	mux.Handle(adminPath, adminHandler)

	// Create server with h2c (HTTP/2 cleartext) support
	serverAddr := cfg.Server.Addr
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	// Start server
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s skill_path=%s admin_path=%s", serverAddr, cfg.Server.SkillPath, adminPath)
		// Signal that we're about to start listening
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- err
		}
	}()

	// Wait for server to start listening
	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	// Execute startup hook if configured (after server is running)
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// End watch streams first so Shutdown does not wait on them
	close(done)
	events.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msgf("Server stopped: sessions=%d", sessions.Count())

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// printFilters prints available filters.
func printFilters() {
	registry := filter.GetRegistered()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registry[name]()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// buildFilterChain creates the filter chain. The application id filter is
// always first; the others run in a fixed order when enabled.
func buildFilterChain(cfg *config.Config) (*filter.Chain, error) {
	chain := filter.NewChain()
	chain.Add(filter.NewApplicationIDFilter(cfg.Skill.ApplicationID))

	for filterName := range cfg.Filters {
		if _, ok := filter.GetRegistered()[filterName]; !ok {
			return nil, errors.Newf("unknown filter %q", filterName)
		}
	}

	if cfg.IsFilterEnabled("timestamp_filter") {
		f := filter.NewTimestampFilter(time.Now)
		if err := f.ValidateConfig(cfg.Filters["timestamp_filter"].Settings); err != nil {
			return nil, errors.Wrap(err, "filter timestamp_filter")
		}
		chain.Add(f)
	}

	if cfg.IsFilterEnabled("rate_limit_filter") {
		f := filter.NewRateLimitFilter(time.Now)
		if err := f.ValidateConfig(cfg.Filters["rate_limit_filter"].Settings); err != nil {
			return nil, errors.Wrap(err, "filter rate_limit_filter")
		}
		chain.Add(f)
	}

	for _, f := range chain.Filters() {
		zlog.Info().Msgf("Filter enabled: %s", f.Name())
	}
	return chain, nil
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
