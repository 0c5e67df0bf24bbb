package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ai_workspace/core"
	"ai_workspace/core/validation"
	"ai_workspace/db"
	"ai_workspace/logging"
	"ai_workspace/orchestrator"
	"ai_workspace/shutdown"
	"ai_workspace/webui"
	"ai_workspace/webui/auth"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		// Use fmt here since logger isn't initialized yet
		fmt.Printf("Warning: could not read .env file: %v\n", err)
	}

	if handled, code := HandleServiceCommand(os.Args); handled {
		os.Exit(code)
	}

	os.Exit(run(nil))
}

// run starts the application and blocks until a signal arrives or stop is
// closed. It returns the process exit code.
func run(stop <-chan struct{}) int {
	cfg, err := core.LoadConfig()
	if err != nil {
		printConfigError(err)
		return core.ExitCodeConfig
	}

	logger, err := logging.NewLogger(cfg.DevMode, cfg.LogFile)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	logger.ApplyLevel(cfg.LogLevel)
	zl := logger.Zap()

	if code := runStartupValidation(logger, cfg); code != core.ExitCodeSuccess {
		_ = logger.Sync()
		return code
	}

	logger.Info("Configuration loaded",
		zap.String("version", core.GetVersionInfo().String()),
		zap.String("device", cfg.Device),
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Int("model_cache_size", cfg.ModelCacheSize),
		zap.String("image_runtime", cfg.ImageRuntime),
		zap.String("session_db", cfg.SessionDBPath),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("workspace_root", cfg.WorkspacePath()),
		zap.Bool("auto_save", cfg.EnableAutoSave),
		zap.Bool("dev_mode", cfg.DevMode),
	)

	mgr := shutdown.NewManager(zl)

	opts := []orchestrator.Option{orchestrator.WithRegisterer(prometheus.DefaultRegisterer)}
	var database *db.Database
	if cfg.SessionDBPath != "" {
		database, err = db.Open(cfg.SessionDBPath, zl)
		if err != nil {
			logger.Error("Failed to open session database", zap.String("path", cfg.SessionDBPath), zap.Error(err))
			_ = logger.Sync()
			return core.ExitCodeDatabase
		}
		opts = append(opts, orchestrator.WithDatabase(database))
	}
	closeDatabase := func() {
		if database != nil {
			_ = database.Close()
		}
	}

	engine, err := orchestrator.New(cfg, logger, opts...)
	if err != nil {
		logger.Error("Failed to start orchestration context", zap.Error(err))
		closeDatabase()
		_ = logger.Sync()
		return core.ExitCodeError
	}

	serverOpts := []webui.Option{webui.WithTracker(mgr)}
	if cfg.APIKey != "" || cfg.APIKeyHash != "" {
		keyAuth, err := auth.New(auth.Config{Key: cfg.APIKey, Hash: cfg.APIKeyHash}, zl)
		if err != nil {
			logger.Error("Failed to configure API key auth", zap.Error(err))
			_ = engine.Close(context.Background())
			closeDatabase()
			_ = logger.Sync()
			return core.ExitCodeConfig
		}
		serverOpts = append(serverOpts, webui.WithAuth(keyAuth))
	} else {
		logger.Warn("No api_key configured; the API is open to any local client")
	}

	server, err := webui.NewServer(webui.ServerConfigFromCore(cfg), engine, zl, serverOpts...)
	if err != nil {
		logger.Error("Failed to create web server", zap.Error(err))
		_ = engine.Close(context.Background())
		closeDatabase()
		_ = logger.Sync()
		return core.ExitCodeError
	}

	mgr.Register("webui", shutdown.PriorityWebUI, shutdown.HTTPServer(server.HTTPServer()))
	mgr.Register("orchestrator", shutdown.PriorityOrchestrator, engine.Close)
	if database != nil {
		mgr.Register("database", shutdown.PriorityDatabase, shutdown.Closer(database))
	}
	mgr.Register("logger", shutdown.PriorityLogger, shutdown.SyncLogger(zl))
	mgr.Start()

	if stop != nil {
		go func() {
			select {
			case <-stop:
				logger.Info("Stop requested by service manager")
				mgr.Trigger()
			case <-mgr.Context().Done():
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(mgr.Context())
	}()

	exitCode := core.ExitCodeSuccess
	select {
	case <-mgr.Context().Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("Web server stopped unexpectedly", zap.Error(err))
			exitCode = core.ExitCodeError
		}
	}

	if err := mgr.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown completed with errors: %v\n", err)
		if exitCode == core.ExitCodeSuccess {
			exitCode = core.ExitCodeError
		}
	}
	if exitCode != core.ExitCodeSuccess {
		fmt.Fprintf(os.Stderr, "Exiting with code %d (%s)\n", exitCode, core.ExitCodeName(exitCode))
	}
	return exitCode
}

// runStartupValidation runs the startup suite and maps a failure to
// ExitCodeValidation. Warnings are logged but do not stop startup.
func runStartupValidation(logger *logging.Logger, cfg *core.Config) int {
	logger.Info("Starting startup validation...")

	suite := validation.NewValidationSuite(cfg).
		WithShowProgress(service.Interactive())
	result := suite.Validate(context.Background())

	if !result.Success {
		logger.Error("Startup validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("Validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}
		return core.ExitCodeValidation
	}

	for _, step := range result.Steps {
		if step.Status == validation.StepWarning {
			logger.Warn("Validation warning",
				zap.String("step", step.Name),
				zap.String("message", step.Message),
				zap.Error(step.Error),
			)
		}
	}
	logger.Info("Startup validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return core.ExitCodeSuccess
}

// printConfigError reports configuration problems before a logger exists.
func printConfigError(err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprintln(os.Stderr, "Configuration error")

	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		if cfgErr, ok := core.IsConfigError(e); ok {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", cfgErr.Message)
			if cfgErr.Action != "" {
				color.New(color.FgHiBlack).Fprintf(os.Stderr, "    └─ %s\n", cfgErr.Action)
			}
			continue
		}
		fmt.Fprintf(os.Stderr, "  ✗ %v\n", e)
	}
}
