package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hpungsan/sugya/internal/config"
	"github.com/hpungsan/sugya/internal/db"
	"github.com/hpungsan/sugya/internal/enrich"
	"github.com/hpungsan/sugya/internal/lock"
	"github.com/hpungsan/sugya/internal/logging"
	"github.com/hpungsan/sugya/internal/mcp"
	"github.com/hpungsan/sugya/internal/metrics"
	"github.com/hpungsan/sugya/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"add": true, "fetch": true, "list": true, "search": true,
	"duplicates": true, "merge": true, "update-root": true, "regenerate": true,
	"delete": true, "remove-branch": true, "harvest": true,
	"export": true, "import": true, "migrate-legacy": true,
	"ui": true, "mcp": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false // Default → MCP server
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ _   _  __ ___  _ __ _
  / __| | | |/ _' \ \/ / _' |
  \__ \ |_| | (_| |\  / (_| |
  |___/\__,_|\__, | |_|\__,_|
             |___/

  Reception trees for Talmudic passages

  Usage: sugya <command> [options]
         sugya --help

  MCP server mode requires piped input.`)
}

// appEnv holds everything a command needs once the store is open.
type appEnv struct {
	svc     *ops.Service
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	closers []func() error
}

// Close releases the database and lock backends.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	_ = e.logger.Sync()
}

// setup loads config and opens the database, lock backend and enricher.
func setup(ctx context.Context, baseDir, workDir string) (*appEnv, error) {
	cfg, err := config.LoadWithRepo(baseDir, workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", zap.Strings("types", unknown))
	}

	env := &appEnv{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}

	database, dialect, err := db.Open(ctx, baseDir, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	env.closers = append(env.closers, database.Close)
	logger.Debug("database opened", zap.Stringer("dialect", dialect))

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		r, err := lock.NewRedis(ctx, cfg.RedisURL, cfg.LockTTL())
		if err != nil {
			env.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		env.closers = append(env.closers, r.Close)
		locker = r
	}

	var enricher enrich.Enricher = enrich.Unavailable
	a, err := enrich.NewAnthropic(enrich.Options{
		APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
		Model:             cfg.EnrichmentModel,
		MaxTokens:         cfg.EnrichmentMaxTokens,
		Timeout:           cfg.EnrichmentTimeout(),
		RequestsPerMinute: cfg.EnrichmentRequestsPerMinute,
	}, logger)
	switch {
	case err == nil:
		enricher = a
	case stderrors.Is(err, enrich.ErrUnavailable):
		logger.Info("content enrichment disabled; new passages will fail until ANTHROPIC_API_KEY is set")
	default:
		env.Close()
		return nil, err
	}

	env.svc = ops.New(ops.Deps{
		Repo:       db.NewStore(database, dialect),
		Enricher:   enricher,
		Locker:     locker,
		Config:     cfg,
		Logger:     logger,
		Metrics:    env.metrics,
		ExportsDir: filepath.Join(baseDir, "exports"),
	})
	return env, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'sugya --help' for usage.\n")
		os.Exit(1)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	workDir, _ := os.Getwd()

	env, err := setup(context.Background(), filepath.Join(homeDir, config.DirName), workDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if isCLIMode() {
		err = newCLIApp(env).Run(os.Args)
	} else {
		// MCP server mode (default)
		err = mcp.Run(env.svc, env.cfg, Version)
	}
	env.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
