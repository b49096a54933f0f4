package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slok/stepflow/internal/checkpoint"
	"github.com/slok/stepflow/internal/conventions"
	"github.com/slok/stepflow/internal/engine"
	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/heal"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
	"github.com/slok/stepflow/internal/resolver"
	"github.com/slok/stepflow/internal/storage"
	"github.com/slok/stepflow/internal/storage/file"
	"github.com/slok/stepflow/internal/storage/memory"
	"github.com/slok/stepflow/internal/storage/sqlite"
	"github.com/slok/stepflow/internal/tool"
	"github.com/slok/stepflow/internal/tool/local"
	"github.com/slok/stepflow/internal/tool/safety"
)

// StoreType identifies where checkpoints and goals are persisted.
type StoreType string

const (
	// StoreSQLite persists the records in a SQLite database.
	StoreSQLite StoreType = "sqlite"
	// StoreFile persists one JSON file per record.
	StoreFile StoreType = "file"
	// StoreMemory keeps the records in memory, they are lost on Close.
	StoreMemory StoreType = "memory"
)

// ConfirmFunc approves the gated steps. Returning an error pauses the task as
// [TaskStateNeedUser].
type ConfirmFunc func(ctx context.Context, req ConfirmRequest) (bool, error)

// Config configures the SDK client.
//
// All fields are optional. An empty Config{} stores the records in
// ~/.stepflow/stepflow.db and runs the tools on the current directory.
type Config struct {
	// DataDir is the base directory for the stepflow data.
	// Default: ~/.stepflow.
	DataDir string

	// Store selects the record store.
	// Default: [StoreSQLite].
	Store StoreType

	// DBPath is the SQLite database path.
	// Default: <DataDir>/stepflow.db.
	DBPath string

	// WorkDir resolves the relative tool paths and runs the commands.
	// Default: the current working directory.
	WorkDir string

	// Shell runs the run_command commands.
	// Default: bash.
	Shell string

	// Env are KEY=VALUE variables added to the commands environment.
	Env []string

	// Policy is checked before every tool call.
	// Default: [DefaultPolicy].
	Policy *Policy

	// Confirm approves the gated steps. Without it gated steps pause the task
	// as [TaskStateNeedUser] until it's resumed with a confirmer.
	Confirm ConfirmFunc

	// MaxParallel is the max number of concurrent tool calls in a level.
	// Default: 8.
	MaxParallel int

	// OnEvent receives the execution progress events.
	OnEvent func(Event)

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.Store == "" {
		c.Store = StoreSQLite
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.Policy == nil {
		p := DefaultPolicy()
		c.Policy = &p
	}

	if c.OnEvent == nil {
		c.OnEvent = func(Event) {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point for running tasks and goals programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	repo     storage.Repository
	manager  *checkpoint.Manager
	builder  *plan.Builder
	executor *engine.Executor
	goals    *goal.Runner
	logger   log.Logger
	closeFn  func() error
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done to flush the checkpoints and
// release the store. Typically used with defer:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repo, closeFn, err := newRepository(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	c, err := newClient(cfg, repo)
	if err != nil {
		_ = closeFn()
		return nil, mapError(err)
	}
	c.closeFn = closeFn

	return c, nil
}

func newRepository(ctx context.Context, cfg Config) (storage.Repository, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Store {
	case StoreSQLite:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: cfg.DBPath, Logger: cfg.Logger})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case StoreFile:
		repo, err := file.NewRepository(file.RepositoryConfig{Dir: conventions.RecordsPath(cfg.DataDir), Logger: cfg.Logger})
		if err != nil {
			return nil, nil, err
		}
		return repo, noClose, nil
	case StoreMemory:
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, nil, err
		}
		return repo, noClose, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store type: %s: %w", cfg.Store, ErrNotValid)
	}
}

func newClient(cfg Config, repo storage.Repository) (*Client, error) {
	logger := cfg.Logger

	registry := tool.NewRegistry()
	localTools, err := local.NewTools(local.ToolsConfig{
		WorkDir: cfg.WorkDir,
		Shell:   cfg.Shell,
		Env:     cfg.Env,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create local tools: %w", err)
	}
	localTools.Register(registry)

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get working directory: %w", err)
		}
	}
	checker, err := safety.NewChecker(safety.CheckerConfig{Policy: *cfg.Policy, WorkDir: workDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("invalid policy: %s: %w", err, model.ErrNotValid)
	}

	var confirmer tool.Confirmer
	if cfg.Confirm != nil {
		confirmer = confirmFunc(cfg.Confirm)
	}

	res, err := resolver.NewResolver(resolver.ResolverConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	builder, err := plan.NewBuilder(plan.BuilderConfig{Resolver: res, Logger: logger})
	if err != nil {
		return nil, err
	}
	healer, err := heal.NewHealer(heal.HealerConfig{Logger: logger})
	if err != nil {
		return nil, err
	}
	manager, err := checkpoint.NewManager(checkpoint.ManagerConfig{Repository: repo, Logger: logger})
	if err != nil {
		return nil, err
	}

	newExecutor := func(caller tool.Caller) (*engine.Executor, error) {
		return engine.NewExecutor(engine.ExecutorConfig{
			Tools:       caller,
			Checker:     checker,
			Confirmer:   confirmer,
			Healer:      healer,
			Resolver:    res,
			Builder:     builder,
			Checkpoints: manager,
			OnEvent:     cfg.OnEvent,
			MaxParallel: cfg.MaxParallel,
			Logger:      logger,
		})
	}
	executor, err := newExecutor(registry)
	if err != nil {
		return nil, err
	}

	// Goal attempts verify the effect of their file operations.
	verifier, err := goal.NewVerifyingCaller(goal.VerifyingCallerConfig{Tools: registry, Logger: logger})
	if err != nil {
		return nil, err
	}
	goalExecutor, err := newExecutor(verifier)
	if err != nil {
		return nil, err
	}
	validator, err := goal.NewValidator(goal.ValidatorConfig{Tools: registry, Resolver: res, Logger: logger})
	if err != nil {
		return nil, err
	}
	goals, err := goal.NewRunner(goal.RunnerConfig{
		Tasks:      goalExecutor,
		Validator:  validator,
		Repository: repo,
		OnEvent:    cfg.OnEvent,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		repo:     repo,
		manager:  manager,
		builder:  builder,
		executor: executor,
		goals:    goals,
		logger:   logger,
	}, nil
}

// Close flushes the checkpoints of the tasks still running and releases the
// store. After Close returns, the client must not be used.
func (c *Client) Close() error {
	err := c.manager.Close(context.Background())
	if c.closeFn != nil {
		if cerr := c.closeFn(); err == nil {
			err = cerr
		}
	}
	return err
}

type confirmFunc ConfirmFunc

func (f confirmFunc) Confirm(ctx context.Context, req tool.ConfirmRequest) (bool, error) {
	return f(ctx, ConfirmRequest{
		TaskID: req.TaskID,
		StepID: req.StepID,
		Tool:   req.Tool,
		Params: req.Params,
	})
}
