package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/stepflow/internal/checkpoint"
	"github.com/slok/stepflow/internal/conventions"
	"github.com/slok/stepflow/internal/engine"
	"github.com/slok/stepflow/internal/goal"
	"github.com/slok/stepflow/internal/heal"
	"github.com/slok/stepflow/internal/log"
	"github.com/slok/stepflow/internal/model"
	"github.com/slok/stepflow/internal/plan"
	"github.com/slok/stepflow/internal/printer"
	"github.com/slok/stepflow/internal/resolver"
	"github.com/slok/stepflow/internal/storage"
	"github.com/slok/stepflow/internal/storage/file"
	storageio "github.com/slok/stepflow/internal/storage/io"
	"github.com/slok/stepflow/internal/storage/sqlite"
	"github.com/slok/stepflow/internal/tool"
	"github.com/slok/stepflow/internal/tool/docker"
	"github.com/slok/stepflow/internal/tool/local"
	"github.com/slok/stepflow/internal/tool/prompt"
	"github.com/slok/stepflow/internal/tool/safety"
	"github.com/slok/stepflow/internal/tool/ssh"
	"github.com/slok/stepflow/internal/utils/env"
)

const (
	confirmPrompt = "prompt"
	confirmYes    = "yes"
	confirmPause  = "pause"
)

// newRepository returns the configured store and its closer.
func newRepository(ctx context.Context, root *RootCommand) (storage.Repository, func() error, error) {
	switch root.Store {
	case StoreFile:
		repo, err := file.NewRepository(file.RepositoryConfig{
			Dir:    conventions.RecordsPath(root.DataDir),
			Logger: root.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() error { return nil }, nil
	default:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: root.dbPath(),
			Logger: root.Logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	}
}

// newPrinter returns the printer of the output format.
func newPrinter(root *RootCommand, format string) printer.Printer {
	if format == formatJSON {
		return printer.NewJSONPrinter(root.Stdout)
	}
	return printer.NewTablePrinter(root.Stdout)
}

// loadPolicy returns the default safety policy extended with the policy file.
func loadPolicy(ctx context.Context, root *RootCommand) (safety.Policy, error) {
	policy := safety.DefaultPolicy()

	path := root.PolicyPath
	if path == "" {
		path = conventions.PolicyPath(root.DataDir)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return policy, nil
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return safety.Policy{}, err
	}
	repo, err := storageio.NewPolicyRepository(os.DirFS(filepath.Dir(abs)))
	if err != nil {
		return safety.Policy{}, err
	}
	extra, err := repo.GetPolicy(ctx, filepath.Base(abs))
	if err != nil {
		return safety.Policy{}, fmt.Errorf("could not load policy %s: %w", path, err)
	}

	return policy.Merge(extra), nil
}

// loadSubmission loads a task or goal document.
func loadSubmission(ctx context.Context, path string) (*storageio.Submission, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	repo, err := storageio.NewSubmissionRepository(os.DirFS(filepath.Dir(abs)))
	if err != nil {
		return nil, err
	}
	return repo.GetSubmission(ctx, filepath.Base(abs))
}

// runtimeFlags are the execution flags of the commands that run tasks.
type runtimeFlags struct {
	workDir         string
	shell           string
	envSpecs        []string
	dockerContainer string
	sshTarget       string
	sshKey          string
	confirm         string
	maxParallel     int
	format          string
}

func (f *runtimeFlags) register(cmd *kingpin.CmdClause) {
	cmd.Flag("workdir", "Working directory of the tools (defaults to the current one).").StringVar(&f.workDir)
	cmd.Flag("shell", "Shell used by run_command.").Default("bash").StringVar(&f.shell)
	cmd.Flag("env", "Environment variable for the commands, KEY=VALUE or KEY to inherit it (repeatable).").StringsVar(&f.envSpecs)
	cmd.Flag("docker-container", "Run the commands inside this running Docker container.").StringVar(&f.dockerContainer)
	cmd.Flag("ssh", "Run the commands on this remote host ([user@]host[:port]).").StringVar(&f.sshTarget)
	cmd.Flag("ssh-key", "Private key used by --ssh (defaults to ~/.ssh/id_ed25519).").StringVar(&f.sshKey)
	cmd.Flag("confirm", "How gated steps are approved (prompt, yes, pause).").Default(confirmPrompt).EnumVar(&f.confirm, confirmPrompt, confirmYes, confirmPause)
	cmd.Flag("max-parallel", "Max concurrent tool calls per level.").Default(strconv.Itoa(engine.DefaultMaxParallel)).IntVar(&f.maxParallel)
	cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&f.format, formatTable, formatJSON)
}

// runtime are the collaborators of a task or goal execution.
type runtime struct {
	repo     storage.Repository
	manager  *checkpoint.Manager
	builder  *plan.Builder
	executor *engine.Executor
	goals    *goal.Runner
	printer  printer.Printer

	closeRepo func() error
}

// newRuntime wires the executor. When verify is set the successful tool calls
// are checked for their effect before settling.
func newRuntime(ctx context.Context, root *RootCommand, flags runtimeFlags, verify bool) (*runtime, error) {
	logger := root.Logger

	policy, err := loadPolicy(ctx, root)
	if err != nil {
		return nil, err
	}

	envList, err := env.ParseSpecs(flags.envSpecs)
	if err != nil {
		return nil, fmt.Errorf("invalid env: %w", err)
	}

	workDir := flags.workDir
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get working directory: %w", err)
		}
	}

	registry := tool.NewRegistry()
	localTools, err := local.NewTools(local.ToolsConfig{
		WorkDir: workDir,
		Shell:   flags.shell,
		Env:     env.ToList(envList),
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create local tools: %w", err)
	}
	localTools.Register(registry)

	if flags.dockerContainer != "" && flags.sshTarget != "" {
		return nil, fmt.Errorf("--docker-container and --ssh are exclusive: %w", model.ErrNotValid)
	}
	if flags.dockerContainer != "" {
		dockerCmd, err := docker.NewRunCommand(docker.RunCommandConfig{
			Container: flags.dockerContainer,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create docker tool: %w", err)
		}
		dockerCmd.Register(registry)
	}

	checker, err := safety.NewChecker(safety.CheckerConfig{
		Policy:  policy,
		WorkDir: workDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create safety checker: %w", err)
	}

	var confirmer tool.Confirmer
	switch flags.confirm {
	case confirmYes:
		confirmer = tool.AutoConfirm
	case confirmPrompt:
		confirmer, err = prompt.NewConfirmer(prompt.ConfirmerConfig{
			In:     root.Stdin,
			Out:    root.Stderr,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create confirmer: %w", err)
		}
	}

	res, err := resolver.NewResolver(resolver.ResolverConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create resolver: %w", err)
	}
	builder, err := plan.NewBuilder(plan.BuilderConfig{Resolver: res, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create plan builder: %w", err)
	}
	healer, err := heal.NewHealer(heal.HealerConfig{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("could not create healer: %w", err)
	}

	repo, closeRepo, err := newRepository(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	if flags.sshTarget != "" {
		sshClient, err := newSSHClient(ctx, flags, logger)
		if err != nil {
			_ = closeRepo()
			return nil, err
		}
		sshCmd, err := ssh.NewRunCommand(ssh.RunCommandConfig{
			Client:  sshClient,
			WorkDir: flags.workDir,
			Shell:   flags.shell,
			Logger:  logger,
		})
		if err != nil {
			_ = sshClient.Close()
			_ = closeRepo()
			return nil, fmt.Errorf("could not create ssh tool: %w", err)
		}
		sshCmd.Register(registry)

		storeClose := closeRepo
		closeRepo = func() error {
			_ = sshClient.Close()
			return storeClose()
		}
	}
	manager, err := checkpoint.NewManager(checkpoint.ManagerConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		_ = closeRepo()
		return nil, fmt.Errorf("could not create checkpoint manager: %w", err)
	}

	var caller tool.Caller = registry
	if verify {
		caller, err = goal.NewVerifyingCaller(goal.VerifyingCallerConfig{Tools: registry, Logger: logger})
		if err != nil {
			_ = closeRepo()
			return nil, fmt.Errorf("could not create verifying caller: %w", err)
		}
	}

	p := newPrinter(root, flags.format)
	onEvent := func(ev model.Event) {
		if err := p.PrintEvent(ev); err != nil {
			logger.Warningf("Could not print event: %s", err)
		}
	}
	executor, err := engine.NewExecutor(engine.ExecutorConfig{
		Tools:       caller,
		Checker:     checker,
		Confirmer:   confirmer,
		Healer:      healer,
		Resolver:    res,
		Builder:     builder,
		Checkpoints: manager,
		OnEvent:     onEvent,
		MaxParallel: flags.maxParallel,
		Logger:      logger,
	})
	if err != nil {
		_ = closeRepo()
		return nil, fmt.Errorf("could not create executor: %w", err)
	}

	validator, err := goal.NewValidator(goal.ValidatorConfig{Tools: registry, Resolver: res, Logger: logger})
	if err != nil {
		_ = closeRepo()
		return nil, fmt.Errorf("could not create validator: %w", err)
	}
	goals, err := goal.NewRunner(goal.RunnerConfig{
		Tasks:      executor,
		Validator:  validator,
		Repository: repo,
		OnEvent:    onEvent,
		Logger:     logger,
	})
	if err != nil {
		_ = closeRepo()
		return nil, fmt.Errorf("could not create goal runner: %w", err)
	}

	return &runtime{
		repo:      repo,
		manager:   manager,
		builder:   builder,
		executor:  executor,
		goals:     goals,
		printer:   p,
		closeRepo: closeRepo,
	}, nil
}

// newSSHClient connects to the --ssh target.
func newSSHClient(ctx context.Context, flags runtimeFlags, logger log.Logger) (*ssh.Client, error) {
	target, err := ssh.ParseTarget(flags.sshTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid ssh target: %w", err)
	}
	key, err := ssh.LoadPrivateKey(flags.sshKey)
	if err != nil {
		return nil, err
	}

	client, err := ssh.NewClient(ctx, ssh.ClientConfig{
		Host:       target.Host,
		Port:       target.Port,
		User:       target.User,
		PrivateKey: key,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to %s: %w", flags.sshTarget, err)
	}
	return client, nil
}

// Close flushes the active checkpoints and closes the store.
func (r *runtime) Close(ctx context.Context) error {
	err := r.manager.Close(ctx)
	if cerr := r.closeRepo(); err == nil {
		err = cerr
	}
	return err
}
