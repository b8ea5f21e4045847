package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/backend-fx/build/pkg"
	"github.com/backend-fx/build/pkg/buildsys"
	"github.com/backend-fx/build/pkg/ci"
	"github.com/backend-fx/build/pkg/config"
	"github.com/backend-fx/build/pkg/pipeline"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildchain [targets...] [name=value...]",
		Short: "Builds, tests, packs and publishes the .NET solution in the current repository",
		Long: `This command runs the build targets clean, restore, compile, test, pack and publish.
Dependencies of the requested targets run first. Without a target, publish is built.

Arguments of the form name=value set options declared by the build.star script.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBuild,
	}

	flags := cmd.Flags()
	flags.StringP("configuration", "c", "", "build configuration (Debug or Release); defaults to Debug locally and Release on a build server")
	flags.BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	flags.BoolP("force", "f", false, "force build; always execute extension targets even if their outputs are up to date")
	flags.StringSlice("skip", nil, "targets to skip (comma separated)")
	flags.String("root", "", "repository root (defaults to the nearest parent directory containing .git)")
	flags.BoolP("list", "l", false, "list the available targets and exit")
	flags.String("log-level", "", "log level (debug, info, warn or error)")
	flags.Bool("log-json", false, "write log events as JSON lines")

	cmd.AddCommand(mvCmd, rmCmd, mkdirCmd)
	return cmd
}

var rootCmd = newRootCmd()

// errReported marks failures that have already been logged.
var errReported = eris.New("build failed")

// lookupEnv and execHandler are replaced in tests. A nil execHandler starts real processes.
var (
	lookupEnv   = os.LookupEnv
	execHandler buildsys.ExecHandler
)

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !eris.Is(err, errReported) {
			pkg.PrintError(os.Stderr, eris.ToString(err, debugEnabled()))
		}
		os.Exit(1)
	}
}

func debugEnabled() bool {
	return os.Getenv("BUILDCHAIN_DEBUG") != ""
}

func splitArgs(args []string) ([]string, map[string]string) {
	targets := make([]string, 0, len(args))
	options := make(map[string]string)

	for _, part := range args {
		pos := strings.Index(part, "=")
		if pos > -1 {
			options[part[:pos]] = part[pos+1:]
		} else {
			targets = append(targets, part)
		}
	}

	return targets, options
}

func findRoot(cmd *cobra.Command) (string, error) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return "", err
	}

	if root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	return pkg.GetProjectRoot(wd)
}

func loadConfig(cmd *cobra.Command, root string, host ci.Host) (*config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("configuration") {
		cfg.Configuration, _ = flags.GetString("configuration")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	cfg.Resolve(host.IsLocalBuild())
	if err = cfg.Validate(root); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Log.JSON {
		logger = zerolog.New(out).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(&ConsoleWriter{Out: out})
	}

	return logger.Level(cfg.LogLevel())
}

func runBuild(cmd *cobra.Command, args []string) error {
	targets, options := splitArgs(args)

	root, err := findRoot(cmd)
	if err != nil {
		return err
	}

	host := ci.Detect(lookupEnv)
	cfg, err := loadConfig(cmd, root, host)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, cmd.ErrOrStderr())
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = buildsys.WithLogger(ctx, &logger)

	dryRun, _ := cmd.Flags().GetBool("dry")
	force, _ := cmd.Flags().GetBool("force")
	skip, _ := cmd.Flags().GetStringSlice("skip")
	opts := buildsys.RunOptions{
		DryRun:      dryRun,
		Force:       force,
		Skip:        skip,
		Secrets:     cfg.Secrets(),
		ExecHandler: execHandler,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	}

	// build.star runs its queries even in a dry run
	scriptCtx := buildsys.NewContext(ctx, root, buildsys.RunOptions{
		Secrets:     opts.Secrets,
		ExecHandler: opts.ExecHandler,
		Stderr:      opts.Stderr,
	})

	build := pipeline.New(cfg, host, root)
	tasks, err := build.AllTasks(scriptCtx, options)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load targets")
		return errReported
	}

	list, _ := cmd.Flags().GetBool("list")
	if list {
		printTaskList(cmd.OutOrStdout(), tasks)

		scriptOptions, err := build.ScriptOptions(scriptCtx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read build options")
			return errReported
		}
		printOptions(cmd.OutOrStdout(), scriptOptions)
		return nil
	}

	if len(targets) == 0 {
		targets = []string{pipeline.DefaultTarget}
	}

	if host.IsLocalBuild() {
		logger.Debug().Msgf("Local build, configuration %s", cfg.Configuration)
	} else {
		logger.Debug().Msgf("Running on %s, configuration %s", host.Name, cfg.Configuration)
	}

	summary, err := buildsys.Run(ctx, root, targets, tasks, opts)
	if summary == nil {
		// the plan itself is invalid
		logger.Error().Err(err).Msg("Failed to plan the build")
		return errReported
	}

	printSummary(cmd.OutOrStdout(), summary)
	if err != nil {
		logger.Error().Err(err).Msg("Build failed")
		return errReported
	}

	return nil
}
