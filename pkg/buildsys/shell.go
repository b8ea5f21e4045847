package buildsys

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// ExecHandler runs a single external command. It has the same shape as interp.ExecHandlerFunc.
type ExecHandler func(ctx context.Context, args []string) error

// RunOptions controls a build run.
type RunOptions struct {
	// DryRun only logs the commands that would be executed.
	DryRun bool
	// Force ignores skip_if_exists and input/output checks.
	Force bool
	// Skip lists tasks that are planned but not executed.
	Skip []string
	// Secrets are masked in every logged command.
	Secrets []string
	// ExecHandler replaces the default process execution.
	ExecHandler ExecHandler
	Stdout      io.Writer
	Stderr      io.Writer
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		current     string
		dryRun      bool
		force       bool
		secrets     []string
		exec        ExecHandler
		stdout      io.Writer
		stderr      io.Writer
	}
)

// NewContext prepares ctx for running tasks and commands below projectRoot.
func NewContext(ctx context.Context, projectRoot string, opts RunOptions) context.Context {
	rctx := &runtimeCtx{
		runTasks:    make(map[string]bool),
		projectRoot: projectRoot,
		dryRun:      opts.DryRun,
		force:       opts.Force,
		secrets:     opts.Secrets,
		exec:        opts.ExecHandler,
		stdout:      opts.Stdout,
		stderr:      opts.Stderr,
	}

	if rctx.exec == nil {
		rctx.exec = execHandler
	}
	if rctx.stdout == nil {
		rctx.stdout = os.Stdout
	}
	if rctx.stderr == nil {
		rctx.stderr = os.Stderr
	}

	return context.WithValue(ctx, runtimeCtxKey{}, rctx)
}

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

// IsDryRun reports whether commands should only be logged.
func IsDryRun(ctx context.Context) bool {
	return getRuntimeCtx(ctx).dryRun
}

func (r *runtimeCtx) mask(text string) string {
	for _, secret := range r.secrets {
		if secret != "" {
			text = strings.ReplaceAll(text, secret, "***")
		}
	}
	return text
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2)

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// the hidden subcommands of this binary behave the same on every platform
			self, err := os.Executable()
			if err == nil {
				args = append([]string{self}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func (r *runtimeCtx) newRunner(dir string, env expand.Environ, stdout io.Writer) (*interp.Runner, error) {
	handler := r.exec
	return interp.New(
		interp.Dir(dir),
		interp.Env(env),
		interp.ExecHandler(func(ctx context.Context, args []string) error {
			return handler(ctx, args)
		}),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, stdout, r.stderr),
		interp.Params("-e"),
	)
}

func printNode(node syntax.Node) string {
	buf := strings.Builder{}
	if err := syntax.NewPrinter(syntax.Minify(true)).Print(&buf, node); err != nil {
		return fmt.Sprintf("%v", node)
	}
	return buf.String()
}

func readDir(path string) ([]os.FileInfo, error) {
	return ioutil.ReadDir(path)
}

// splitLiteralPrefix separates the leading directories of an absolute pattern that contain no
// wildcards from the rest of the pattern.
func splitLiteralPrefix(pattern string) (string, string) {
	dir := pattern
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
		if !strings.ContainsAny(dir, "*?[{") {
			break
		}
	}

	rel, err := filepath.Rel(dir, pattern)
	if err != nil {
		return dir, pattern
	}
	return dir, rel
}

// Glob expands shell patterns (including **) relative to base. Patterns starting with // are
// relative to the project root. Patterns without wildcards are returned as they are, patterns
// with wildcards but without matches produce no results.
//
// Only the pattern goes through the shell parser. base is passed as the working directory, so
// it may contain spaces and shell metacharacters.
func Glob(ctx context.Context, base string, patterns ...string) ([]string, error) {
	result := []string{}
	parser := syntax.NewParser()

	for _, pattern := range patterns {
		dir := base
		switch {
		case strings.HasPrefix(pattern, "//"):
			rctx, ok := ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
			if !ok {
				return nil, eris.Errorf("pattern %s needs a project root", pattern)
			}
			dir = rctx.projectRoot
			pattern = strings.TrimLeft(pattern, "/")
		case filepath.IsAbs(pattern):
			dir, pattern = splitLiteralPrefix(pattern)
		}

		words := []*syntax.Word{}
		err := parser.Words(strings.NewReader(filepath.ToSlash(pattern)), func(w *syntax.Word) bool {
			words = append(words, w)
			return true
		})
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to parse pattern %s", pattern)
		}

		cfg := &expand.Config{
			Env:      expand.ListEnviron("PWD=" + dir),
			ReadDir:  readDir,
			GlobStar: true,
			NullGlob: true,
		}
		matches, err := expand.Fields(cfg, words...)
		if err != nil {
			return nil, eris.Wrapf(err, "Failed to resolve pattern %s in %s", pattern, dir)
		}

		for _, match := range matches {
			match = filepath.FromSlash(match)
			if !filepath.IsAbs(match) {
				match = filepath.Join(dir, match)
			}
			result = append(result, match)
		}
	}

	return result, nil
}

// Command describes a single external tool invocation.
type Command struct {
	Dir  string
	Env  map[string]string
	Args []string
	// Secrets are masked when the command is logged.
	Secrets []string
	// Stdout receives the command's output instead of the run's standard output. Captured
	// commands are logged at debug level.
	Stdout io.Writer
}

var dblQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// quoteArg turns a plain argument into a shell word that expands back to exactly value.
func quoteArg(value string) *syntax.Word {
	var part syntax.WordPart

	switch {
	case strings.Contains(value, "'"):
		part = &syntax.DblQuoted{Parts: []syntax.WordPart{&syntax.Lit{Value: dblQuoteEscaper.Replace(value)}}}
	case value == "" || strings.ContainsAny(value, " \t\n$\"*?[]{}();&|<>`\\~#"):
		part = &syntax.SglQuoted{Value: value}
	default:
		part = &syntax.Lit{Value: value}
	}

	return &syntax.Word{Parts: []syntax.WordPart{part}}
}

func (c Command) callExpr() *syntax.CallExpr {
	cmd := new(syntax.CallExpr)
	cmd.Args = make([]*syntax.Word, len(c.Args))
	for idx, arg := range c.Args {
		cmd.Args[idx] = quoteArg(arg)
	}

	return cmd
}

// String renders the command the way it is logged, with secrets masked.
func (c Command) String() string {
	result := printNode(c.callExpr())
	for _, secret := range c.Secrets {
		if secret != "" {
			result = strings.ReplaceAll(result, secret, "***")
		}
	}
	return result
}

// Exec runs cmd through the shell interpreter and blocks until it exits. In a dry run the
// command is only logged.
func Exec(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return eris.New("empty command")
	}

	rctx := getRuntimeCtx(ctx)
	evt := log(ctx).Info()
	stdout := rctx.stdout
	if cmd.Stdout != nil {
		evt = log(ctx).Debug()
		stdout = cmd.Stdout
	}
	evt.Str("task", rctx.current).
		Bool("command", true).
		Msg(rctx.mask(cmd.String()))

	if rctx.dryRun {
		return nil
	}

	dir := cmd.Dir
	if dir == "" {
		dir = rctx.projectRoot
	}

	envVars := os.Environ()
	for name, value := range cmd.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	runner, err := rctx.newRunner(dir, expand.ListEnviron(envVars...), stdout)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	err = runner.Run(ctx, &syntax.Stmt{Cmd: cmd.callExpr()})
	if err != nil {
		if status, ok := interp.IsExitStatus(err); ok {
			return eris.Errorf("%s exited with status %d", cmd.Args[0], status)
		}
		return eris.Wrapf(err, "failed to run %s", cmd.Args[0])
	}

	return nil
}
