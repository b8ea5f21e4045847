package pipeline

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/backend-fx/build/pkg/buildsys"
)

// ScriptName is the optional extension script in the project root.
const ScriptName = "build.star"

func flag(name string, value func() bool) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(fn.Name(), args, kwargs); err != nil {
			return nil, err
		}
		return starlark.Bool(value()), nil
	})
}

// scriptGlobals describes the build to build.star: the configuration, the artifacts directory,
// the version, the branch and the feed the branch publishes to.
func (b *Build) scriptGlobals() (starlark.StringDict, error) {
	version, err := b.Version()
	if err != nil {
		return nil, eris.Wrap(err, "failed to determine the version")
	}

	branch, err := b.Branch()
	if err != nil {
		return nil, eris.Wrap(err, "failed to determine the branch")
	}

	return starlark.StringDict{
		"CONFIGURATION":    starlark.String(b.Config.Configuration),
		"ARTIFACTS":        starlark.String(b.Artifacts),
		"VERSION":          starlark.String(version.SemVer()),
		"NUGET_VERSION":    starlark.String(version.NuGetVersion()),
		"BRANCH":           starlark.String(branch),
		"FEED":             starlark.String(b.Config.SelectFeed(branch).URL),
		"is_local_build":   flag("is_local_build", b.Host.IsLocalBuild),
		"is_dependabot_pr": flag("is_dependabot_pr", b.TriggeredByBot),
	}, nil
}

func (b *Build) script(options map[string]string) (*buildsys.Script, bool, error) {
	filename := filepath.Join(b.Root, ScriptName)
	if _, err := os.Stat(filename); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "failed to check %s", filename)
	}

	globals, err := b.scriptGlobals()
	if err != nil {
		return nil, false, err
	}

	return &buildsys.Script{Filename: filename, Values: options, Globals: globals}, true, nil
}

// AllTasks returns the built-in targets merged with the targets declared by build.star, if the
// project has one. Commands the script runs while it is evaluated use the exec handler of ctx.
func (b *Build) AllTasks(ctx context.Context, options map[string]string) (buildsys.TaskList, error) {
	tasks := b.Tasks()

	script, found, err := b.script(options)
	if err != nil {
		return nil, err
	}
	if !found {
		if len(options) > 0 {
			buildsys.Log(ctx).Warn().Msgf("Ignoring options because %s does not exist", ScriptName)
		}
		return tasks, nil
	}

	extensions, err := script.Tasks(ctx)
	if err != nil {
		return nil, err
	}

	if err = tasks.Merge(extensions); err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", ScriptName)
	}

	return tasks, nil
}

// ScriptOptions returns the options declared by build.star. Projects without one have no options.
func (b *Build) ScriptOptions(ctx context.Context) (map[string]buildsys.ScriptOption, error) {
	script, found, err := b.script(nil)
	if err != nil || !found {
		return nil, err
	}

	return script.Options(ctx)
}
