// Package pipeline defines the build targets of the project: clean, restore, compile, test, pack
// and publish.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/backend-fx/build/pkg/buildsys"
	"github.com/backend-fx/build/pkg/ci"
	"github.com/backend-fx/build/pkg/config"
	"github.com/backend-fx/build/pkg/dotnet"
	"github.com/backend-fx/build/pkg/gitinfo"
)

// Target names
const (
	Clean   = "clean"
	Restore = "restore"
	Compile = "compile"
	Test    = "test"
	Pack    = "pack"
	Publish = "publish"
)

// DefaultTarget is built when no target is passed on the command line.
const DefaultTarget = Publish

// Build holds everything the targets need.
type Build struct {
	Config    *config.Config
	Host      ci.Host
	Root      string
	Artifacts string
	DotNet    *dotnet.Tool

	repo    *gitinfo.Repository
	version *gitinfo.Version
}

// New prepares a build of the project in root. cfg must be resolved and validated.
func New(cfg *config.Config, host ci.Host, root string) *Build {
	return &Build{
		Config:    cfg,
		Host:      host,
		Root:      root,
		Artifacts: cfg.ArtifactsDir(root),
		DotNet:    dotnet.New(cfg.DotNet, root),
	}
}

// Tasks returns the build targets.
func (b *Build) Tasks() buildsys.TaskList {
	return buildsys.TaskList{
		Clean: &buildsys.Task{
			Short:  Clean,
			Desc:   "Deletes bin and obj directories and empties the artifacts directory",
			Before: []string{Restore},
			Action: b.clean,
		},
		Restore: &buildsys.Task{
			Short:  Restore,
			Desc:   "Restores NuGet dependencies",
			Action: b.restore,
		},
		Compile: &buildsys.Task{
			Short:  Compile,
			Desc:   "Compiles the solution",
			Deps:   []string{Clean, Restore},
			Action: b.compile,
		},
		Test: &buildsys.Task{
			Short:               Test,
			Desc:                "Runs the test suite",
			Deps:                []string{Compile},
			Action:              b.test,
			ProceedAfterFailure: true,
		},
		Pack: &buildsys.Task{
			Short:  Pack,
			Desc:   "Packs every non-test project into the artifacts directory",
			Deps:   []string{Test},
			Action: b.pack,
		},
		Publish: &buildsys.Task{
			Short:    Publish,
			Desc:     "Pushes the packages to the feed of the current branch",
			Deps:     []string{Pack},
			OnlyWhen: b.publishConditions(),
			Action:   b.publish,
		},
	}
}

func (b *Build) publishConditions() []buildsys.Condition {
	return []buildsys.Condition{
		{
			Desc:  "server build",
			Check: func() bool { return !b.Host.IsLocalBuild() },
		},
		{
			Desc:  "not triggered by " + b.Config.BotIdentity,
			Check: func() bool { return !b.TriggeredByBot() },
		},
		{
			Desc:  config.Release + " configuration",
			Check: b.Config.IsRelease,
		},
	}
}

// TriggeredByBot reports whether the configured bot, dependabot by default, started the build.
func (b *Build) TriggeredByBot() bool {
	return ci.IsBot(b.Config.GithubActor, b.Config.BotIdentity)
}

func (b *Build) repository() (*gitinfo.Repository, error) {
	if b.repo == nil {
		repo, err := gitinfo.Open(b.Root)
		if err != nil {
			return nil, err
		}
		b.repo = repo
	}
	return b.repo, nil
}

// Version derives the build version from the git history. The result is cached.
func (b *Build) Version() (gitinfo.Version, error) {
	if b.version != nil {
		return *b.version, nil
	}

	repo, err := b.repository()
	if err != nil {
		return gitinfo.Version{}, err
	}

	version, err := repo.Describe(b.Config.BaseVersion(), b.Config.VersionLabel)
	if err != nil {
		return gitinfo.Version{}, err
	}

	b.version = &version
	return version, nil
}

// Branch returns the checked out branch, falling back to the branch the build server reports
// for detached checkouts.
func (b *Build) Branch() (string, error) {
	repo, err := b.repository()
	if err != nil {
		return "", err
	}

	branch, err := repo.Branch()
	if err != nil {
		return "", err
	}

	if branch == "" {
		branch = b.Host.Branch()
	}
	return branch, nil
}

func (b *Build) solution(ctx context.Context) (string, error) {
	if b.Config.Solution != "" {
		if filepath.IsAbs(b.Config.Solution) {
			return b.Config.Solution, nil
		}
		return filepath.Join(b.Root, b.Config.Solution), nil
	}

	matches, err := buildsys.Glob(ctx, b.Root, "*.sln")
	if err != nil {
		return "", err
	}

	switch len(matches) {
	case 0:
		// let dotnet pick the project in the working directory
		return "", nil
	case 1:
		return matches[0], nil
	default:
		return "", eris.Errorf("found %d solutions in %s, please set the solution option", len(matches), b.Root)
	}
}

// createOrCleanDirectory leaves an empty directory at path.
func createOrCleanDirectory(ctx context.Context, path string) error {
	buildsys.Log(ctx).Info().Str("task", Clean).Str("path", path).Msgf("Cleaning %s", path)
	if buildsys.IsDryRun(ctx) {
		return nil
	}

	if err := os.RemoveAll(path); err != nil {
		return eris.Wrapf(err, "failed to delete %s", path)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return eris.Wrapf(err, "failed to create %s", path)
	}
	return nil
}

func (b *Build) clean(ctx context.Context) error {
	dirs, err := buildsys.Glob(ctx, b.Root, "**/bin", "**/obj")
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			if eris.Is(err, os.ErrNotExist) {
				// nested in a directory we already deleted
				continue
			}
			return eris.Wrapf(err, "failed to check %s", dir)
		}

		if !info.IsDir() {
			continue
		}

		buildsys.Log(ctx).Info().Str("task", Clean).Str("path", dir).Msgf("Deleting %s", dir)
		if buildsys.IsDryRun(ctx) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			return eris.Wrapf(err, "failed to delete %s", dir)
		}
	}

	return createOrCleanDirectory(ctx, b.Artifacts)
}

func (b *Build) restore(ctx context.Context) error {
	solution, err := b.solution(ctx)
	if err != nil {
		return err
	}

	return b.DotNet.Restore(ctx, dotnet.RestoreSettings{ProjectFile: solution})
}

func (b *Build) compile(ctx context.Context) error {
	solution, err := b.solution(ctx)
	if err != nil {
		return err
	}

	version, err := b.Version()
	if err != nil {
		return err
	}

	buildsys.Log(ctx).Info().Str("task", Compile).Msgf("Version %s", version.SemVer())

	return b.DotNet.Build(ctx, dotnet.BuildSettings{
		ProjectFile:          solution,
		Configuration:        b.Config.Configuration,
		AssemblyVersion:      version.AssemblySemVer(),
		FileVersion:          version.AssemblySemFileVer(),
		InformationalVersion: version.InformationalVersion(),
		NoRestore:            true,
	})
}

func (b *Build) test(ctx context.Context) error {
	solution, err := b.solution(ctx)
	if err != nil {
		return err
	}

	return b.DotNet.Test(ctx, dotnet.TestSettings{
		ProjectFile:   solution,
		Configuration: b.Config.Configuration,
		NoRestore:     true,
	})
}

// PackableProjects lists all project files below the root except test projects.
func (b *Build) PackableProjects(ctx context.Context) ([]string, error) {
	projects, err := buildsys.Glob(ctx, b.Root, "**/*.csproj")
	if err != nil {
		return nil, err
	}

	result := make([]string, 0, len(projects))
	for _, project := range projects {
		name := strings.TrimSuffix(filepath.Base(project), filepath.Ext(project))
		if !strings.HasSuffix(name, "Tests") {
			result = append(result, project)
		}
	}

	sort.Strings(result)
	return result, nil
}

func (b *Build) pack(ctx context.Context) error {
	version, err := b.Version()
	if err != nil {
		return err
	}

	projects, err := b.PackableProjects(ctx)
	if err != nil {
		return err
	}

	for _, project := range projects {
		err = b.DotNet.Pack(ctx, dotnet.PackSettings{
			Project:         project,
			OutputDirectory: b.Artifacts,
			Version:         version.NuGetVersion(),
			Verbosity:       dotnet.VerbosityMinimal,
			Configuration:   b.Config.Configuration,
		})
		if err != nil {
			return eris.Wrapf(err, "failed to pack %s", filepath.Base(project))
		}
	}

	return nil
}

func (b *Build) publish(ctx context.Context) error {
	branch, err := b.Branch()
	if err != nil {
		return err
	}

	feed := b.Config.SelectFeed(branch)
	logger := buildsys.Log(ctx)
	logger.Info().Str("task", Publish).Msgf("Publishing branch %s to %s", branch, feed.URL)
	if feed.APIKey == "" {
		logger.Warn().Str("task", Publish).Msgf("No API key configured for the %s feed", feed.Name)
	}

	packages, err := buildsys.Glob(ctx, b.Artifacts, "*.nupkg")
	if err != nil {
		return err
	}

	if len(packages) == 0 {
		logger.Warn().Str("task", Publish).Msgf("No packages found in %s", b.Artifacts)
	}

	for _, pkg := range packages {
		err = b.DotNet.NuGetPush(ctx, dotnet.NuGetPushSettings{
			TargetPath:        pkg,
			Source:            feed.URL,
			APIKey:            feed.APIKey,
			NoServiceEndpoint: true,
			SkipDuplicate:     true,
		})
		if err != nil {
			return eris.Wrapf(err, "failed to push %s", filepath.Base(pkg))
		}
	}

	return nil
}
