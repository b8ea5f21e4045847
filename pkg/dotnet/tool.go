package dotnet

import (
	"context"

	"github.com/backend-fx/build/pkg/buildsys"
)

// DefaultExecutable is looked up in PATH.
const DefaultExecutable = "dotnet"

// Tool runs dotnet CLI commands from a working directory.
type Tool struct {
	Executable string
	Dir        string
	Env        map[string]string
}

// New returns a Tool running executable in dir. An empty executable selects DefaultExecutable.
func New(executable, dir string) *Tool {
	if executable == "" {
		executable = DefaultExecutable
	}

	return &Tool{
		Executable: executable,
		Dir:        dir,
		Env: map[string]string{
			"DOTNET_CLI_TELEMETRY_OPTOUT": "1",
			"DOTNET_NOLOGO":               "1",
		},
	}
}

func (t *Tool) run(ctx context.Context, args []string, secrets ...string) error {
	return buildsys.Exec(ctx, buildsys.Command{
		Dir:     t.Dir,
		Env:     t.Env,
		Args:    append([]string{t.Executable}, args...),
		Secrets: secrets,
	})
}

// Restore runs dotnet restore.
func (t *Tool) Restore(ctx context.Context, s RestoreSettings) error {
	return t.run(ctx, s.Args())
}

// Build runs dotnet build.
func (t *Tool) Build(ctx context.Context, s BuildSettings) error {
	return t.run(ctx, s.Args())
}

// Test runs dotnet test. Failing tests are reported as an error.
func (t *Tool) Test(ctx context.Context, s TestSettings) error {
	return t.run(ctx, s.Args())
}

// Pack runs dotnet pack.
func (t *Tool) Pack(ctx context.Context, s PackSettings) error {
	return t.run(ctx, s.Args())
}

// NuGetPush uploads a package. The API key is masked in the log.
func (t *Tool) NuGetPush(ctx context.Context, s NuGetPushSettings) error {
	return t.run(ctx, s.Args(), s.APIKey)
}
