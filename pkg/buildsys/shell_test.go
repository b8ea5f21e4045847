package buildsys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mvdan.cc/sh/v3/interp"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "plain",
			cmd:  Command{Args: []string{"dotnet", "build", "--no-restore"}},
			want: "dotnet build --no-restore",
		},
		{
			name: "spaces",
			cmd:  Command{Args: []string{"dotnet", "pack", "My Lib.csproj"}},
			want: "dotnet pack 'My Lib.csproj'",
		},
		{
			name: "single quote",
			cmd:  Command{Args: []string{"echo", "it's"}},
			want: `echo "it's"`,
		},
		{
			name: "masked secret",
			cmd: Command{
				Args:    []string{"dotnet", "nuget", "push", "a.nupkg", "--api-key", "s3cr3t"},
				Secrets: []string{"s3cr3t", ""},
			},
			want: "dotnet nuget push a.nupkg --api-key ***",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cmd.String())
		})
	}
}

func TestExecPassesArgumentsVerbatim(t *testing.T) {
	args := []string{"tool", "plain", "with space", "it's", "$HOME", "", "a*b", `back\slash`, "-p:Version=1.0.0-beta0001"}

	var got []string
	var gotDir, gotEnv string
	handler := func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		gotDir = hc.Dir
		gotEnv = hc.Env.Get("DOTNET_NOLOGO").String()
		got = args
		return nil
	}

	root := t.TempDir()
	ctx := NewContext(testContext(), root, RunOptions{ExecHandler: handler})
	err := Exec(ctx, Command{Args: args, Env: map[string]string{"DOTNET_NOLOGO": "1"}})
	require.NoError(t, err)

	assert.Equal(t, args, got)
	assert.Equal(t, root, gotDir)
	assert.Equal(t, "1", gotEnv)
}

func TestExecExitStatus(t *testing.T) {
	handler := func(ctx context.Context, args []string) error {
		return interp.NewExitStatus(3)
	}

	ctx := NewContext(testContext(), t.TempDir(), RunOptions{ExecHandler: handler})
	err := Exec(ctx, Command{Args: []string{"dotnet", "test"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dotnet exited with status 3")
}

func TestExecEmptyCommand(t *testing.T) {
	ctx := NewContext(testContext(), t.TempDir(), RunOptions{})
	assert.Error(t, Exec(ctx, Command{}))
}

func TestExecDryRun(t *testing.T) {
	handler := func(ctx context.Context, args []string) error {
		t.Fatalf("unexpected call %v", args)
		return nil
	}

	ctx := NewContext(testContext(), t.TempDir(), RunOptions{DryRun: true, ExecHandler: handler})
	assert.True(t, IsDryRun(ctx))
	assert.NoError(t, Exec(ctx, Command{Args: []string{"dotnet", "build"}}))
}

func TestGlob(t *testing.T) {
	root := t.TempDir()
	for _, dir := range []string{"src/Lib/bin/Debug", "src/Lib/obj", "tests/Lib.Tests/bin", "docs"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0755))
	}
	for _, file := range []string{"src/Lib/Lib.csproj", "tests/Lib.Tests/Lib.Tests.csproj", "Lib.sln"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, file), []byte{}, 0644))
	}

	ctx := NewContext(testContext(), root, RunOptions{})

	bins, err := Glob(ctx, root, "**/bin")
	require.NoError(t, err)
	sort.Strings(bins)
	assert.Equal(t, []string{
		filepath.Join(root, "src", "Lib", "bin"),
		filepath.Join(root, "tests", "Lib.Tests", "bin"),
	}, bins)

	projects, err := Glob(ctx, root, "**/*.csproj", "*.sln")
	require.NoError(t, err)
	assert.Len(t, projects, 3)

	none, err := Glob(ctx, filepath.Join(root, "docs"), "*.nupkg")
	require.NoError(t, err)
	assert.Empty(t, none)

	fromRoot, err := Glob(ctx, filepath.Join(root, "docs"), "//*.sln")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "Lib.sln")}, fromRoot)
}

func TestGlobBaseWithShellCharacters(t *testing.T) {
	for _, name := range []string{"My Projects", "lib (old)", "it's $HOME", "a&b;c"} {
		t.Run(name, func(t *testing.T) {
			parent := t.TempDir()
			require.NoError(t, os.MkdirAll(filepath.Join(parent, "My"), 0755))
			root := filepath.Join(parent, name, "lib")
			require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "Lib", "bin"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(root, "src", "Lib", "Lib.csproj"), []byte{}, 0644))

			ctx := NewContext(testContext(), root, RunOptions{})

			projects, err := Glob(ctx, root, "**/*.csproj")
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(root, "src", "Lib", "Lib.csproj")}, projects)

			bins, err := Glob(ctx, root, "**/bin")
			require.NoError(t, err)
			assert.Equal(t, []string{filepath.Join(root, "src", "Lib", "bin")}, bins)

			absolute, err := Glob(ctx, "/unused", filepath.Join(root, "src", "*", "*.csproj"))
			require.NoError(t, err)
			assert.Equal(t, projects, absolute)
		})
	}
}

func TestGlobWithoutRuntime(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Lib.sln"), []byte{}, 0644))

	matches, err := Glob(testContext(), root, "*.sln")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "Lib.sln")}, matches)

	_, err = Glob(testContext(), root, "//*.sln")
	assert.Error(t, err)
}

func TestExecCapturesOutput(t *testing.T) {
	handler := func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		_, err := hc.Stdout.Write([]byte("1.0.0-beta0001\n"))
		return err
	}

	out := &bytes.Buffer{}
	runOut := &bytes.Buffer{}
	ctx := NewContext(testContext(), t.TempDir(), RunOptions{ExecHandler: handler, Stdout: runOut})
	require.NoError(t, Exec(ctx, Command{Args: []string{"git", "describe"}, Stdout: out}))

	assert.Equal(t, "1.0.0-beta0001\n", out.String())
	assert.Empty(t, runOut.String())
}
