package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/backend-fx/build/pkg/buildsys"
)

func TestSplitArgs(t *testing.T) {
	targets, options := splitArgs([]string{"compile", "flavor=fancy", "pack", "empty=", "url=https://x/?a=b"})

	assert.Equal(t, []string{"compile", "pack"}, targets)
	assert.Equal(t, map[string]string{"flavor": "fancy", "empty": "", "url": "https://x/?a=b"}, options)
}

func TestConsoleWriter(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(&ConsoleWriter{Out: out})

	logger.Info().Str("task", "compile").Msg("Version 1.0.0-beta0001")
	logger.Info().Str("task", "pack").Bool("command", true).Msg("dotnet pack Lib.csproj")
	logger.Error().Str("task", "test").Err(eris.New("dotnet exited with status 1")).Msg("failed")

	text := out.String()
	assert.Contains(t, text, "compile: Version 1.0.0-beta0001")
	assert.Contains(t, text, "$ dotnet pack Lib.csproj")
	assert.Contains(t, text, "test: Error: failed")
	assert.Contains(t, text, "dotnet exited with status 1")
}

func TestPrintTaskList(t *testing.T) {
	tasks := buildsys.TaskList{
		"compile": {Short: "compile", Desc: "Compiles the solution", Deps: []string{"restore"}},
		"restore": {Short: "restore", Desc: "Restores NuGet dependencies"},
		"publish": {Short: "publish", Desc: "Pushes the packages"},
		"auto#1":  {Short: "auto#1", Hidden: true},
	}

	out := &bytes.Buffer{}
	printTaskList(out, tasks)

	text := out.String()
	assert.Contains(t, text, "compile:")
	assert.Contains(t, text, "Compiles the solution (after restore)")
	assert.Contains(t, text, "Pushes the packages [default]")
	assert.NotContains(t, text, "auto#1")
	assert.Less(t, bytes.Index(out.Bytes(), []byte("compile:")), bytes.Index(out.Bytes(), []byte("restore:")))
}

func TestPrintSummary(t *testing.T) {
	summary := &buildsys.Summary{Results: []buildsys.Result{
		{Task: "compile", Status: buildsys.Succeeded, Duration: 3 * time.Second},
		{Task: "test", Status: buildsys.Failed, Duration: 500 * time.Millisecond},
		{Task: "publish", Status: buildsys.Skipped, Reason: "server build"},
	}}

	out := &bytes.Buffer{}
	printSummary(out, summary)

	text := out.String()
	assert.Contains(t, text, "Succeeded")
	assert.Contains(t, text, "Failed")
	assert.Contains(t, text, "// server build")
	assert.Contains(t, text, "3s")
	assert.Contains(t, text, "< 1s")
}

func TestPrintOptions(t *testing.T) {
	out := &bytes.Buffer{}
	printOptions(out, nil)
	assert.Empty(t, out.String())

	printOptions(out, map[string]buildsys.ScriptOption{
		"flavor": {DefaultValue: "plain", Help: "Documentation flavor"},
	})
	assert.Contains(t, out.String(), `flavor: Documentation flavor (default: "plain")`)
}
