package buildsys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/interp"
)

const docsScript = `
FLAVOR = option("flavor", "plain", help = "Documentation flavor")

def configure():
    restore = task(cmds = [("dotnet", "tool", "restore")])

    docs = task(
        short = "docs",
        desc = "Builds the docs for " + CONFIGURATION,
        deps = ["compile", restore],
        before = ["publish"],
        env = {"DOCFX_FLAVOR": FLAVOR},
        cmds = [restore, ["docfx", "build", FLAVOR, "it's done"], "docfx serve --port 8080"],
    )

    task(
        short = "site",
        deps = [docs],
        base = "site",
        inputs = ["*.md"],
        outputs = ["_site/index.html"],
        proceed_after_failure = True,
        hidden = True,
    )
`

func writeScript(t *testing.T, content string, files map[string]string) *Script {
	t.Helper()

	root := t.TempDir()
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(data), 0644))
	}

	script := filepath.Join(root, "build.star")
	require.NoError(t, os.WriteFile(script, []byte(content), 0644))
	return &Script{Filename: script}
}

func TestScriptTasks(t *testing.T) {
	script := writeScript(t, docsScript, nil)
	script.Values = map[string]string{"flavor": "fancy"}
	script.Globals = starlark.StringDict{"CONFIGURATION": starlark.String("Release")}
	root := filepath.Dir(script.Filename)

	tasks, err := script.Tasks(testContext())
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	docs := tasks["docs"]
	require.NotNil(t, docs)
	assert.Equal(t, "Builds the docs for Release", docs.Desc)
	require.Len(t, docs.Deps, 2)
	assert.Equal(t, "compile", docs.Deps[0])
	assert.Equal(t, []string{"publish"}, docs.Before)
	assert.Equal(t, map[string]string{"DOCFX_FLAVOR": "fancy"}, docs.Env)
	assert.Equal(t, root, docs.Base)

	restore, found := tasks.Lookup(docs.Deps[1])
	require.True(t, found)
	assert.True(t, restore.Hidden)
	assert.Equal(t, []Step{{Args: []string{"dotnet", "tool", "restore"}}}, restore.Steps)

	require.Len(t, docs.Steps, 3)
	assert.Same(t, restore, docs.Steps[0].Task)
	assert.Equal(t, []string{"docfx", "build", "fancy", "it's done"}, docs.Steps[1].Args)
	assert.Equal(t, "docfx serve --port 8080", docs.Steps[2].Line)

	site := tasks["site"]
	require.NotNil(t, site)
	assert.Equal(t, []string{"docs"}, site.Deps)
	assert.Equal(t, filepath.Join(root, "site"), site.Base)
	assert.Equal(t, []string{"*.md"}, site.Inputs)
	assert.Equal(t, []string{"_site/index.html"}, site.Outputs)
	assert.True(t, site.ProceedAfterFailure)
	assert.True(t, site.Hidden)
}

func TestScriptOptions(t *testing.T) {
	script := writeScript(t, docsScript, nil)
	script.Globals = starlark.StringDict{"CONFIGURATION": starlark.String("Debug")}

	options, err := script.Options(testContext())
	require.NoError(t, err)
	assert.Equal(t, map[string]ScriptOption{"flavor": {DefaultValue: "plain", Help: "Documentation flavor"}}, options)
}

func TestScriptRunsDeclaredSteps(t *testing.T) {
	script := writeScript(t, docsScript, nil)
	script.Globals = starlark.StringDict{"CONFIGURATION": starlark.String("Release")}

	tasks, err := script.Tasks(testContext())
	require.NoError(t, err)
	tasks["compile"] = &Task{Short: "compile"}

	var calls [][]string
	handler := func(ctx context.Context, args []string) error {
		calls = append(calls, args)
		return nil
	}

	_, err = Run(testContext(), filepath.Dir(script.Filename), []string{"docs"}, tasks, RunOptions{ExecHandler: handler})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"dotnet", "tool", "restore"},
		{"docfx", "build", "plain", "it's done"},
		{"docfx", "serve", "--port", "8080"},
	}, calls)
}

func TestScriptReadYaml(t *testing.T) {
	docfx := `
metadata:
  - src: src/Lib
    dest: api
build:
  title: Lib docs
  port: 8080
  search: true
  ratio: 0.5
`
	script := writeScript(t, `
TITLE = read_yaml("docfx.yml", "build.title")
PORT = read_yaml("docfx.yml", "build.port")
SEARCH = read_yaml("docfx.yml", "build.search")
RATIO = read_yaml("docfx.yml", "build.ratio")
DEST = read_yaml("docfx.yml", "metadata.0.dest")
MISSING = read_yaml("docfx.yml", "build.theme", "default")
OUT_OF_RANGE = read_yaml("docfx.yml", "metadata.3.dest")
BUILD = read_yaml("docfx.yml", "build")
DOC = read_yaml("docfx.yml")

def configure():
    task(short = "docs", desc = "%s on %d, search %s, ratio %s, dest %s, theme %s, %s, %s" % (
        TITLE, PORT, SEARCH, RATIO, DEST, MISSING, OUT_OF_RANGE, sorted(BUILD.keys())))
    task(short = "api", desc = DOC["metadata"][0]["src"])
`, map[string]string{"docfx.yml": docfx})

	tasks, err := script.Tasks(testContext())
	require.NoError(t, err)
	assert.Equal(t,
		`Lib docs on 8080, search True, ratio 0.5, dest api, theme default, None, ["port", "ratio", "search", "title"]`,
		tasks["docs"].Desc)
	assert.Equal(t, "src/Lib", tasks["api"].Desc)
}

func TestScriptReadYamlErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"missing file", `X = read_yaml("missing.yml", "a")`},
		{"invalid document", `X = read_yaml("broken.yml", "a")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.script, map[string]string{"broken.yml": "a: [1, 2"})
			_, err := script.Options(testContext())
			assert.Error(t, err)
		})
	}
}

func TestScriptExecute(t *testing.T) {
	var dirs []string
	handler := func(ctx context.Context, args []string) error {
		hc := interp.HandlerCtx(ctx)
		dirs = append(dirs, hc.Dir)

		switch args[1] {
		case "describe":
			_, err := hc.Stdout.Write([]byte("v1.2.0-3-gabcdef\n"))
			return err
		case "list":
			_, err := hc.Stdout.Write([]byte(`{"tools": [{"name": "docfx", "version": "2.59.4"}], "count": 1}`))
			return err
		default:
			return interp.NewExitStatus(1)
		}
	}

	script := writeScript(t, `
DESCRIBE = execute(["git", "describe", "--tags"])
TOOLS = execute(("dotnet", "list", "tools"), format = "json", dir = "docs")
MISSING = execute(["dotnet", "missing"], allow_failure = True)

def configure():
    task(short = "docs", desc = "%s %s %s %d %s" % (
        DESCRIBE, TOOLS["tools"][0]["name"], TOOLS["tools"][0]["version"], TOOLS["count"], MISSING))
`, nil)
	root := filepath.Dir(script.Filename)
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0755))

	ctx := NewContext(testContext(), root, RunOptions{ExecHandler: handler})
	tasks, err := script.Tasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0-3-gabcdef docfx 2.59.4 1 None", tasks["docs"].Desc)
	assert.Equal(t, []string{root, filepath.Join(root, "docs"), root}, dirs)
}

func TestScriptExecuteErrors(t *testing.T) {
	handler := func(ctx context.Context, args []string) error {
		if args[0] == "fail" {
			return interp.NewExitStatus(1)
		}
		_, err := interp.HandlerCtx(ctx).Stdout.Write([]byte("not json"))
		return err
	}

	tests := []struct {
		name   string
		script string
	}{
		{"failed command", `X = execute(["fail"])`},
		{"invalid json", `X = execute(["dotnet", "--version"], format = "json")`},
		{"unknown format", `X = execute(["dotnet", "--version"], format = "xml")`},
		{"non string argument", `X = execute(["dotnet", 1])`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.script, nil)
			ctx := NewContext(testContext(), filepath.Dir(script.Filename), RunOptions{ExecHandler: handler})
			_, err := script.Options(ctx)
			assert.Error(t, err)
		})
	}
}

func TestScriptLogging(t *testing.T) {
	out := &bytes.Buffer{}
	logger := zerolog.New(out)
	ctx := WithLogger(context.Background(), &logger)

	script := writeScript(t, `
info("using docfx")
warn("docs are stale")
print("hello")
`, nil)

	_, err := script.Options(ctx)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, `"level":"info","message":"build.star:2:5: using docfx"`)
	assert.Contains(t, text, `"level":"warn","message":"build.star:3:5: docs are stale"`)
	assert.Contains(t, text, "hello")
}

func TestScriptErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{"task in global scope", `task(short = "early")`},
		{"option in configure", "def configure():\n    option(\"late\")\n"},
		{"missing configure", `X = 1`},
		{"duplicate task", "def configure():\n    task(short = \"a\")\n    task(short = \"A\")\n"},
		{"reserved name", "def configure():\n    task(short = \"configure\")\n"},
		{"error builtin", "def configure():\n    error(\"unsupported platform\")\n"},
		{"bad cmds entry", "def configure():\n    task(short = \"a\", cmds = [1])\n"},
		{"empty command", "def configure():\n    task(short = \"a\", cmds = [()])\n"},
		{"bad deps entry", "def configure():\n    task(short = \"a\", deps = [1])\n"},
		{"bad env value", "def configure():\n    task(short = \"a\", env = {\"A\": 1})\n"},
		{"syntax error", "def configure(:\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := writeScript(t, tt.script, nil)
			_, err := script.Tasks(testContext())
			assert.Error(t, err)
		})
	}
}

func TestToStarlark(t *testing.T) {
	value, err := toStarlark(map[interface{}]interface{}{1: "one", "list": []interface{}{int64(2), uint64(3), nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"1": "one", "list": [2, 3, None]}`, value.String())

	_, err = toStarlark(struct{}{})
	assert.Error(t, err)
}
