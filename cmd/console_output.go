package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/backend-fx/build/pkg/buildsys"
	"github.com/backend-fx/build/pkg/pipeline"
)

// ConsoleWriter turns zerolog's JSON events into coloured, human readable lines.
type ConsoleWriter struct {
	Out    io.Writer
	buffer strings.Builder
	lock   sync.Mutex
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	var evt map[string]interface{}
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	err = d.Decode(&evt)
	if err != nil {
		return n, eris.Wrapf(err, "cannot decode event: %s", p)
	}

	w.buffer.Reset()
	switch evt["level"] {
	case "fatal", "error":
		w.buffer.WriteString("[red]")
	case "warn":
		w.buffer.WriteString("[yellow]")
	case "debug", "trace":
		w.buffer.WriteString("[blue]")
	default:
		w.buffer.WriteString("[green]")
	}

	if task, ok := evt["task"].(string); ok && task != "" {
		w.buffer.WriteString(task + ": ")
	}

	if evt["level"] == "error" {
		w.buffer.WriteString("Error: ")
	}

	msg, _ := evt["message"].(string)
	if isCmd, _ := evt["command"].(bool); isCmd {
		msg = "[reset]$ " + msg
	}

	if path, ok := evt["path"].(string); ok {
		relPath, err := filepath.Rel(".", path)
		if err == nil && !strings.HasPrefix(relPath, "..") {
			msg = strings.ReplaceAll(msg, path, relPath)
		}
	}

	w.buffer.WriteString(msg)

	if errorDetails, ok := evt["error"].(string); ok {
		w.buffer.WriteString("\n")
		w.buffer.WriteString(errorDetails)
	}

	if debugEnabled() {
		w.buffer.WriteString("\n")
		for name, value := range evt {
			w.buffer.WriteString(fmt.Sprintf("  %s: %+v\n", name, value))
		}
	}

	w.buffer.WriteString("[reset]\n")
	_, err = colorstring.Fprint(w.Out, w.buffer.String())
	return len(p), err
}

func printTaskList(out io.Writer, tasks buildsys.TaskList) {
	fmt.Fprintln(out, "Available targets:")
	maxNameLen := 0
	sortedNames := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.Hidden {
			continue
		}

		nameLen := len(task.Short)
		if nameLen > maxNameLen {
			maxNameLen = nameLen
		}

		sortedNames = append(sortedNames, task.Short)
	}

	sort.Strings(sortedNames)

	lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
	for _, name := range sortedNames {
		task := tasks[name]
		desc := task.Desc
		if len(task.Deps) > 0 {
			desc += " (after " + strings.Join(task.Deps, ", ") + ")"
		}
		if name == pipeline.DefaultTarget {
			desc += " [default]"
		}
		fmt.Fprintf(out, lineFmt, name+":", desc)
	}
}

func printOptions(out io.Writer, options map[string]buildsys.ScriptOption) {
	if len(options) == 0 {
		return
	}

	names := make([]string, 0, len(options))
	for name := range options {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "\nOptions (name=value):")
	for _, name := range names {
		opt := options[name]
		fmt.Fprintf(out, " * %s: %s (default: %q)\n", name, opt.Help, opt.Default())
	}
}

var statusColors = map[buildsys.Status]string{
	buildsys.Succeeded: "[green]",
	buildsys.Failed:    "[red]",
	buildsys.Skipped:   "[yellow]",
	buildsys.NotRun:    "[dark_gray]",
}

func printSummary(out io.Writer, summary *buildsys.Summary) {
	var total time.Duration
	maxNameLen := len("Target")
	for _, result := range summary.Results {
		if len(result.Task) > maxNameLen {
			maxNameLen = len(result.Task)
		}
		total += result.Duration
	}

	lineFmt := fmt.Sprintf("%%-%ds  %%s%%-10s[reset]  %%s\n", maxNameLen)
	rule := strings.Repeat("=", maxNameLen+26)

	colorstring.Fprint(out, "\n"+rule+"\n")
	colorstring.Fprint(out, fmt.Sprintf(lineFmt, "Target", "[bold]", "Status", "Duration"))
	colorstring.Fprint(out, rule+"\n")
	for _, result := range summary.Results {
		duration := "< 1s"
		if result.Duration >= time.Second {
			duration = result.Duration.Round(time.Second).String()
		}
		if result.Status == buildsys.Skipped || result.Status == buildsys.NotRun {
			duration = ""
			if result.Reason != "" {
				duration = "// " + result.Reason
			}
		}

		colorstring.Fprint(out, fmt.Sprintf(lineFmt, result.Task, statusColors[result.Status], result.Status.String(), duration))
	}
	colorstring.Fprint(out, rule+"\n")
	colorstring.Fprint(out, fmt.Sprintf(lineFmt, "Total", "", "", total.Round(time.Second).String()))
	colorstring.Fprint(out, rule+"\n")
}

func init() {
	zerolog.ErrorMarshalFunc = func(err error) interface{} {
		return eris.ToString(err, debugEnabled())
	}
}
