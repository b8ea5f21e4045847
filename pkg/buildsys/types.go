package buildsys

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// Step is one entry of a script task's cmds list. Exactly one field is set.
type Step struct {
	// Line is shell source. It is parsed when the task runs.
	Line string
	// Args is a single command whose arguments are passed on verbatim.
	Args []string
	// Task is run in place, unless it already ran.
	Task *Task
}

func (s Step) String() string {
	switch {
	case s.Task != nil:
		return "task " + s.Task.Short
	case s.Args != nil:
		return Command{Args: s.Args}.String()
	default:
		return s.Line
	}
}

// Condition gates the execution of a task. It is evaluated right before the task would run.
type Condition struct {
	Desc  string
	Check func() bool
}

// Action is the Go implementation of a task. It runs before the task's shell commands.
type Action func(ctx context.Context) error

// Task is a single node in the build graph. Built-in targets set Action, tasks declared
// in build.star use Steps.
type Task struct {
	Env                 map[string]string
	Short               string
	Desc                string
	Base                string
	Inputs              []string
	Deps                []string
	Before              []string
	SkipIfExists        []string
	Outputs             []string
	Steps               []Step
	Action              Action
	OnlyWhen            []Condition
	ProceedAfterFailure bool
	Hidden              bool
}

// TaskList maps short names to each relevant task
type TaskList map[string]*Task

// Lookup finds a task by name, ignoring case.
func (l TaskList) Lookup(name string) (*Task, bool) {
	if task, ok := l[name]; ok {
		return task, true
	}

	for short, task := range l {
		if strings.EqualFold(short, name) {
			return task, true
		}
	}
	return nil, false
}

// Merge adds all tasks from other. Name collisions are errors.
func (l TaskList) Merge(other TaskList) error {
	for name, task := range other {
		if _, found := l.Lookup(name); found {
			return eris.Errorf("task %s is already defined", name)
		}
		l[name] = task
	}
	return nil
}

// ScriptOption is an option declared by a build script with option().
type ScriptOption struct {
	DefaultValue string
	Help         string
}

// Default returns the value used when no name=value argument sets the option.
func (o ScriptOption) Default() string {
	return o.DefaultValue
}

// Status describes the outcome of a planned task.
type Status int

const (
	NotRun Status = iota
	Succeeded
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Skipped:
		return "Skipped"
	default:
		return "NotRun"
	}
}

// Result records what happened to a single task during a run.
type Result struct {
	Task     string
	Status   Status
	Duration time.Duration
	Reason   string
	Err      error
}

// Summary collects the results of a run in execution order.
type Summary struct {
	Results []Result
}

// Failed returns the names of all failed tasks.
func (s *Summary) Failed() []string {
	names := []string{}
	for _, r := range s.Results {
		if r.Status == Failed {
			names = append(names, r.Task)
		}
	}
	return names
}

// Status returns the status recorded for the named task. Tasks outside the plan report NotRun.
func (s *Summary) Status(task string) Status {
	for _, r := range s.Results {
		if r.Task == task {
			return r.Status
		}
	}
	return NotRun
}

// Implement starlark.Value for *Task

// String returns a string representation of the task
func (t *Task) String() string {
	return fmt.Sprintf("<Task %s: %s>", t.Short, t.Desc)
}

// Type always returns "task" to indicate this type
func (t *Task) Type() string {
	return "task"
}

// Freeze doesn't do anything since tasks are immutable anyway
func (t *Task) Freeze() {}

// Truth always returns true since a task can't be nil or None
func (t *Task) Truth() starlark.Bool {
	return starlark.True
}

// Hash always returns an error since task is not hashable
func (t *Task) Hash() (uint32, error) {
	return 0, eris.New("task is not a hashable type")
}
