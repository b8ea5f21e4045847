package buildsys

import (
	"context"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"runtime"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// Script is a Starlark build script. Its global scope may declare options with option() and its
// configure function declares tasks with task().
type Script struct {
	Filename string
	// Values holds the values passed for declared options, usually from name=value arguments.
	Values map[string]string
	// Globals are visible to the script next to the builtins.
	Globals starlark.StringDict
}

type scriptState struct {
	ctx         context.Context
	name        string
	dir         string
	values      map[string]string
	options     map[string]ScriptOption
	tasks       []*Task
	documents   map[string]interface{}
	configuring bool
}

const scriptStateKey = "buildsys.script"

func stateOf(thread *starlark.Thread) *scriptState {
	return thread.Local(scriptStateKey).(*scriptState)
}

// resolve makes path absolute relative to the script's directory.
func (s *scriptState) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.dir, filepath.FromSlash(path))
}

func (s *scriptState) position(thread *starlark.Thread) string {
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", s.name, pos.Line, pos.Col)
}

func describeEvalError(name string, err error) error {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return eris.Errorf("failed to evaluate %s:\n%s", name, evalErr.Backtrace())
	}
	return eris.Wrapf(err, "failed to evaluate %s", name)
}

func (s *Script) load(ctx context.Context) (*starlark.Thread, starlark.StringDict, *scriptState, error) {
	filename, err := filepath.Abs(s.Filename)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "failed to resolve %s", s.Filename)
	}

	source, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, nil, nil, eris.Wrapf(err, "failed to read %s", filename)
	}

	dir := filepath.Dir(filename)
	if _, ok := ctx.Value(runtimeCtxKey{}).(*runtimeCtx); !ok {
		ctx = NewContext(ctx, dir, RunOptions{})
	}

	state := &scriptState{
		ctx:       ctx,
		name:      filepath.Base(filename),
		dir:       dir,
		values:    s.Values,
		options:   make(map[string]ScriptOption),
		documents: make(map[string]interface{}),
	}

	thread := &starlark.Thread{
		Name: state.name,
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Msgf("%s: %s", stateOf(thread).position(thread), msg)
		},
	}
	thread.SetLocal(scriptStateKey, state)

	predeclared := starlark.StringDict{
		"OS":        starlark.String(runtime.GOOS),
		"info":      starlark.NewBuiltin("info", starInfo),
		"warn":      starlark.NewBuiltin("warn", starWarn),
		"error":     starlark.NewBuiltin("error", starError),
		"option":    starlark.NewBuiltin("option", starOption),
		"task":      starlark.NewBuiltin("task", starTask),
		"read_yaml": starlark.NewBuiltin("read_yaml", starReadYaml),
		"execute":   starlark.NewBuiltin("execute", starExecute),
	}
	for name, value := range s.Globals {
		predeclared[name] = value
	}

	globals, err := starlark.ExecFile(thread, state.name, source, predeclared)
	if err != nil {
		return nil, nil, nil, describeEvalError(state.name, err)
	}

	return thread, globals, state, nil
}

// Options evaluates the global scope of the script and returns the options it declares.
func (s *Script) Options(ctx context.Context) (map[string]ScriptOption, error) {
	_, _, state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return state.options, nil
}

// Tasks evaluates the script, calls its configure function and returns the declared tasks.
// Commands started by execute() use the exec handler of ctx, if ctx was prepared with NewContext.
func (s *Script) Tasks(ctx context.Context) (TaskList, error) {
	thread, globals, state, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	configure, ok := globals["configure"].(starlark.Callable)
	if !ok {
		return nil, eris.Errorf("%s does not define a configure function", state.name)
	}

	state.configuring = true
	if _, err = starlark.Call(thread, configure, nil, nil); err != nil {
		return nil, describeEvalError(state.name, err)
	}

	tasks := make(TaskList, len(state.tasks))
	for _, task := range state.tasks {
		if _, dup := tasks.Lookup(task.Short); dup {
			return nil, eris.Errorf("%s declares the task %s twice", state.name, task.Short)
		}
		tasks[task.Short] = task
	}

	return tasks, nil
}

func starOption(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, defaultValue, help string
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if state.configuring {
		return nil, eris.Errorf("%s: options must be declared in the global scope", fn.Name())
	}

	state.options[name] = ScriptOption{DefaultValue: defaultValue, Help: help}
	if value, ok := state.values[name]; ok {
		return starlark.String(value), nil
	}
	return starlark.String(defaultValue), nil
}

func depNames(field string, list starlark.Iterable) ([]string, error) {
	names := []string{}
	if list == nil {
		return names, nil
	}

	iter := list.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		switch value := item.(type) {
		case starlark.String:
			names = append(names, string(value))
		case *Task:
			names = append(names, value.Short)
		default:
			return nil, eris.Errorf("%s: expected strings or tasks but found %s", field, item.Type())
		}
	}
	return names, nil
}

func stringList(field string, list starlark.Iterable) ([]string, error) {
	result := []string{}
	if list == nil {
		return result, nil
	}

	iter := list.Iterate()
	defer iter.Done()

	var item starlark.Value
	for iter.Next(&item) {
		value, ok := starlark.AsString(item)
		if !ok {
			return nil, eris.Errorf("%s: expected strings but found %s", field, item.Type())
		}
		result = append(result, value)
	}
	return result, nil
}

func toStep(item starlark.Value) (Step, error) {
	switch value := item.(type) {
	case starlark.String:
		return Step{Line: string(value)}, nil
	case *Task:
		return Step{Task: value}, nil
	case starlark.Tuple, *starlark.List:
		args, err := stringList("cmds", value.(starlark.Iterable))
		if err != nil {
			return Step{}, err
		}
		if len(args) == 0 {
			return Step{}, eris.New("cmds: empty command")
		}
		return Step{Args: args}, nil
	default:
		return Step{}, eris.Errorf("cmds: expected a string, a list of arguments or a task but found %s", item.Type())
	}
}

func starTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, before, skipIfExists, inputs, outputs, cmds starlark.Iterable
	var env *starlark.Dict
	task := &Task{}

	err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"short?", &task.Short, "desc?", &task.Desc, "deps?", &deps, "before?", &before,
		"base?", &task.Base, "env?", &env, "cmds?", &cmds, "inputs?", &inputs, "outputs?", &outputs,
		"skip_if_exists?", &skipIfExists, "proceed_after_failure?", &task.ProceedAfterFailure,
		"hidden?", &task.Hidden)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	if !state.configuring {
		return nil, eris.Errorf("%s: tasks can only be declared inside configure()", fn.Name())
	}

	switch task.Short {
	case "":
		task.Short = "step#" + nanoid.New()
		task.Hidden = true
	case "configure":
		return nil, eris.Errorf("%s: the name configure is reserved", fn.Name())
	}

	task.Base = state.resolve(task.Base)

	if task.Deps, err = depNames("deps", deps); err != nil {
		return nil, err
	}
	if task.Before, err = depNames("before", before); err != nil {
		return nil, err
	}
	if task.SkipIfExists, err = stringList("skip_if_exists", skipIfExists); err != nil {
		return nil, err
	}
	if task.Inputs, err = stringList("inputs", inputs); err != nil {
		return nil, err
	}
	if task.Outputs, err = stringList("outputs", outputs); err != nil {
		return nil, err
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		log(state.ctx).Warn().Msgf("%s: task %s has inputs but no outputs", state.position(thread), task.Short)
	}

	task.Env = map[string]string{}
	if env != nil {
		for _, item := range env.Items() {
			key, keyOk := starlark.AsString(item[0])
			value, valueOk := starlark.AsString(item[1])
			if !keyOk || !valueOk {
				return nil, eris.Errorf("env: expected string keys and values but found %s: %s", item[0].Type(), item[1].Type())
			}
			task.Env[key] = value
		}
	}

	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			step, err := toStep(item)
			if err != nil {
				return nil, eris.Wrapf(err, "task %s", task.Short)
			}
			task.Steps = append(task.Steps, step)
		}
	}

	state.tasks = append(state.tasks, task)
	return task, nil
}
