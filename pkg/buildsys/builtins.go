package buildsys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"gopkg.in/yaml.v3"
)

func starInfo(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	state := stateOf(thread)
	log(state.ctx).Info().Msgf("%s: %s", state.position(thread), message)
	return starlark.None, nil
}

func starWarn(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	state := stateOf(thread)
	log(state.ctx).Warn().Msgf("%s: %s", state.position(thread), message)
	return starlark.None, nil
}

func starError(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var message string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &message); err != nil {
		return nil, err
	}

	return nil, eris.New(message)
}

// toStarlark converts decoded YAML or JSON into Starlark values. Dict keys are sorted.
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case json.Number:
		if i, err := value.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := value.Float64()
		if err != nil {
			return nil, eris.Wrapf(err, "invalid number %s", value)
		}
		return starlark.Float(f), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, item := range value {
			converted, err := toStarlark(item)
			if err != nil {
				return nil, err
			}
			items[idx] = converted
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(value))
		for _, key := range keys {
			converted, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}
			if err = dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[interface{}]interface{}:
		named := make(map[string]interface{}, len(value))
		for key, item := range value {
			named[fmt.Sprint(key)] = item
		}
		return toStarlark(named)
	default:
		return nil, eris.Errorf("values of type %T are not supported", value)
	}
}

// lookupKey follows a dotted path through maps and lists. Numeric segments index lists.
func lookupKey(doc interface{}, key string) (interface{}, bool) {
	if key == "" {
		return doc, true
	}

	current := doc
	for _, segment := range strings.Split(key, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []interface{}:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// read_yaml(file, key = "", default = None) returns the value at the dotted key of a YAML
// document. Documents are parsed once per script evaluation.
func starReadYaml(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var file, key string
	var defaultValue starlark.Value = starlark.None
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "file", &file, "key?", &key, "default?", &defaultValue)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	path := state.resolve(file)
	doc, loaded := state.documents[path]
	if !loaded {
		content, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: failed to read %s", fn.Name(), file)
		}

		if err = yaml.Unmarshal(content, &doc); err != nil {
			return nil, eris.Wrapf(err, "%s: failed to parse %s", fn.Name(), file)
		}
		state.documents[path] = doc
	}

	value, found := lookupKey(doc, key)
	if !found || value == nil {
		return defaultValue, nil
	}
	return toStarlark(value)
}

// execute(args, format = "text", dir = "", allow_failure = False) runs a command while the
// script is evaluated and returns its output. Text output loses its trailing newlines, json
// output is decoded. Failed commands stop the evaluation unless allow_failure is set, in which
// case None is returned.
func starExecute(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var cmdArgs starlark.Iterable
	var format, dir string
	var allowFailure bool
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "args", &cmdArgs, "format?", &format, "dir?", &dir, "allow_failure?", &allowFailure)
	if err != nil {
		return nil, err
	}

	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, eris.Errorf("%s: unsupported format %s", fn.Name(), format)
	}

	argv, err := stringList("args", cmdArgs)
	if err != nil {
		return nil, err
	}

	state := stateOf(thread)
	out := &bytes.Buffer{}
	err = Exec(state.ctx, Command{Dir: state.resolve(dir), Args: argv, Stdout: out})
	if err != nil {
		if allowFailure {
			log(state.ctx).Debug().Err(err).Msgf("%s: command failed", state.position(thread))
			return starlark.None, nil
		}
		return nil, err
	}

	if format == "json" {
		var decoded interface{}
		decoder := json.NewDecoder(out)
		decoder.UseNumber()
		if err = decoder.Decode(&decoded); err != nil {
			return nil, eris.Wrapf(err, "%s: failed to decode the output of %s", fn.Name(), argv[0])
		}
		return toStarlark(decoded)
	}

	return starlark.String(strings.TrimRight(out.String(), "\r\n")), nil
}
