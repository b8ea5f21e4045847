package buildsys

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"
)

// Plan returns the tasks needed to build targets in execution order. Dependencies always run
// before their dependents and a task listing another planned task in Before runs ahead of it.
// Ties keep the order in which the tasks were discovered.
func Plan(tasks TaskList, targets []string) ([]*Task, error) {
	// false = visiting, true = done
	visited := make(map[string]bool)
	discovered := make([]*Task, 0, len(tasks))

	var visit func(task *Task) error
	visit = func(task *Task) error {
		status, ok := visited[task.Short]
		if ok {
			if status {
				return nil
			}
			return eris.Errorf("Task %s was called recursively", task.Short)
		}

		visited[task.Short] = false
		for _, dep := range task.Deps {
			depTask, found := tasks.Lookup(dep)
			if !found {
				return eris.Errorf("Task %s not found (required by %s)", dep, task.Short)
			}

			if err := visit(depTask); err != nil {
				return eris.Wrapf(err, "Task %s depends on %s", task.Short, depTask.Short)
			}
		}

		visited[task.Short] = true
		discovered = append(discovered, task)
		return nil
	}

	for _, name := range targets {
		task, found := tasks.Lookup(name)
		if !found {
			return nil, eris.Errorf("Task %s not found", name)
		}

		if err := visit(task); err != nil {
			return nil, err
		}
	}

	return orderPlan(tasks, discovered)
}

func orderPlan(tasks TaskList, discovered []*Task) ([]*Task, error) {
	position := make(map[string]int, len(discovered))
	for idx, task := range discovered {
		position[task.Short] = idx
	}

	successors := make(map[string][]string, len(discovered))
	inDegree := make(map[string]int, len(discovered))
	addEdge := func(from, to string) {
		successors[from] = append(successors[from], to)
		inDegree[to]++
	}

	for _, task := range discovered {
		for _, dep := range task.Deps {
			depTask, _ := tasks.Lookup(dep)
			addEdge(depTask.Short, task.Short)
		}

		for _, name := range task.Before {
			other, found := tasks.Lookup(name)
			if !found {
				continue
			}

			if _, planned := position[other.Short]; planned {
				addEdge(task.Short, other.Short)
			}
		}
	}

	ordered := make([]*Task, 0, len(discovered))
	done := make(map[string]bool, len(discovered))
	for len(ordered) < len(discovered) {
		var next *Task
		for _, task := range discovered {
			if !done[task.Short] && inDegree[task.Short] == 0 {
				next = task
				break
			}
		}

		if next == nil {
			pending := []string{}
			for _, task := range discovered {
				if !done[task.Short] {
					pending = append(pending, task.Short)
				}
			}
			return nil, eris.Errorf("ordering cycle between tasks %s", strings.Join(pending, ", "))
		}

		done[next.Short] = true
		ordered = append(ordered, next)
		for _, succ := range successors[next.Short] {
			inDegree[succ]--
		}
	}

	return ordered, nil
}

func containsFold(list []string, name string) bool {
	for _, item := range list {
		if strings.EqualFold(item, name) {
			return true
		}
	}
	return false
}

func checkConditions(task *Task) (string, bool) {
	for _, cond := range task.OnlyWhen {
		if !cond.Check() {
			return cond.Desc, false
		}
	}
	return "", true
}

// Run plans and executes the given targets. Tasks that fail without ProceedAfterFailure stop the
// run; all remaining tasks are reported as NotRun. The returned error is non-nil if any task failed.
func Run(ctx context.Context, projectRoot string, targets []string, tasks TaskList, opts RunOptions) (*Summary, error) {
	plan, err := Plan(tasks, targets)
	if err != nil {
		return nil, err
	}

	ctx = NewContext(ctx, projectRoot, opts)
	rctx := getRuntimeCtx(ctx)
	summary := &Summary{Results: make([]Result, 0, len(plan))}
	halted := false

	for _, task := range plan {
		result := Result{Task: task.Short}

		if !halted && ctx.Err() != nil {
			halted = true
		}

		switch {
		case halted:
			result.Status = NotRun
		case containsFold(opts.Skip, task.Short):
			result.Status = Skipped
			result.Reason = "skipped on request"
			log(ctx).Info().Str("task", task.Short).Msg("skipped on request")
		default:
			if reason, ok := checkConditions(task); !ok {
				result.Status = Skipped
				result.Reason = reason
				log(ctx).Info().Str("task", task.Short).Msgf("skipped because condition %q is false", reason)
				break
			}

			log(ctx).Info().Str("task", task.Short).Msg(task.Desc)
			start := time.Now()
			err = runTaskInternal(ctx, task, tasks, true)
			result.Duration = time.Since(start)

			if err != nil {
				result.Status = Failed
				result.Err = err
				log(ctx).Error().Str("task", task.Short).Err(err).Msg("failed")

				if task.ProceedAfterFailure {
					log(ctx).Warn().Str("task", task.Short).Msg("continuing with the remaining tasks")
				} else {
					halted = true
				}
			} else {
				result.Status = Succeeded
			}
		}

		rctx.runTasks[task.Short] = true
		summary.Results = append(summary.Results, result)
	}

	if failed := summary.Failed(); len(failed) > 0 {
		return summary, eris.Errorf("Failed tasks: %s", strings.Join(failed, ", "))
	}

	if halted {
		return summary, ctx.Err()
	}
	return summary, nil
}

func runTaskInternal(ctx context.Context, task *Task, tasks TaskList, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			// this task has already been run
			log(ctx).Debug().Msgf("Task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("Task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := tasks.Lookup(dep)
		if !ok {
			return eris.Errorf("Task %s not found", dep)
		}

		if !rctx.runTasks[depTask.Short] {
			err := runTaskInternal(ctx, depTask, tasks, true)
			if err != nil {
				return eris.Wrapf(err, "Task %s failed due to its dependency %s", task.Short, dep)
			}
		}
	}

	parent := rctx.current
	rctx.current = task.Short
	defer func() {
		rctx.current = parent
	}()

	if canSkip && !rctx.force {
		upToDate, err := isUpToDate(ctx, task)
		if err != nil {
			return err
		}

		if upToDate {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	if task.Action != nil {
		if err := task.Action(ctx); err != nil {
			return err
		}
	}

	if len(task.Steps) > 0 {
		if err := runSteps(ctx, task, tasks); err != nil {
			return err
		}
	}

	if task.Short != "" {
		rctx.runTasks[task.Short] = true
	}
	return nil
}

func isUpToDate(ctx context.Context, task *Task) (bool, error) {
	skipList, err := Glob(ctx, task.Base, task.SkipIfExists...)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skipIfExists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check %s", item)
		}
	}

	if found > 0 && found == len(skipList) {
		log(ctx).Info().
			Str("task", task.Short).
			Msg("skipped because all skip files exist")
		return true, nil
	}

	var newestInput time.Time
	inputList, err := Glob(ctx, task.Base, task.Inputs...)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := Glob(ctx, task.Base, task.Outputs...)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "Failed to check input %s", item)
		}

		if info.ModTime().Sub(newestInput) > 0 {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() {
		return false, nil
	}

	var newestOutput time.Time
	oldestOutput := time.Now()

	for _, item := range outputList {
		info, err := os.Stat(item)
		if err != nil && !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "Failed to check output %s", item)
		}

		if err == nil {
			mt := info.ModTime()
			if mt.Sub(newestOutput) > 0 {
				newestOutput = mt
			}

			if oldestOutput.Sub(mt) > 0 {
				oldestOutput = mt
			}
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if newestOutput.Sub(newestInput) > 0 {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", newestOutput.Sub(newestInput).Seconds())
		return true, nil
	}

	return false, nil
}

func runSteps(ctx context.Context, task *Task, tasks TaskList) error {
	rctx := getRuntimeCtx(ctx)
	runner, err := rctx.newRunner(task.Base, getTaskEnv(task), rctx.stdout)
	if err != nil {
		return eris.Wrap(err, "Failed to initialize runner")
	}

	parser := syntax.NewParser()
	for idx, step := range task.Steps {
		if step.Task != nil {
			if err = runTaskInternal(ctx, step.Task, tasks, true); err != nil {
				return err
			}
			continue
		}

		var stmts []*syntax.Stmt
		if step.Args != nil {
			stmts = []*syntax.Stmt{{Cmd: Command{Args: step.Args}.callExpr()}}
		} else {
			file, err := parser.Parse(strings.NewReader(step.Line), fmt.Sprintf("%s:%d", task.Short, idx))
			if err != nil {
				return eris.Wrapf(err, "failed to parse command %s", step.Line)
			}
			stmts = file.Stmts
		}

		for _, stmt := range stmts {
			log(ctx).Info().
				Str("task", task.Short).
				Bool("command", true).
				Msg(rctx.mask(printNode(stmt)))

			if rctx.dryRun {
				continue
			}

			if err = runner.Run(ctx, stmt); err != nil {
				return err
			}
			if runner.Exited() {
				return nil
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
