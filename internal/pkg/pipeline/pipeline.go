// Package pipeline runs one study end to end: load the records, aggregate
// and balance them, assemble and validate the network, solve, extract and
// export the results. Tasks declare their prerequisites so a partial task
// selection still runs everything it depends on. Observers follow the run
// on the event bus; they never steer it.
package pipeline

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ohowland/gridflow/internal/pkg/aggregate"
	"github.com/ohowland/gridflow/internal/pkg/balance"
	"github.com/ohowland/gridflow/internal/pkg/config"
	"github.com/ohowland/gridflow/internal/pkg/export"
	"github.com/ohowland/gridflow/internal/pkg/msg"
	"github.com/ohowland/gridflow/internal/pkg/network"
	"github.com/ohowland/gridflow/internal/pkg/record"
	"github.com/ohowland/gridflow/internal/pkg/results"
	"github.com/ohowland/gridflow/internal/pkg/solver"
	"github.com/ohowland/gridflow/internal/pkg/source/csvsource"
	"github.com/ohowland/gridflow/internal/pkg/validate"
)

// Task names in execution order.
const (
	TaskLoad      = "load"
	TaskAggregate = "aggregate"
	TaskBalance   = "balance"
	TaskAssemble  = "assemble"
	TaskValidate  = "validate"
	TaskSolve     = "solve"
	TaskExtract   = "extract"
	TaskExport    = "export"
)

// Task states carried on progress events.
const (
	StatePending = "pending"
	StateRunning = "running"
	StateDone    = "done"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// Event is the progress payload observers receive for every task state
// change.
type Event struct {
	Run      string `json:"run"`
	Scenario string `json:"scenario"`
	Task     string `json:"task"`
	State    string `json:"state"`
	Detail   string `json:"detail"`
}

// TaskError names the failing stage and keeps the underlying typed error.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type task struct {
	name     string
	requires []string
	run      func(*state) error
}

// state carries the intermediate artifacts from task to task within one
// run. Nothing here outlives the run.
type state struct {
	ds       *record.Dataset
	agg      aggregate.Result
	adj      balance.Adjustment
	net      *network.Network
	warnings []string
	res      *results.Results
	detail   string
}

// Pipeline is one run of one study.
type Pipeline struct {
	pid   uuid.UUID
	cfg   config.Config
	bus   *msg.PubSub
	tasks []task
}

// New prepares a run of the given study configuration.
func New(cfg config.Config) (*Pipeline, error) {
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	pid, err := uuid.NewUUID()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		pid: pid,
		cfg: cfg,
		bus: msg.NewPublisher(pid),
	}
	p.tasks = []task{
		{TaskLoad, nil, p.runLoad},
		{TaskAggregate, []string{TaskLoad}, p.runAggregate},
		{TaskBalance, []string{TaskAggregate}, p.runBalance},
		{TaskAssemble, []string{TaskBalance}, p.runAssemble},
		{TaskValidate, []string{TaskAssemble}, p.runValidate},
		{TaskSolve, []string{TaskValidate}, p.runSolve},
		{TaskExtract, []string{TaskSolve}, p.runExtract},
		{TaskExport, []string{TaskExtract}, p.runExport},
	}
	return p, nil
}

// PID identifies the run.
func (p *Pipeline) PID() uuid.UUID {
	return p.pid
}

// Publisher is the subscription point for observer handlers. Subscribe
// before calling Run; events are not replayed.
func (p *Pipeline) Publisher() *msg.PubSub {
	return p.bus
}

// Tasks lists the canonical task names in execution order.
func (p *Pipeline) Tasks() []string {
	names := make([]string, 0, len(p.tasks))
	for _, t := range p.tasks {
		names = append(names, t.name)
	}
	return names
}

// Run executes the selected tasks plus their prerequisites, in canonical
// order. An empty selection runs everything. The event bus closes when the
// run finishes so observers can drain and exit.
func (p *Pipeline) Run(only []string) (*results.Results, error) {
	defer p.bus.Close()

	selected, err := p.selectTasks(only)
	if err != nil {
		return nil, err
	}

	log.Printf("[Pipeline] run %v scenario %q", p.pid, p.cfg.Name)
	for _, t := range p.tasks {
		if selected[t.name] {
			p.publish(t.name, StatePending, "")
		}
	}

	st := &state{}
	for i, t := range p.tasks {
		if !selected[t.name] {
			continue
		}

		p.publish(t.name, StateRunning, "")
		log.Printf("[Pipeline] task %s", t.name)
		st.detail = ""
		if err := t.run(st); err != nil {
			p.publish(t.name, StateFailed, err.Error())
			log.Printf("[Pipeline] task %s failed: %v", t.name, err)
			for _, rest := range p.tasks[i+1:] {
				if selected[rest.name] {
					p.publish(rest.name, StateSkipped, "")
				}
			}
			return nil, &TaskError{Task: t.name, Err: err}
		}
		p.publish(t.name, StateDone, st.detail)
	}

	log.Printf("[Pipeline] run %v complete", p.pid)
	return st.res, nil
}

// selectTasks resolves a task subset, pulling in prerequisites
// transitively.
func (p *Pipeline) selectTasks(only []string) (map[string]bool, error) {
	byName := make(map[string]task, len(p.tasks))
	for _, t := range p.tasks {
		byName[t.name] = t
	}

	selected := make(map[string]bool, len(p.tasks))
	if len(only) == 0 {
		for _, t := range p.tasks {
			selected[t.name] = true
		}
		return selected, nil
	}

	var include func(name string) error
	include = func(name string) error {
		t, ok := byName[name]
		if !ok {
			return fmt.Errorf("pipeline: unknown task %q (tasks: %v)", name, p.Tasks())
		}
		if selected[name] {
			return nil
		}
		selected[name] = true
		for _, req := range t.requires {
			if err := include(req); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range only {
		if err := include(name); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

func (p *Pipeline) publish(taskName, taskState, detail string) {
	p.bus.Publish(msg.Progress, Event{
		Run:      p.pid.String(),
		Scenario: p.cfg.Name,
		Task:     taskName,
		State:    taskState,
		Detail:   detail,
	})
}

func (p *Pipeline) runLoad(st *state) error {
	ds, err := csvsource.Load(p.cfg.Data.Dir)
	if err != nil {
		return err
	}
	st.ds = ds
	st.detail = fmt.Sprintf("%d buses, %d lines, %d transformers, %d generators, %d loads",
		len(ds.Buses), len(ds.Lines), len(ds.Transformers), len(ds.Generators), len(ds.Loads))
	return nil
}

func (p *Pipeline) runAggregate(st *state) error {
	agg, err := aggregate.Aggregate(st.ds, p.cfg)
	if err != nil {
		return err
	}
	st.agg = agg
	st.detail = fmt.Sprintf("%d generators, %d corridors, %d loads",
		len(agg.Generators), len(agg.Lines), len(agg.Loads))
	return nil
}

func (p *Pipeline) runBalance(st *state) error {
	agg, adj, err := balance.Adjust(st.agg, p.cfg)
	if err != nil {
		return err
	}
	st.agg = agg
	st.adj = adj
	st.detail = fmt.Sprintf("factor %.4f, generation %.1fMW against load %.1fMW",
		adj.Factor, adj.GenerationMW, adj.LoadMW)
	return nil
}

func (p *Pipeline) runAssemble(st *state) error {
	net, err := network.Assemble(st.ds, st.agg, p.cfg)
	if err != nil {
		return err
	}
	st.net = net
	st.detail = fmt.Sprintf("%d buses, %d branches", len(net.Buses), len(net.Branches))
	return nil
}

func (p *Pipeline) runValidate(st *state) error {
	report := validate.Check(st.net)
	if err := report.Err(); err != nil {
		return err
	}
	st.warnings = report.Messages()
	for _, w := range st.warnings {
		log.Println("[Pipeline] warning:", w)
	}
	st.detail = fmt.Sprintf("%d warnings", len(st.warnings))
	return nil
}

func (p *Pipeline) runSolve(st *state) error {
	sol, err := solver.Solve(st.net, p.cfg)
	if err != nil {
		return err
	}
	st.detail = fmt.Sprintf("%s converged in %d iterations", sol.Strategy, sol.Iterations)
	return nil
}

func (p *Pipeline) runExtract(st *state) error {
	res, err := results.Extract(st.net, st.warnings)
	if err != nil {
		return err
	}
	res.Summary.Scenario = p.cfg.Name
	st.res = res
	st.detail = fmt.Sprintf("%d bus rows, %d branch rows",
		len(res.Buses), len(res.Lines)+len(res.Transformers))

	p.bus.Publish(msg.Result, res)
	return nil
}

func (p *Pipeline) runExport(st *state) error {
	dir := filepath.Join(p.cfg.Export.Dir, p.pid.String())
	exp, err := export.New(dir, p.cfg.Export.OverloadThreshold)
	if err != nil {
		return err
	}
	if err := exp.Write(st.res); err != nil {
		return err
	}
	st.detail = dir
	return nil
}
