package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workflow"
)

// fnTask adapts plain functions to the task contract for tests.
type fnTask struct {
	validate func(task.Params) error
	execute  func(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error)
}

func (t *fnTask) Validate(params task.Params) error {
	if t.validate != nil {
		return t.validate(params)
	}
	return nil
}

func (t *fnTask) Execute(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error) {
	return t.execute(ctx, rc, params)
}

// recorder tracks execution order and counts across concurrent steps.
type recorder struct {
	mu    sync.Mutex
	order []string
	count map[string]int
}

func newRecorder() *recorder {
	return &recorder{count: make(map[string]int)}
}

func (r *recorder) hit(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
	r.count[name]++
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *recorder) hits(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count[name]
}

func mustRegister(t *testing.T, reg *registry.Registry, name string, execute func(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error)) {
	t.Helper()
	err := reg.Register(registry.Descriptor{
		Name:    name,
		Factory: func() task.Task { return &fnTask{execute: execute} },
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func emptyContext(t *testing.T) *runctx.Context {
	t.Helper()
	rc, err := runctx.Load()
	if err != nil {
		t.Fatal(err)
	}
	return rc
}

func step(name, taskName string, deps ...string) workflow.Step {
	return workflow.Step{Name: name, Task: taskName, DependsOn: deps}
}

func TestRun_LinearDependencyAndSubstitution(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()

	mustRegister(t, reg, "producer", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("producer")
		return map[string]interface{}{"hosts": []interface{}{"10.0.0.1", "10.0.0.2"}, "count": 2}, nil
	})

	var consumerSaw task.Params
	mustRegister(t, reg, "consumer", func(_ context.Context, _ *runctx.Context, params task.Params) (interface{}, error) {
		rec.hit("consumer")
		consumerSaw = params
		return "done", nil
	})

	def := &workflow.Definition{
		Name: "linear",
		Steps: []workflow.Step{
			step("discover", "producer"),
			{
				Name:      "probe",
				Task:      "consumer",
				DependsOn: []string{"discover"},
				Params: map[string]interface{}{
					"targets": "${discover.hosts}",
					"label":   "found ${discover.count} hosts",
				},
			},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunCompleted {
		t.Errorf("status = %s, want completed", report.Status)
	}
	if got := rec.seen(); len(got) != 2 || got[0] != "producer" || got[1] != "consumer" {
		t.Errorf("execution order = %v", got)
	}

	hosts, ok := consumerSaw["targets"].([]interface{})
	if !ok || len(hosts) != 2 {
		t.Errorf("whole-token substitution lost the type: %#v", consumerSaw["targets"])
	}
	if consumerSaw.String("label") != "found 2 hosts" {
		t.Errorf("interpolated label = %q", consumerSaw.String("label"))
	}

	inst, ok := report.Step("probe")
	if !ok || inst.Status != task.StatusCompleted {
		t.Errorf("probe instance missing or not completed")
	}
	if result, set := inst.Result(); !set || result != "done" {
		t.Errorf("probe result = %v set=%v", result, set)
	}
}

func TestRun_FanOutAllComplete(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	for _, name := range []string{"a", "b", "c"} {
		name := name
		mustRegister(t, reg, name, func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
			rec.hit(name)
			return name, nil
		})
	}

	def := &workflow.Definition{
		Name: "fanout",
		Steps: []workflow.Step{
			step("A", "a"),
			step("B", "b", "A"),
			step("C", "c", "A"),
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunCompleted {
		t.Errorf("status = %s", report.Status)
	}
	order := rec.seen()
	if len(order) != 3 || order[0] != "a" {
		t.Errorf("A must run first: %v", order)
	}
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()

	mustRegister(t, reg, "boom", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("boom")
		return nil, errors.New("exploded")
	})
	mustRegister(t, reg, "never", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("never")
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "fanout-fail",
		Steps: []workflow.Step{
			step("A", "boom"),
			step("B", "never", "A"),
			step("C", "never", "A"),
			step("D", "never", "B"),
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunFailed {
		t.Errorf("status = %s, want failed", report.Status)
	}
	if rec.hits("never") != 0 {
		t.Errorf("dependents of a failed step must not execute")
	}
	for _, name := range []string{"B", "C", "D"} {
		inst, ok := report.Step(name)
		if !ok || inst.Status != task.StatusSkipped {
			t.Errorf("step %s status = %v, want skipped", name, inst.Status)
		}
	}

	instA, _ := report.Step("A")
	if instA.Status != task.StatusFailed {
		t.Errorf("A status = %v", instA.Status)
	}
	if !errors.Is(instA.Err, task.ErrExecution) {
		t.Errorf("A error should wrap ErrExecution: %v", instA.Err)
	}
	if len(report.Errors) != 1 || report.Errors[0].Step != "A" {
		t.Errorf("Errors = %v", report.Errors)
	}
}

func TestRun_ContinueOnError(t *testing.T) {
	build := func(continueOnError bool) (*workflow.Definition, *registry.Registry, *recorder) {
		reg := registry.New()
		rec := newRecorder()
		mustRegister(t, reg, "boom", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
			rec.hit("boom")
			return nil, errors.New("exploded")
		})
		mustRegister(t, reg, "ok", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
			rec.hit("ok")
			return nil, nil
		})
		def := &workflow.Definition{
			Name:            "branches",
			ContinueOnError: continueOnError,
			MaxParallel:     1,
			Steps: []workflow.Step{
				step("fail", "boom"),
				step("other", "ok"),
			},
		}
		return def, reg, rec
	}

	def, reg, rec := build(true)
	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.hits("ok") != 1 {
		t.Error("unrelated branch must run when continue_on_error is set")
	}
	if report.Status != RunFailed {
		t.Errorf("status = %s", report.Status)
	}

	def, reg, rec = build(false)
	report, err = New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.hits("ok") != 0 {
		t.Error("scheduling must stop after a required failure without continue_on_error")
	}
	inst, _ := report.Step("other")
	if inst.Status != task.StatusSkipped {
		t.Errorf("other status = %v, want skipped", inst.Status)
	}
}

func TestRun_OptionalFailureIsPartial(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "boom", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, errors.New("exploded")
	})
	mustRegister(t, reg, "ok", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "optional",
		Steps: []workflow.Step{
			step("core", "ok"),
			{Name: "extra", Task: "boom", Optional: true},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunPartial {
		t.Errorf("status = %s, want partial", report.Status)
	}
}

func TestRun_RetryCountBoundsAttempts(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	mustRegister(t, reg, "flaky", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("flaky")
		if rec.hits("flaky") < 3 {
			return nil, errors.New("transient")
		}
		return "finally", nil
	})

	def := &workflow.Definition{
		Name: "retry",
		Steps: []workflow.Step{
			{Name: "flaky", Task: "flaky", RetryCount: 2, RetryDelay: workflow.Duration(time.Millisecond)},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	inst, _ := report.Step("flaky")
	if inst.Status != task.StatusCompleted {
		t.Fatalf("status = %v, err = %v", inst.Status, inst.Err)
	}
	if inst.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", inst.Attempts)
	}
	if report.Status != RunCompleted {
		t.Errorf("run status = %s", report.Status)
	}
}

func TestRun_RetryExhaustionFails(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	mustRegister(t, reg, "doomed", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("doomed")
		return nil, errors.New("always")
	})

	def := &workflow.Definition{
		Name: "exhaust",
		Steps: []workflow.Step{
			{Name: "doomed", Task: "doomed", RetryCount: 1},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.hits("doomed") != 2 {
		t.Errorf("attempts = %d, want 2", rec.hits("doomed"))
	}
	inst, _ := report.Step("doomed")
	if inst.Status != task.StatusFailed {
		t.Errorf("status = %v", inst.Status)
	}
}

func TestRun_TimeoutMarksTimedOut(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "slow", func(ctx context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})

	def := &workflow.Definition{
		Name: "timeout",
		Steps: []workflow.Step{
			{Name: "slow", Task: "slow", Timeout: workflow.Duration(30 * time.Millisecond)},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	inst, _ := report.Step("slow")
	if inst.Status != task.StatusTimedOut {
		t.Errorf("status = %v, want timeout", inst.Status)
	}
	if !errors.Is(inst.Err, task.ErrTimeout) {
		t.Errorf("err = %v", inst.Err)
	}
	if report.Status != RunFailed {
		t.Errorf("run status = %s", report.Status)
	}
}

func TestRun_CancellationSkipsRemaining(t *testing.T) {
	reg := registry.New()
	started := make(chan struct{})
	mustRegister(t, reg, "block", func(ctx context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mustRegister(t, reg, "after", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "cancel",
		Steps: []workflow.Step{
			step("block", "block"),
			step("after", "after", "block"),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	report, err := New(reg).Run(ctx, def, emptyContext(t))
	if !errors.Is(err, task.ErrCancelled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if report == nil {
		t.Fatal("report must be produced for cancelled runs")
	}
	if report.Status != RunFailed {
		t.Errorf("status = %s", report.Status)
	}
	inst, _ := report.Step("after")
	if inst.Status != task.StatusSkipped {
		t.Errorf("after status = %v, want skipped", inst.Status)
	}
}

func TestRun_InvalidDefinitionNeverExecutes(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	mustRegister(t, reg, "t", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		rec.hit("t")
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "cyclic",
		Steps: []workflow.Step{
			step("a", "t", "b"),
			step("b", "t", "a"),
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if !errors.Is(err, workflow.ErrDefinition) {
		t.Fatalf("expected ErrDefinition, got %v", err)
	}
	if report != nil {
		t.Error("no report for structurally invalid definitions")
	}
	if rec.hits("t") != 0 {
		t.Error("no step may execute when validation fails")
	}
}

func TestRun_UnknownTaskFailsStep(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "known", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "unknown",
		Steps: []workflow.Step{
			step("x", "missing"),
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	inst, _ := report.Step("x")
	if inst.Status != task.StatusFailed {
		t.Errorf("status = %v", inst.Status)
	}
	if !errors.Is(inst.Err, registry.ErrNotFound) {
		t.Errorf("err = %v", inst.Err)
	}
}

func TestRun_MaxParallelOne_DeclarationOrder(t *testing.T) {
	reg := registry.New()
	rec := newRecorder()
	for _, name := range []string{"t1", "t2", "t3"} {
		name := name
		mustRegister(t, reg, name, func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
			rec.hit(name)
			return nil, nil
		})
	}

	def := &workflow.Definition{
		Name:        "serial",
		MaxParallel: 1,
		Steps: []workflow.Step{
			step("first", "t1"),
			step("second", "t2"),
			step("third", "t3"),
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.Status != RunCompleted {
		t.Errorf("status = %s", report.Status)
	}
	want := []string{"t1", "t2", "t3"}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("order = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_SubstitutionFailureFailsStep(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "producer", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return map[string]interface{}{"present": 1}, nil
	})
	mustRegister(t, reg, "consumer", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "badref",
		Steps: []workflow.Step{
			step("p", "producer"),
			{
				Name:      "c",
				Task:      "consumer",
				DependsOn: []string{"p"},
				Params:    map[string]interface{}{"v": "${p.absent}"},
			},
		},
	}

	report, err := New(reg).Run(context.Background(), def, emptyContext(t))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	inst, _ := report.Step("c")
	if inst.Status != task.StatusFailed {
		t.Errorf("status = %v", inst.Status)
	}
	if !errors.Is(inst.Err, ErrSubstitution) {
		t.Errorf("err = %v", inst.Err)
	}
	if report.Status != RunFailed {
		t.Errorf("run status = %s", report.Status)
	}
}

func TestRun_InstancesNeverMutateDefinition(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, "producer", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return map[string]interface{}{"v": "resolved"}, nil
	})
	mustRegister(t, reg, "consumer", func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
		return nil, nil
	})

	def := &workflow.Definition{
		Name: "immutability",
		Steps: []workflow.Step{
			step("p", "producer"),
			{
				Name:      "c",
				Task:      "consumer",
				DependsOn: []string{"p"},
				Params:    map[string]interface{}{"x": "${p.v}"},
			},
		},
	}

	if _, err := New(reg).Run(context.Background(), def, emptyContext(t)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if def.Steps[1].Params["x"] != "${p.v}" {
		t.Errorf("definition params were mutated: %v", def.Steps[1].Params)
	}
}

func TestRunTask(t *testing.T) {
	reg := registry.New()
	err := reg.Register(registry.Descriptor{
		Name:           "echo",
		RequiredParams: []string{"msg"},
		Factory: func() task.Task {
			return &fnTask{execute: func(_ context.Context, _ *runctx.Context, params task.Params) (interface{}, error) {
				return params.String("msg"), nil
			}}
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	eng := New(reg)
	inst, err := eng.RunTask(context.Background(), "echo", emptyContext(t), task.Params{"msg": "hi"})
	if err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if result, _ := inst.Result(); result != "hi" {
		t.Errorf("result = %v", result)
	}

	if _, err := eng.RunTask(context.Background(), "echo", emptyContext(t), nil); !errors.Is(err, task.ErrValidation) {
		t.Errorf("expected validation error for missing param, got %v", err)
	}
	if _, err := eng.RunTask(context.Background(), "nope", emptyContext(t), nil); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	run := func() []string {
		reg := registry.New()
		rec := newRecorder()
		for _, name := range []string{"a", "b", "c", "d"} {
			name := name
			mustRegister(t, reg, name, func(_ context.Context, _ *runctx.Context, _ task.Params) (interface{}, error) {
				rec.hit(name)
				return nil, nil
			})
		}
		def := &workflow.Definition{
			Name:        "determinism",
			MaxParallel: 1,
			Steps: []workflow.Step{
				step("s1", "a"),
				step("s2", "b", "s1"),
				step("s3", "c", "s1"),
				step("s4", "d", "s2", "s3"),
			},
		}
		if _, err := New(reg).Run(context.Background(), def, emptyContext(t)); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return rec.seen()
	}

	first := run()
	for i := 0; i < 3; i++ {
		if got := run(); fmt.Sprint(got) != fmt.Sprint(first) {
			t.Fatalf("run %d order %v != %v", i, got, first)
		}
	}
}
