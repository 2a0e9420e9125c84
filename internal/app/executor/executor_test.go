package executor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novacore/internal/app/executionguard"
	"novacore/internal/collaborators"
	"novacore/internal/domain/mission"
)

func newNode(t *testing.T, id, label, typ string, fields map[string]any) mission.Node {
	t.Helper()
	raw := map[string]any{"id": id, "label": label, "type": typ}
	for k, v := range fields {
		raw[k] = v
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	var n mission.Node
	require.NoError(t, json.Unmarshal(data, &n))
	return n
}

func conn(source, target string) mission.Connection {
	return mission.Connection{SourceNodeID: source, TargetNodeID: target}
}

func connPort(source, port, target string) mission.Connection {
	return mission.Connection{SourceNodeID: source, SourcePort: port, TargetNodeID: target}
}

// fakeDispatcher records every dispatch attempt and always succeeds.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, channel, text string, recipients []string, scheduleLike bool, scope string, meta collaborators.DispatchMeta) ([]collaborators.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, channel)
	return []collaborators.DispatchResult{{OK: true}}, nil
}

func newExecutor(t *testing.T) (*Executor, *Registry) {
	t.Helper()
	reg := NewRegistry(nil)
	guard := executionguard.New(executionguard.DefaultConfig(), nil)
	e := New(reg, guard)
	e.Dispatcher = &fakeDispatcher{}
	return e, reg
}

func traceStatuses(t *testing.T, result Result) map[string]mission.NodeTraceStatus {
	t.Helper()
	out := make(map[string]mission.NodeTraceStatus, len(result.NodeTraces))
	for _, tr := range result.NodeTraces {
		out[tr.Label] = tr.Status
	}
	return out
}

func TestExecuteMission_E1_DailyTriggerRunsAllNodes(t *testing.T) {
	e, reg := newExecutor(t)
	reg.Register("fetch", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: "A"}
	})
	reg.Register("ai-summarize", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: ec.ResolveExpr("{{$nodes.Fetch.output.text}}")}
	})
	reg.Register("novachat-output", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: ec.ResolveExpr("{{$nodes.Summarize.output.text}}")}
	})
	reg.Register(mission.TypeScheduleTrigger, func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true}
	})

	m := &mission.Mission{
		ID: "m1", UserID: "alice", Integration: "novachat",
		Settings: mission.Settings{Timezone: "America/New_York"},
		Nodes: []mission.Node{
			newNode(t, "trig", "Trigger", mission.TypeScheduleTrigger, map[string]any{"mode": "daily", "timezone": "America/New_York"}),
			newNode(t, "fetch", "Fetch", "fetch", nil),
			newNode(t, "ai", "Summarize", "ai-summarize", nil),
			newNode(t, "out", "Output", "novachat-output", nil),
		},
		Connections: []mission.Connection{conn("trig", "fetch"), conn("fetch", "ai"), conn("ai", "out")},
	}

	local, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, local)

	result := e.ExecuteMission(context.Background(), Input{Mission: m, Source: mission.SourceScheduler, Now: now, UserContextID: "alice"})

	require.True(t, result.OK)
	require.False(t, result.Skipped)
	require.Len(t, result.Outputs, 1)
	require.True(t, result.Outputs[0].OK)

	statuses := traceStatuses(t, result)
	require.Equal(t, mission.TraceCompleted, statuses["Trigger"])
	require.Equal(t, mission.TraceCompleted, statuses["Fetch"])
	require.Equal(t, mission.TraceCompleted, statuses["Summarize"])
	require.Equal(t, mission.TraceCompleted, statuses["Output"])
}

func TestExecuteMission_E2_AlreadyRanTodaySkips(t *testing.T) {
	e, reg := newExecutor(t)
	reg.Register(mission.TypeScheduleTrigger, func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true}
	})

	local, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, local)

	m := &mission.Mission{
		ID: "m1", UserID: "alice",
		LastSentLocalDate: now.Format("2006-01-02"),
		Settings:          mission.Settings{Timezone: "America/New_York"},
		Nodes: []mission.Node{
			newNode(t, "trig", "Trigger", mission.TypeScheduleTrigger, map[string]any{"mode": "daily", "timezone": "America/New_York"}),
		},
	}

	result := e.ExecuteMission(context.Background(), Input{Mission: m, Source: mission.SourceScheduler, Now: now, UserContextID: "alice"})

	require.True(t, result.OK)
	require.True(t, result.Skipped)
	require.Contains(t, result.Reason, "Already ran today")
}

func TestExecuteMission_E3_ConditionBranchSkipsFalseSide(t *testing.T) {
	e, reg := newExecutor(t)
	reg.Register("manual-trigger", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true}
	})
	reg.Register("condition", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Port: mission.PortTrue}
	})
	reg.Register("true-branch", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: "yes"}
	})
	reg.Register("false-branch", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: "no"}
	})

	m := &mission.Mission{
		ID: "m1", UserID: "alice",
		Nodes: []mission.Node{
			newNode(t, "trig", "Trigger", "manual-trigger", nil),
			newNode(t, "cond", "Cond", "condition", nil),
			newNode(t, "t", "TrueBranch", "true-branch", nil),
			newNode(t, "f", "FalseBranch", "false-branch", nil),
		},
		Connections: []mission.Connection{
			conn("trig", "cond"),
			connPort("cond", mission.PortTrue, "t"),
			connPort("cond", mission.PortFalse, "f"),
		},
	}

	result := e.ExecuteMission(context.Background(), Input{Mission: m, Source: mission.SourceManual, UserContextID: "alice"})

	statuses := traceStatuses(t, result)
	require.Equal(t, mission.TraceCompleted, statuses["TrueBranch"])
	require.Equal(t, mission.TraceSkipped, statuses["FalseBranch"])

	for _, tr := range result.NodeTraces {
		if tr.Label == "FalseBranch" {
			require.Contains(t, tr.Reason, "Branch not taken: true")
		}
	}
}

func TestExecuteMission_E4_ExecutorPanicRoutesToFallback(t *testing.T) {
	e, reg := newExecutor(t)
	reg.Register("manual-trigger", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true}
	})
	reg.Register("ai-summarize", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		panic("boom")
	})
	reg.Register("novachat-output", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		return mission.NodeOutput{OK: true, Text: "should be skipped"}
	})

	m := &mission.Mission{
		ID: "m1", UserID: "alice", Integration: "novachat",
		Nodes: []mission.Node{
			newNode(t, "trig", "Trigger", "manual-trigger", nil),
			newNode(t, "ai", "Summarize", "ai-summarize", nil),
			newNode(t, "out", "Output", "novachat-output", nil),
		},
		Connections: []mission.Connection{conn("trig", "ai"), conn("ai", "out")},
	}

	result := e.ExecuteMission(context.Background(), Input{Mission: m, Source: mission.SourceManual, UserContextID: "alice"})

	statuses := traceStatuses(t, result)
	require.Equal(t, mission.TraceFailed, statuses["Summarize"])
	require.Equal(t, mission.TraceSkipped, statuses["Output"])

	require.Len(t, result.Outputs, 1)
	require.True(t, result.Outputs[0].OK)
	require.Equal(t, result.OK, result.Outputs[0].OK)
}

func TestExecuteMission_E5_PerUserCapRejectsSecondConcurrentRun(t *testing.T) {
	reg := NewRegistry(nil)
	guard := executionguard.New(executionguard.Config{PerUserInflightLimit: 1, GlobalInflightLimit: 10, SlotTTL: time.Minute}, nil)
	e := New(reg, guard)
	e.Dispatcher = &fakeDispatcher{}

	release := make(chan struct{})
	entered := make(chan struct{})
	reg.Register("manual-trigger", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		close(entered)
		<-release
		return mission.NodeOutput{OK: true}
	})

	m := &mission.Mission{
		ID: "m1", UserID: "alice",
		Nodes: []mission.Node{newNode(t, "trig", "Trigger", "manual-trigger", nil)},
	}

	var resultA Result
	done := make(chan struct{})
	go func() {
		resultA = e.ExecuteMission(context.Background(), Input{Mission: m, RunID: "run-a", Source: mission.SourceManual, UserContextID: "alice"})
		close(done)
	}()

	<-entered
	resultB := e.ExecuteMission(context.Background(), Input{Mission: m, RunID: "run-b", Source: mission.SourceManual, UserContextID: "alice"})
	require.False(t, resultB.OK)
	require.Contains(t, resultB.Reason, "per-user cap")

	close(release)
	<-done
	require.True(t, resultA.OK)
}

func TestExecuteMission_E6_CycleAbortsBeforeAnyExecutorRuns(t *testing.T) {
	e, reg := newExecutor(t)
	invoked := false
	reg.Register("step", func(ctx context.Context, n mission.Node, ec *mission.ExecutionContext) mission.NodeOutput {
		invoked = true
		return mission.NodeOutput{OK: true}
	})

	m := &mission.Mission{
		ID: "m1", UserID: "alice",
		Nodes: []mission.Node{
			newNode(t, "a", "A", "step", nil),
			newNode(t, "b", "B", "step", nil),
		},
		Connections: []mission.Connection{conn("a", "b"), conn("b", "a")},
	}

	result := e.ExecuteMission(context.Background(), Input{Mission: m, Source: mission.SourceManual, UserContextID: "alice"})

	require.False(t, result.OK)
	require.Contains(t, result.Reason, "A")
	require.Contains(t, result.Reason, "B")
	require.False(t, invoked)
}
