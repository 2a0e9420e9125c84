// Package executor orchestrates a Mission run: topological traversal,
// per-node executors, expression resolution, branch/error routing,
// timeout, and fallback output dispatch.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"novacore/internal/app/dag"
	"novacore/internal/app/executionguard"
	"novacore/internal/app/expression"
	"novacore/internal/app/schedulegate"
	"novacore/internal/collaborators"
	"novacore/internal/domain/mission"
	"novacore/internal/errors"
	"novacore/internal/logging"
	"novacore/internal/telemetry"
)

// Input is the entry parameters for a mission run.
type Input struct {
	Mission       *mission.Mission
	Source        mission.Source
	RunID         string
	Attempt       int
	Now           time.Time
	UserContextID string
	Variables     map[string]string
}

// OutputResult is one output-node delivery outcome, collected in
// topological order.
type OutputResult struct {
	NodeID string
	OK     bool
	Error  string
}

// Result is the outcome of executeMission.
type Result struct {
	OK         bool
	Skipped    bool
	Reason     string
	Outputs    []OutputResult
	NodeTraces []mission.NodeTrace
}

// Executor is the Mission DAG Executor.
type Executor struct {
	Registry   *Registry
	Guard      *executionguard.Guard
	Dispatcher collaborators.ChannelDispatcher
	Telemetry  telemetry.Recorder
	Logger     logging.Logger
	MaxRunTime time.Duration
}

// New builds an Executor with the given registry and guard; unset
// optional fields default to no-ops.
func New(registry *Registry, guard *executionguard.Guard) *Executor {
	return &Executor{
		Registry:   registry,
		Guard:      guard,
		Telemetry:  telemetry.NoopRecorder{},
		Logger:     logging.NoopLogger{},
		MaxRunTime: 5 * time.Minute,
	}
}

// ExecuteMission runs input.Mission end to end, wrapped in a hard
// wall-clock timeout. On timeout, in-flight work detaches and its later
// completion is ignored.
func (e *Executor) ExecuteMission(ctx context.Context, input Input) Result {
	done := make(chan Result, 1)
	go func() {
		done <- e.run(ctx, input)
	}()

	timeout := e.MaxRunTime
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	select {
	case res := <-done:
		return res
	case <-time.After(timeout):
		return Result{OK: false, Skipped: false, Reason: fmt.Sprintf("Mission execution timed out after %s.", timeout)}
	}
}

func (e *Executor) run(ctx context.Context, input Input) (result Result) {
	now := input.Now
	if now.IsZero() {
		now = time.Now()
	}
	runID := input.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	e.Telemetry.MissionStarted(input.Mission.ID, input.Mission.UserID)
	start := time.Now()
	spanCtx, span := telemetry.StartRunSpan(ctx, input.Mission.ID, input.Mission.UserID, runID)
	ctx = spanCtx
	defer func() { telemetry.EndRunSpan(span, result.OK, result.Reason) }()

	release, err := e.Guard.Acquire(input.UserContextID, runID)
	if err != nil {
		e.Telemetry.MissionFailed(input.Mission.ID, err.Error())
		return Result{OK: false, Reason: err.Error()}
	}
	defer release()

	if input.Source == mission.SourceScheduler {
		decision := schedulegate.Check(input.Mission, now)
		if !decision.Due {
			e.Telemetry.MissionCompleted(input.Mission.ID, true, true, time.Since(start))
			return Result{OK: true, Skipped: true, Reason: decision.Reason}
		}
	}

	if len(input.Mission.Nodes) == 0 {
		mErr := errors.NewMissionError("EMPTY_MISSION", "mission has no nodes")
		e.Telemetry.MissionFailed(input.Mission.ID, mErr.Code)
		return Result{OK: false, Reason: mErr.Error()}
	}
	if issues := validateGraph(input.Mission); len(issues) > 0 {
		mErr := errors.NewMissionError("GRAPH_VALIDATION_FAILED", strings.Join(issues, "; "))
		e.Telemetry.MissionFailed(input.Mission.ID, mErr.Code)
		return Result{OK: false, Reason: mErr.Error()}
	}

	byLabel := input.Mission.NodeByLabel()
	labelToID := make(map[string]string, len(byLabel))
	for label, n := range byLabel {
		labelToID[label] = n.ID
	}

	nodeOutputs := make(map[string]mission.NodeOutput)
	variables := seedVariables(input.Mission, input.Variables)

	startIDs := input.Mission.TriggerNodeIDs()
	if len(startIDs) == 0 {
		startIDs = []string{input.Mission.Nodes[0].ID}
	}

	topo := dag.TopoOrder(startIDs, input.Mission.Nodes, input.Mission.Connections)
	if topo.CycleFound {
		mErr := errors.NewMissionError("CYCLE_DETECTED", strings.Join(topo.CycleLabels, ", "))
		e.Telemetry.MissionFailed(input.Mission.ID, mErr.Code)
		return Result{OK: false, Reason: mErr.Error()}
	}

	ec := &mission.ExecutionContext{
		MissionID:    input.Mission.ID,
		MissionLabel: input.Mission.Label,
		RunID:        runID,
		Attempt:      input.Attempt,
		Now:          now,
		Source:       input.Source,
		Mission:      input.Mission,
		NodeOutputs:  nodeOutputs,
		Variables:    variables,
	}
	ec.ResolveExpr = func(template string) string {
		return expression.New(nodeOutputs, labelToID, variables).Resolve(template)
	}

	adjacencyByPort := connectionsBySource(input.Mission.Connections)
	preMarkedSkip := make(map[string]mission.NodeOutput)
	tracker := newNodeTracker(e.Logger)
	var traces []mission.NodeTrace
	var outputs []OutputResult

	for _, node := range topo.Ordered {
		if node.Disabled {
			tracker.finish(node.ID, node.Label, mission.TraceSkipped, "node disabled")
			traces = append(traces, trace(node, mission.TraceSkipped, "node disabled", now))
			continue
		}

		if skipOutput, ok := preMarkedSkip[node.ID]; ok {
			reasonText := skipOutput.Data["reason"]
			reason, _ := reasonText.(string)
			tracker.finish(node.ID, node.Label, mission.TraceSkipped, reason)
			nodeOutputs[node.ID] = skipOutput
			traces = append(traces, trace(node, mission.TraceSkipped, reason, now))
			continue
		}

		tracker.start(node.ID, node.Label)
		traces = append(traces, trace(node, mission.TraceRunning, "", now))

		exec, ok := e.Registry.Get(node.Type)
		var output mission.NodeOutput
		if !ok {
			mErr := errors.NewMissionError("NO_EXECUTOR", fmt.Sprintf("no executor registered for type %q", node.Type))
			output = mission.NodeOutput{OK: false, ErrorCode: mErr.Code, Error: mErr.Message}
		} else {
			output = exec(ctx, node, ec)
		}
		nodeOutputs[node.ID] = output

		if node.IsTrigger() && output.OK {
			if triggered, ok := output.Data["triggered"].(bool); ok && !triggered {
				if skippedFlag, ok := output.Data["skipped"].(bool); ok && skippedFlag {
					e.Telemetry.MissionCompleted(input.Mission.ID, true, true, time.Since(start))
					return Result{OK: true, Skipped: true, Reason: output.Text, NodeTraces: append(traces, trace(node, mission.TraceCompleted, "", now))}
				}
			}
		}

		if !output.OK {
			for _, conn := range adjacencyByPort[node.ID] {
				if conn.Port() == mission.PortMain {
					preMarkedSkip[conn.TargetNodeID] = mission.NodeOutput{
						OK:   true,
						Text: "",
						Data: map[string]any{"skipped": true, "reason": fmt.Sprintf("Upstream %s failed: %s", node.Label, output.Error)},
					}
				}
			}
		} else {
			resolvedPort := output.Port
			if resolvedPort == "" {
				resolvedPort = mission.PortMain
			}
			for _, conn := range adjacencyByPort[node.ID] {
				if conn.Port() != resolvedPort {
					preMarkedSkip[conn.TargetNodeID] = mission.NodeOutput{
						OK:   true,
						Text: "",
						Data: map[string]any{"skipped": true, "reason": fmt.Sprintf("Branch not taken: %s", resolvedPort)},
					}
				}
			}
		}

		if node.IsOutput() {
			outputs = append(outputs, OutputResult{NodeID: node.ID, OK: output.OK, Error: output.Error})
		}

		status := mission.TraceCompleted
		errCode := ""
		if !output.OK {
			status = mission.TraceFailed
			errCode = output.ErrorCode
		}
		tracker.finish(node.ID, node.Label, status, output.Error)
		text := output.Text
		if len(text) > 200 {
			text = text[:200]
		}
		traces = append(traces, mission.NodeTrace{
			NodeID: node.ID, Label: node.Label, Status: status, ErrorCode: errCode,
			Text: text, ArtifactRef: output.ArtifactRef, At: now,
		})
	}

	if !anyOutputSucceeded(outputs) {
		fallback := e.dispatchFallbackOutput(ctx, input.Mission, nodeOutputs, runID)
		if fallback != nil {
			outputs = append(outputs, *fallback)
		}
	}

	ok := len(outputs) == 0
	for _, o := range outputs {
		if o.OK {
			ok = true
			break
		}
	}

	if ok {
		e.Telemetry.MissionCompleted(input.Mission.ID, true, false, time.Since(start))
	} else {
		e.Telemetry.MissionFailed(input.Mission.ID, "no output succeeded")
	}

	return Result{OK: ok, Outputs: outputs, NodeTraces: traces}
}

func trace(node mission.Node, status mission.NodeTraceStatus, reason string, at time.Time) mission.NodeTrace {
	return mission.NodeTrace{NodeID: node.ID, Label: node.Label, Status: status, Reason: reason, At: at}
}

func anyOutputSucceeded(outputs []OutputResult) bool {
	for _, o := range outputs {
		if o.OK {
			return true
		}
	}
	return false
}

func connectionsBySource(conns []mission.Connection) map[string][]mission.Connection {
	m := make(map[string][]mission.Connection)
	for _, c := range conns {
		m[c.SourceNodeID] = append(m[c.SourceNodeID], c)
	}
	return m
}

func seedVariables(m *mission.Mission, overrides map[string]string) map[string]string {
	vars := make(map[string]string, len(m.Variables)+len(overrides))
	for _, v := range m.Variables {
		vars[v.Name] = fmt.Sprintf("%v", v.Default)
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

func validateGraph(m *mission.Mission) []string {
	var issues []string
	seenLabel := make(map[string]bool)
	ids := make(map[string]bool)
	for _, n := range m.Nodes {
		if seenLabel[n.Label] {
			issues = append(issues, fmt.Sprintf("duplicate label %q", n.Label))
		}
		seenLabel[n.Label] = true
		ids[n.ID] = true
	}
	for _, c := range m.Connections {
		if !ids[c.SourceNodeID] {
			issues = append(issues, fmt.Sprintf("connection references unknown source node %q", c.SourceNodeID))
		}
		if !ids[c.TargetNodeID] {
			issues = append(issues, fmt.Sprintf("connection references unknown target node %q", c.TargetNodeID))
		}
	}
	return issues
}

// dispatchFallbackOutput picks a non-empty fallback text and attempts
// delivery on the mission's primary channel, then the default personal
// channel if different, stopping at the first success.
func (e *Executor) dispatchFallbackOutput(ctx context.Context, m *mission.Mission, outputs map[string]mission.NodeOutput, runID string) *OutputResult {
	text := lastNonEmptyText(m, outputs)
	if text == "" {
		text = "Mission completed with upstream errors."
	}

	if e.Dispatcher == nil {
		return &OutputResult{NodeID: "fallback", OK: false, Error: "no channel dispatcher configured"}
	}

	channels := []string{m.Integration}
	const defaultPersonalChannel = "novachat"
	if m.Integration != defaultPersonalChannel {
		channels = append(channels, defaultPersonalChannel)
	}

	for _, channel := range channels {
		if channel == "" {
			continue
		}
		results, err := e.Dispatcher.Dispatch(ctx, channel, text, m.ChatIDs, false, m.UserID, collaborators.DispatchMeta{
			MissionRunID: runID, NodeID: "fallback", OutputIndex: 0,
		})
		if err != nil {
			continue
		}
		for _, r := range results {
			if r.OK {
				return &OutputResult{NodeID: "fallback", OK: true}
			}
		}
	}
	return &OutputResult{NodeID: "fallback", OK: false, Error: "fallback dispatch failed on all channels"}
}

func lastNonEmptyText(m *mission.Mission, outputs map[string]mission.NodeOutput) string {
	for i := len(m.Nodes) - 1; i >= 0; i-- {
		if out, ok := outputs[m.Nodes[i].ID]; ok && strings.TrimSpace(out.Text) != "" {
			return out.Text
		}
	}
	return ""
}
