package nodeexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"novacore/internal/app/executor"
	"novacore/internal/collaborators"
	"novacore/internal/domain/mission"
)

func newNode(t *testing.T, fields map[string]any) mission.Node {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	var n mission.Node
	require.NoError(t, json.Unmarshal(data, &n))
	return n
}

func newCtx() *mission.ExecutionContext {
	ec := &mission.ExecutionContext{Variables: map[string]string{}, NodeOutputs: map[string]mission.NodeOutput{}}
	ec.ResolveExpr = func(s string) string { return s }
	return ec
}

func TestCondition_TrueAndFalsePorts(t *testing.T) {
	reg := executor.NewRegistry(nil)
	registerLogic(reg)
	exec, ok := reg.Get("condition")
	require.True(t, ok)

	n := newNode(t, map[string]any{"expression": "true"})
	out := exec(context.Background(), n, newCtx())
	require.True(t, out.OK)
	require.Equal(t, mission.PortTrue, out.Port)

	n = newNode(t, map[string]any{"expression": "false"})
	out = exec(context.Background(), n, newCtx())
	require.Equal(t, mission.PortFalse, out.Port)
}

func TestSetVariables_AssignsIntoContext(t *testing.T) {
	reg := executor.NewRegistry(nil)
	registerTransform(reg)
	exec, ok := reg.Get("set-variables")
	require.True(t, ok)

	n := newNode(t, map[string]any{"assignments": map[string]any{"greeting": "hi"}})
	ec := newCtx()
	out := exec(context.Background(), n, ec)
	require.True(t, out.OK)
	require.Equal(t, "hi", ec.Variables["greeting"])
}

func TestDedupe_RemovesDuplicateItems(t *testing.T) {
	reg := executor.NewRegistry(nil)
	registerTransform(reg)
	exec, ok := reg.Get("dedupe")
	require.True(t, ok)

	n := newNode(t, map[string]any{"items": []any{"a", "b", "a", "c"}})
	out := exec(context.Background(), n, newCtx())
	require.True(t, out.OK)
	require.Len(t, out.Items, 3)
}

type fakeDispatcher struct {
	calls []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, channel, text string, recipients []string, scheduleLike bool, scope string, meta collaborators.DispatchMeta) ([]collaborators.DispatchResult, error) {
	f.calls = append(f.calls, channel)
	return []collaborators.DispatchResult{{OK: true}}, nil
}

func TestOutput_DispatchesOnConfiguredChannel(t *testing.T) {
	reg := executor.NewRegistry(nil)
	fd := &fakeDispatcher{}
	registerOutput(reg, fd)
	exec, ok := reg.Get("novachat-output")
	require.True(t, ok)

	n := newNode(t, map[string]any{"text": "hello"})
	out := exec(context.Background(), n, newCtx())
	require.True(t, out.OK)
	require.Equal(t, []string{"novachat"}, fd.calls)
}

func TestOutput_NoDispatcherConfigured(t *testing.T) {
	reg := executor.NewRegistry(nil)
	registerOutput(reg, nil)
	exec, ok := reg.Get("novachat-output")
	require.True(t, ok)

	n := newNode(t, map[string]any{"text": "hello"})
	out := exec(context.Background(), n, newCtx())
	require.False(t, out.OK)
	require.Equal(t, "NO_COLLABORATOR", out.ErrorCode)
}
