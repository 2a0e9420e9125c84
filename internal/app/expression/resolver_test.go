package expression

import (
	"testing"

	"github.com/stretchr/testify/require"

	"novacore/internal/domain/mission"
)

func TestResolve_NodeText(t *testing.T) {
	r := New(
		map[string]mission.NodeOutput{"n1": {OK: true, Text: "hello"}},
		map[string]string{"Fetch": "n1"},
		nil,
	)
	require.Equal(t, "hello world", r.Resolve("{{$nodes.Fetch.output.text}} world"))
}

func TestResolve_VarsSubstitution(t *testing.T) {
	r := New(nil, nil, map[string]string{"name": "Ada"})
	require.Equal(t, "hi Ada", r.Resolve("hi {{$vars.name}}"))
}

func TestResolve_UnresolvedTokenLeftIntact(t *testing.T) {
	r := New(nil, nil, nil)
	require.Equal(t, "{{$nodes.Missing.output.text}}", r.Resolve("{{$nodes.Missing.output.text}}"))
}

func TestResolve_DataPathGuardsProtoPollution(t *testing.T) {
	r := New(
		map[string]mission.NodeOutput{"n1": {OK: true, Data: map[string]any{"__proto__": "x"}}},
		map[string]string{"N": "n1"},
		nil,
	)
	require.Equal(t, "{{$nodes.N.output.data.__proto__}}", r.Resolve("{{$nodes.N.output.data.__proto__}}"))
}

func TestResolve_DataPathWalksNestedField(t *testing.T) {
	r := New(
		map[string]mission.NodeOutput{"n1": {OK: true, Data: map[string]any{"user": map[string]any{"name": "Grace"}}}},
		map[string]string{"N": "n1"},
		nil,
	)
	require.Equal(t, "Grace", r.Resolve("{{$nodes.N.output.data.user.name}}"))
}
