package dag

import (
	"testing"

	"github.com/stretchr/testify/require"

	"novacore/internal/domain/mission"
)

func node(id, label string) mission.Node {
	return mission.Node{ID: id, Label: label}
}

func conn(src, dst string) mission.Connection {
	return mission.Connection{SourceNodeID: src, TargetNodeID: dst, SourcePort: mission.PortMain}
}

func TestTopoOrder_LinearChain(t *testing.T) {
	nodes := []mission.Node{node("a", "A"), node("b", "B"), node("c", "C")}
	conns := []mission.Connection{conn("a", "b"), conn("b", "c")}

	res := TopoOrder([]string{"a"}, nodes, conns)
	require.False(t, res.CycleFound)
	require.Equal(t, []string{"a", "b", "c"}, ids(res.Ordered))
}

func TestTopoOrder_DetectsCycle(t *testing.T) {
	nodes := []mission.Node{node("a", "A"), node("b", "B")}
	conns := []mission.Connection{conn("a", "b"), conn("b", "a")}

	res := TopoOrder([]string{"a"}, nodes, conns)
	require.True(t, res.CycleFound)
	require.ElementsMatch(t, []string{"A", "B"}, res.CycleLabels)
}

func TestTopoOrder_StableAcrossRuns(t *testing.T) {
	nodes := []mission.Node{node("a", "A"), node("b", "B"), node("c", "C"), node("d", "D")}
	conns := []mission.Connection{conn("a", "c"), conn("a", "d"), conn("b", "c")}

	first := TopoOrder([]string{"a", "b"}, nodes, conns)
	second := TopoOrder([]string{"a", "b"}, nodes, conns)
	require.Equal(t, ids(first.Ordered), ids(second.Ordered))
}

func TestReachable_ExcludesDisconnectedNodes(t *testing.T) {
	nodes := []mission.Node{node("a", "A"), node("b", "B"), node("isolated", "Isolated")}
	conns := []mission.Connection{conn("a", "b")}

	reach := Reachable([]string{"a"}, nodes, conns)
	require.True(t, reach["a"])
	require.True(t, reach["b"])
	require.False(t, reach["isolated"])
}

func ids(nodes []mission.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}
