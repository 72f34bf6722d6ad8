package fabric

import (
	"math"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// nodeIDs assigns gonum node ids: switches first, then hosts, in topology order.
func nodeIDs(t *Topology) (map[string]int64, []string) {
	ids := make(map[string]int64, len(t.Switches)+len(t.Hosts))
	names := make([]string, 0, len(t.Switches)+len(t.Hosts))
	for _, sw := range t.Switches {
		ids[sw.Name] = int64(len(names))
		names = append(names, sw.Name)
	}
	for _, h := range t.Hosts {
		ids[h.Name] = int64(len(names))
		names = append(names, h.Name)
	}
	return ids, names
}

// linkGraph returns the topology as a weighted graph where each edge weight is
// 1 + the link's index in t.Links. Weights are unique, so the minimum
// spanning tree is unique and follows build order.
func linkGraph(t *Topology) (*simple.WeightedUndirectedGraph, map[string]int64, []string) {
	ids, names := nodeIDs(t)
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for _, id := range ids {
		g.AddNode(simple.Node(id))
	}
	for i, l := range t.Links {
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(ids[l.A.Node]), simple.Node(ids[l.B.Node]), float64(i+1)))
	}
	return g, ids, names
}

// Components returns the node names of each connected component.
func Components(t *Topology) [][]string {
	g, _, names := linkGraph(t)
	var out [][]string
	for _, cc := range topo.ConnectedComponents(g) {
		comp := make([]string, 0, len(cc))
		for _, n := range cc {
			comp = append(comp, names[n.ID()])
		}
		out = append(out, comp)
	}
	return out
}

// SpanningTree returns, per link index, whether the link belongs to the
// spanning tree a loop-prevention protocol would converge on. Links outside
// the tree are the ones whose ports end up blocked.
func SpanningTree(t *Topology) []bool {
	g, _, _ := linkGraph(t)
	dst := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(dst, g)

	inTree := make([]bool, len(t.Links))
	edges := dst.WeightedEdges()
	for edges.Next() {
		idx := int(edges.WeightedEdge().Weight()) - 1
		if idx >= 0 && idx < len(inTree) {
			inTree[idx] = true
		}
	}
	return inTree
}

// ShortestPath returns a minimum-hop node sequence between two named nodes,
// or nil when either is unknown or unreachable.
func ShortestPath(t *Topology, from, to string) []string {
	ids, names := nodeIDs(t)
	src, ok := ids[from]
	if !ok {
		return nil
	}
	dstID, ok := ids[to]
	if !ok {
		return nil
	}

	g := simple.NewUndirectedGraph()
	for _, id := range ids {
		g.AddNode(simple.Node(id))
	}
	for _, l := range t.Links {
		g.SetEdge(g.NewEdge(simple.Node(ids[l.A.Node]), simple.Node(ids[l.B.Node])))
	}

	shortest := path.DijkstraFrom(simple.Node(src), g)
	nodes, _ := shortest.To(dstID)
	return nodeNames(nodes, names)
}

func nodeNames(nodes []graph.Node, names []string) []string {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, names[n.ID()])
	}
	return out
}
