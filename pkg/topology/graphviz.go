package topology

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// WriteGraphviz 以DOT格式输出IGP图
// drawNetworks为true时transit网络和外部网络也作为节点输出，路由器连到网络而不是直接连到路由器
func (g *Graph) WriteGraphviz(w io.Writer, drawNetworks bool) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph ospf_graph {")

	if drawNetworks {
		for _, nid := range g.networkIDs() {
			label := nid.String()
			if p, ok := g.prefixes[nid]; ok {
				label = p.String()
			}
			fmt.Fprintf(bw, "\tn%d [label=%q, shape=box]\n", uint32(nid), label)
		}
	}

	for i, v := range g.vertices {
		fmt.Fprintf(bw, "\tr%d [label=%q]\n", i, v.ID.String())
	}

	for i := range g.vertices {
		from := VertexIndex(i)
		if drawNetworks {
			rid := g.vertices[i].ID
			for _, nid := range sortedNetworks(g.attached[rid]) {
				link := g.arcs[arc{rid: rid, nid: nid}]
				fmt.Fprintf(bw, "\tr%d -> n%d [label=\"%d\"]\n", from, uint32(nid), link.Metric)
			}
			exts := make(map[types.NetworkID]struct{}, len(g.externals[rid]))
			for nid := range g.externals[rid] {
				exts[nid] = struct{}{}
			}
			for _, nid := range sortedNetworks(exts) {
				ext := g.externals[rid][nid]
				fmt.Fprintf(bw, "\tr%d -> n%d [label=\"E%d %d\", style=dashed]\n", from, uint32(nid), ext.EType, ext.Metric)
			}
			continue
		}
		for _, e := range g.OutEdges(from) {
			fmt.Fprintf(bw, "\tr%d -> r%d [label=\"%d\"]\n", e.From, e.To, e.Distance())
		}
	}

	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// networkIDs 所有transit网络和外部网络，按ID排序去重
func (g *Graph) networkIDs() []types.NetworkID {
	seen := make(map[types.NetworkID]struct{}, len(g.members))
	for nid := range g.members {
		seen[nid] = struct{}{}
	}
	for _, nets := range g.externals {
		for nid := range nets {
			seen[nid] = struct{}{}
		}
	}
	return sortedNetworks(seen)
}

func sortedNetworks(set map[types.NetworkID]struct{}) []types.NetworkID {
	out := make([]types.NetworkID, 0, len(set))
	for nid := range set {
		out = append(out, nid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
