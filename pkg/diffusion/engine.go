package diffusion

import (
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/spf"
	"github.com/haolipeng/ibgp2d/pkg/topology"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Engine iBGP2扩散规则：本路由器u只向v转发那些在v的最短路树中经过u到达v的下一跳
type Engine struct {
	local  types.RouterID
	policy *Policy
}

// NewEngine 创建扩散决策引擎，policy为nil时只使用扩散规则
func NewEngine(local types.RouterID, policy *Policy) *Engine {
	return &Engine{local: local, policy: policy}
}

func (e *Engine) Local() types.RouterID {
	return e.local
}

// Compute 为本路由器的每个IGP邻居计算允许的下一跳前缀集合
// 本路由器尚未出现在图中时返回false，调用方应等待IGP收敛后重试
func (e *Engine) Compute(g *topology.Graph) (map[types.RouterID]types.PrefixSet, bool) {
	u, ok := g.Vertex(e.local)
	if !ok {
		return nil, false
	}

	result := make(map[types.RouterID]types.PrefixSet)
	for _, edge := range g.OutEdges(u) {
		v := edge.To
		if v == u {
			continue
		}
		ridV := g.RouterID(v)
		result[ridV] = e.neighborSet(g, u, v)
	}

	return result, true
}

// neighborSet 计算u到邻居v的允许集合
func (e *Engine) neighborSet(g *topology.Graph, u, v topology.VertexIndex) types.PrefixSet {
	set := make(types.PrefixSet)
	ridU, ridV := g.RouterID(u), g.RouterID(v)

	tree := spf.ShortestPathTree(g, v)
	if tree.Predecessor(u) != v {
		// u不是v最短路树中v的直接后继，u发出的任何通告都不应到达v
		logrus.Debugf("Router %s is not a successor of %s, filtering everything", ridU, ridV)
		return set
	}

	transit, _ := g.TransitPrefixes(ridU, ridV)
	for p := range transit {
		e.admit(set, ridV, p, OriginTransit, ridU)
	}

	for i := 0; i < g.NumVertices(); i++ {
		n := topology.VertexIndex(i)
		if n == v || !walksThrough(tree, n, u) {
			continue
		}
		ridN := g.RouterID(n)
		for p := range g.ExternalPrefixes(ridN) {
			e.admit(set, ridV, p, OriginExternal, ridN)
		}
	}

	return set
}

func (e *Engine) admit(set types.PrefixSet, neighbor types.RouterID, p netip.Prefix, origin Origin, asbr types.RouterID) {
	if e.policy != nil && !e.policy.Permit(Candidate{Neighbor: neighbor, Prefix: p, Origin: origin, ASBR: asbr}) {
		logrus.Debugf("Policy rejected %s (%s via %s) toward %s", p, origin, asbr, neighbor)
		return
	}
	set.Add(p)
}

// walksThrough 沿最短路树从n回溯到根，判断是否先经过u
// 到达根、或遇到前驱为自身的顶点(不可达)时停止
func walksThrough(tree *spf.Tree, n, u topology.VertexIndex) bool {
	root := tree.Root()
	cur := n
	for i := 0; cur != root; i++ {
		if i >= tree.Len() {
			panic(fmt.Sprintf("corrupted shortest path tree rooted at %d: walk from %d exceeds %d vertices", root, n, tree.Len()))
		}
		pred := tree.Predecessor(cur)
		if cur == pred {
			return false
		}
		if cur == u {
			return true
		}
		cur = pred
	}
	return false
}
