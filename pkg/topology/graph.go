package topology

import (
	"net/netip"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// VertexIndex 顶点在图中的下标，顶点一旦创建下标永不改变
type VertexIndex int

// Vertex IGP图中的一个路由器
type Vertex struct {
	ID types.RouterID
}

// External ASBR通告的一条外部路由的度量信息
type External struct {
	Metric uint32
	EType  uint8
}

type arc struct {
	rid types.RouterID
	nid types.NetworkID
}

// Graph 由LSA增量维护的IGP有向多网络图
// 顶点只增不删；边按(源下标,目的下标)索引，增删边不影响任何顶点下标
type Graph struct {
	vertices []Vertex
	index    map[types.RouterID]VertexIndex
	out      []map[VertexIndex]*Edge
	numEdges int

	members  map[types.NetworkID]map[types.RouterID]struct{} // transit网络上的路由器
	attached map[types.RouterID]map[types.NetworkID]struct{} // 路由器所在的transit网络
	arcs     map[arc]types.TransitLink                       // 路由器在网络上最近一次通告的度量和接口

	prefixes  map[types.NetworkID]netip.Prefix
	externals map[types.RouterID]map[types.NetworkID]External
}

// NewGraph 创建一个空的IGP图
func NewGraph() *Graph {
	return &Graph{
		index:     make(map[types.RouterID]VertexIndex),
		members:   make(map[types.NetworkID]map[types.RouterID]struct{}),
		attached:  make(map[types.RouterID]map[types.NetworkID]struct{}),
		arcs:      make(map[arc]types.TransitLink),
		prefixes:  make(map[types.NetworkID]netip.Prefix),
		externals: make(map[types.RouterID]map[types.NetworkID]External),
	}
}

// Apply 根据LSA类型更新图，返回图是否发生变化
func (g *Graph) Apply(lsa types.LSA) bool {
	switch l := lsa.(type) {
	case *types.RouterLSA:
		return g.ApplyRouterRecord(l.AdvRouter, l.Networks)
	case *types.NetworkLSA:
		return g.ApplyNetworkRecord(l.Network, l.Prefix)
	case *types.ExternalLSA:
		return g.ApplyExternalRecord(l.AdvRouter, l.Network, l.Prefix, l.Metric, l.EType)
	default:
		logrus.Warnf("Ignoring unsupported LSA %T", lsa)
		return false
	}
}

// ApplyRouterRecord 应用一条Router-LSA
// 1. 路由器不再通告的网络：从网络上摘除该路由器，删除两个方向边上的该网络
// 2. 通告的网络：与网络上其他每个路由器建立/更新双向边
func (g *Graph) ApplyRouterRecord(rid types.RouterID, links map[types.NetworkID]types.TransitLink) bool {
	changed := false
	if _, ok := g.index[rid]; !ok {
		g.addVertex(rid)
		changed = true
	}

	for nid := range g.attached[rid] {
		if _, ok := links[nid]; !ok {
			logrus.Debugf("Router %s left network %s", rid, nid)
			g.detach(rid, nid)
			changed = true
		}
	}

	for nid, link := range links {
		if g.attach(rid, nid, link) {
			changed = true
		}
	}

	return changed
}

// ApplyNetworkRecord 应用一条Network-LSA，更新前缀表
func (g *Graph) ApplyNetworkRecord(nid types.NetworkID, prefix netip.Prefix) bool {
	return g.setPrefix(nid, prefix)
}

// ApplyExternalRecord 应用一条AS-External-LSA，更新前缀表和ASBR索引
func (g *Graph) ApplyExternalRecord(asbr types.RouterID, nid types.NetworkID, prefix netip.Prefix, metric uint32, eType uint8) bool {
	changed := g.setPrefix(nid, prefix)

	nets, ok := g.externals[asbr]
	if !ok {
		nets = make(map[types.NetworkID]External)
		g.externals[asbr] = nets
	}
	ext := External{Metric: metric, EType: eType}
	if old, ok := nets[nid]; !ok || old != ext {
		nets[nid] = ext
		changed = true
	}

	return changed
}

// Vertex 根据路由器ID查找顶点
func (g *Graph) Vertex(rid types.RouterID) (VertexIndex, bool) {
	idx, ok := g.index[rid]
	return idx, ok
}

// RouterID 返回顶点对应的路由器ID
func (g *Graph) RouterID(idx VertexIndex) types.RouterID {
	return g.vertices[idx].ID
}

func (g *Graph) NumVertices() int {
	return len(g.vertices)
}

func (g *Graph) NumEdges() int {
	return g.numEdges
}

// Edge 查找from到to的边
func (g *Graph) Edge(from, to types.RouterID) (*Edge, bool) {
	fi, ok := g.index[from]
	if !ok {
		return nil, false
	}
	ti, ok := g.index[to]
	if !ok {
		return nil, false
	}
	return g.EdgeAt(fi, ti)
}

// EdgeAt 按顶点下标查找边
func (g *Graph) EdgeAt(from, to VertexIndex) (*Edge, bool) {
	e, ok := g.out[from][to]
	return e, ok
}

// OutEdges 返回顶点的所有出边，按目标下标排序
func (g *Graph) OutEdges(idx VertexIndex) []*Edge {
	edges := make([]*Edge, 0, len(g.out[idx]))
	for _, e := range g.out[idx] {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].To < edges[j].To })
	return edges
}

// Interface 返回from在通往to的最优网络上的接口地址
func (g *Graph) Interface(from, to types.RouterID) (netip.Addr, bool) {
	e, ok := g.Edge(from, to)
	if !ok {
		return netip.Addr{}, false
	}
	return e.Interface(), true
}

// Prefix 查询网络对应的前缀
func (g *Graph) Prefix(nid types.NetworkID) (netip.Prefix, bool) {
	p, ok := g.prefixes[nid]
	return p, ok
}

// TransitPrefixes 返回u和v直接共享的transit网络前缀，u和v不相邻时返回false
// 尚未收到Network-LSA的网络没有前缀，被跳过
func (g *Graph) TransitPrefixes(u, v types.RouterID) (types.PrefixSet, bool) {
	e, ok := g.Edge(u, v)
	if !ok {
		return nil, false
	}
	out := make(types.PrefixSet, e.NumNetworks())
	for _, nid := range e.Networks() {
		p, ok := g.prefixes[nid]
		if !ok {
			logrus.Debugf("No prefix known yet for transit network %s (%s -> %s)", nid, u, v)
			continue
		}
		out.Add(p)
	}
	return out, true
}

// ExternalPrefixes 返回ASBR通告的外部网络前缀
func (g *Graph) ExternalPrefixes(asbr types.RouterID) types.PrefixSet {
	out := make(types.PrefixSet, len(g.externals[asbr]))
	for nid := range g.externals[asbr] {
		if p, ok := g.prefixes[nid]; ok {
			out.Add(p)
		}
	}
	return out
}

// Externals 返回ASBR通告的外部网络及其度量
func (g *Graph) Externals(asbr types.RouterID) map[types.NetworkID]External {
	out := make(map[types.NetworkID]External, len(g.externals[asbr]))
	for nid, ext := range g.externals[asbr] {
		out[nid] = ext
	}
	return out
}

// Members 返回transit网络上的路由器，按ID排序
func (g *Graph) Members(nid types.NetworkID) []types.RouterID {
	out := make([]types.RouterID, 0, len(g.members[nid]))
	for rid := range g.members[nid] {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (g *Graph) addVertex(rid types.RouterID) VertexIndex {
	if idx, ok := g.index[rid]; ok {
		return idx
	}
	idx := VertexIndex(len(g.vertices))
	g.vertices = append(g.vertices, Vertex{ID: rid})
	g.out = append(g.out, make(map[VertexIndex]*Edge))
	g.index[rid] = idx
	logrus.Debugf("New IGP vertex %s (index %d)", rid, idx)
	return idx
}

// attach 把u挂到网络nid上
func (g *Graph) attach(u types.RouterID, nid types.NetworkID, link types.TransitLink) bool {
	changed := false

	key := arc{rid: u, nid: nid}
	if old, ok := g.arcs[key]; !ok || old != link {
		g.arcs[key] = link
		changed = true
	}

	for v := range g.members[nid] {
		if v == u {
			continue
		}
		// v方向沿用v自己最近一次通告的度量和接口
		if g.setLink(u, v, nid, link) {
			changed = true
		}
		if g.setLink(v, u, nid, g.arcs[arc{rid: v, nid: nid}]) {
			changed = true
		}
	}

	rids, ok := g.members[nid]
	if !ok {
		rids = make(map[types.RouterID]struct{})
		g.members[nid] = rids
	}
	if _, ok := rids[u]; !ok {
		rids[u] = struct{}{}
		changed = true
	}
	nets, ok := g.attached[u]
	if !ok {
		nets = make(map[types.NetworkID]struct{})
		g.attached[u] = nets
	}
	nets[nid] = struct{}{}

	return changed
}

// detach 把u从网络nid上摘除
func (g *Graph) detach(u types.RouterID, nid types.NetworkID) {
	delete(g.members[nid], u)
	delete(g.attached[u], nid)
	delete(g.arcs, arc{rid: u, nid: nid})

	for v := range g.members[nid] {
		g.removeLink(u, v, nid)
		g.removeLink(v, u, nid)
	}

	if len(g.members[nid]) == 0 {
		delete(g.members, nid)
	}
}

func (g *Graph) setLink(from, to types.RouterID, nid types.NetworkID, link types.TransitLink) bool {
	fi := g.index[from]
	ti := g.index[to]
	e, ok := g.out[fi][ti]
	if !ok {
		e = newEdge(fi, ti)
		g.out[fi][ti] = e
		g.numEdges++
	}
	return e.set(nid, link)
}

func (g *Graph) removeLink(from, to types.RouterID, nid types.NetworkID) {
	fi, ok := g.index[from]
	if !ok {
		return
	}
	ti, ok := g.index[to]
	if !ok {
		return
	}
	e, ok := g.out[fi][ti]
	if !ok {
		return
	}
	if e.remove(nid) && e.NumNetworks() == 0 {
		// 两个路由器不再共享任何网络，删除边但保留顶点
		delete(g.out[fi], ti)
		g.numEdges--
		logrus.Debugf("Removed IGP edge %s -> %s", from, to)
	}
}

func (g *Graph) setPrefix(nid types.NetworkID, prefix netip.Prefix) bool {
	if old, ok := g.prefixes[nid]; ok && old == prefix {
		return false
	}
	g.prefixes[nid] = prefix
	return true
}
