package topology

import (
	"math"
	"net/netip"
	"sort"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Edge 从一个路由器到另一个路由器的有向边
// 记录源路由器与目标路由器共享的每个网络上的度量值和源接口
type Edge struct {
	From  VertexIndex
	To    VertexIndex
	links map[types.NetworkID]types.TransitLink
}

func newEdge(from, to VertexIndex) *Edge {
	return &Edge{
		From:  from,
		To:    to,
		links: make(map[types.NetworkID]types.TransitLink),
	}
}

// Distance 所有网络中的最小度量值
func (e *Edge) Distance() uint32 {
	_, link := e.best()
	return link.Metric
}

// Network 取得最小度量值的网络，度量相同时取NetworkID最小者
func (e *Edge) Network() types.NetworkID {
	nid, _ := e.best()
	return nid
}

// Interface 源路由器在Network()上的接口地址
func (e *Edge) Interface() netip.Addr {
	_, link := e.best()
	return link.Interface
}

// Link 查询指定网络上的度量和接口
func (e *Edge) Link(nid types.NetworkID) (types.TransitLink, bool) {
	link, ok := e.links[nid]
	return link, ok
}

// Networks 按NetworkID排序返回边上的所有网络
func (e *Edge) Networks() []types.NetworkID {
	out := make([]types.NetworkID, 0, len(e.links))
	for nid := range e.links {
		out = append(out, nid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NumNetworks 边上的网络数
func (e *Edge) NumNetworks() int {
	return len(e.links)
}

func (e *Edge) best() (types.NetworkID, types.TransitLink) {
	var (
		bestNid  types.NetworkID
		bestLink = types.TransitLink{Metric: math.MaxUint32}
		found    bool
	)
	for nid, link := range e.links {
		if !found || link.Metric < bestLink.Metric || (link.Metric == bestLink.Metric && nid < bestNid) {
			bestNid, bestLink, found = nid, link, true
		}
	}
	return bestNid, bestLink
}

// set 写入一个网络，返回是否有变化
func (e *Edge) set(nid types.NetworkID, link types.TransitLink) bool {
	old, ok := e.links[nid]
	e.links[nid] = link
	return !ok || old != link
}

// remove 删除一个网络，返回是否存在过
func (e *Edge) remove(nid types.NetworkID) bool {
	if _, ok := e.links[nid]; !ok {
		return false
	}
	delete(e.links, nid)
	return true
}
