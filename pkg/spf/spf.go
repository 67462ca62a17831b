package spf

import (
	"container/heap"
	"math"

	"github.com/haolipeng/ibgp2d/pkg/topology"
)

// Unreachable 不可达顶点的距离
const Unreachable = math.MaxUint64

// Graph 最短路计算需要的图视图
type Graph interface {
	NumVertices() int
	OutEdges(idx topology.VertexIndex) []*topology.Edge
}

// Tree 以某个顶点为根的最短路树
type Tree struct {
	root topology.VertexIndex
	pred []topology.VertexIndex
	dist []uint64
}

// Root 树根
func (t *Tree) Root() topology.VertexIndex {
	return t.root
}

// Predecessor 返回顶点在树中的前驱，根和不可达顶点的前驱是其自身
func (t *Tree) Predecessor(idx topology.VertexIndex) topology.VertexIndex {
	return t.pred[idx]
}

// Distance 返回根到顶点的距离，不可达时为Unreachable
func (t *Tree) Distance(idx topology.VertexIndex) uint64 {
	return t.dist[idx]
}

func (t *Tree) Reachable(idx topology.VertexIndex) bool {
	return t.dist[idx] != Unreachable
}

func (t *Tree) Len() int {
	return len(t.pred)
}

// ShortestPathTree 以root为根计算最短路树(Dijkstra)
// 只在严格更短时松弛，出队顺序按(距离,下标)，因此等价路径的选择是确定的
func ShortestPathTree(g Graph, root topology.VertexIndex) *Tree {
	n := g.NumVertices()
	t := &Tree{
		root: root,
		pred: make([]topology.VertexIndex, n),
		dist: make([]uint64, n),
	}
	for i := range t.pred {
		t.pred[i] = topology.VertexIndex(i)
		t.dist[i] = Unreachable
	}
	if int(root) < 0 || int(root) >= n {
		return t
	}

	t.dist[root] = 0
	scanned := make([]bool, n)
	q := &minQueue{{vertex: root, dist: 0}}

	for q.Len() > 0 {
		it := heap.Pop(q).(item)
		u := it.vertex
		if scanned[u] || it.dist != t.dist[u] {
			// 过期的队列项
			continue
		}
		scanned[u] = true

		for _, e := range g.OutEdges(u) {
			v := e.To
			if scanned[v] {
				continue
			}
			alt := t.dist[u] + uint64(e.Distance())
			if alt >= t.dist[v] {
				continue
			}
			t.dist[v] = alt
			t.pred[v] = u
			heap.Push(q, item{vertex: v, dist: alt})
		}
	}

	return t
}

type item struct {
	vertex topology.VertexIndex
	dist   uint64
}

// minQueue 按(距离,下标)排序的最小堆
type minQueue []item

func (q minQueue) Len() int { return len(q) }

func (q minQueue) Less(i, j int) bool {
	if q[i].dist != q[j].dist {
		return q[i].dist < q[j].dist
	}
	return q[i].vertex < q[j].vertex
}

func (q minQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *minQueue) Push(x interface{}) {
	*q = append(*q, x.(item))
}

func (q *minQueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}
