package controller

import (
	"fmt"
	"io"
	"net/netip"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/diffusion"
	"github.com/haolipeng/ibgp2d/pkg/filter"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/topology"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Result 一个批次的处理结果
type Result struct {
	Changed  bool                 // 批次改变了IGP图
	Deferred bool                 // 本路由器尚未出现在图中，计算被推迟
	Updates  []types.FilterUpdate // 有变化的邻居，按邻居ID排序
}

// Controller 串联拓扑更新、扩散计算和过滤器差异
// 批次处理是串行的；锁只用来让API读取图和过滤器时不与批次处理冲突
type Controller struct {
	mu        sync.RWMutex
	graph     *topology.Graph
	engine    *diffusion.Engine
	filters   *filter.State
	collector *metrics.Collector
}

func New(local types.RouterID, policy *diffusion.Policy) *Controller {
	return &Controller{
		graph:   topology.NewGraph(),
		engine:  diffusion.NewEngine(local, policy),
		filters: filter.NewState(),
	}
}

// SetCollector 设置prometheus指标，可为nil
func (c *Controller) SetCollector(collector *metrics.Collector) {
	c.collector = collector
}

func (c *Controller) Local() types.RouterID {
	return c.engine.Local()
}

// Filters 过滤器状态，供API查询
func (c *Controller) Filters() *filter.State {
	return c.filters
}

// HandleBatch 先把整批LSA应用到图上，只有图发生变化时才重新计算
func (c *Controller) HandleBatch(records []types.LSA) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for _, record := range records {
		if c.graph.Apply(record) {
			changed = true
		}
	}
	if !changed {
		c.observe("unchanged")
		return Result{}
	}

	result := c.recompute()
	result.Changed = true
	return result
}

// Recompute 强制重新计算，拓扑未变化时不会产生任何更新
func (c *Controller) Recompute() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recompute()
}

func (c *Controller) recompute() Result {
	sets, ok := c.engine.Compute(c.graph)
	if !ok {
		logrus.Debugf("Router %s not in IGP graph yet, deferring", c.engine.Local())
		c.observe("deferred")
		return Result{Deferred: true}
	}

	local := c.engine.Local()
	neighbors := make([]types.RouterID, 0, len(sets))
	for rid := range sets {
		neighbors = append(neighbors, rid)
	}
	// 曾经是邻居但已经不相邻的路由器，清空其集合
	for _, rid := range c.filters.Neighbors() {
		if _, ok := sets[rid]; !ok {
			neighbors = append(neighbors, rid)
		}
	}
	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i] < neighbors[j] })

	var result Result
	for _, rid := range neighbors {
		current, adjacent := sets[rid]
		var session netip.Addr
		if adjacent {
			addr, ok := c.graph.Interface(rid, local)
			if !ok {
				panic(fmt.Sprintf("IGP graph has edge %s -> %s but no reverse edge", local, rid))
			}
			session = addr
		} else {
			current = make(types.PrefixSet)
		}

		update, altered := c.filters.Update(rid, session, current)
		if !altered {
			continue
		}
		logrus.WithFields(logrus.Fields{
			"neighbor": rid,
			"session":  update.Session,
			"filter":   update.FilterID,
			"added":    len(update.Added),
			"removed":  len(update.Removed),
		}).Info("Filter updated")
		result.Updates = append(result.Updates, update)
	}

	c.observe("computed")
	if c.collector != nil {
		c.collector.FilterUpdates.Add(float64(len(result.Updates)))
		c.collector.GraphVertices.Set(float64(c.graph.NumVertices()))
		c.collector.GraphEdges.Set(float64(c.graph.NumEdges()))
	}
	return result
}

func (c *Controller) observe(outcome string) {
	if c.collector != nil {
		c.collector.Recomputations.WithLabelValues(outcome).Inc()
	}
}

// WriteGraphviz 输出当前IGP图
func (c *Controller) WriteGraphviz(w io.Writer, drawNetworks bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.WriteGraphviz(w, drawNetworks)
}

// GraphSize 图的顶点数和边数
func (c *Controller) GraphSize() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.graph.NumVertices(), c.graph.NumEdges()
}
