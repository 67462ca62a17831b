package controller

import (
	"bytes"
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

var (
	routerA = types.RouterID(0x01010101)
	routerB = types.RouterID(0x02020202)
	routerC = types.RouterID(0x03030303)

	netAB = types.NetworkID(0x0a000101)
	netBC = types.NetworkID(0x0a000201)
	extC  = types.NetworkID(0xc0a80000)

	prefixAB = netip.MustParsePrefix("10.0.1.0/24")
	prefixBC = netip.MustParsePrefix("10.0.2.0/24")
	prefixC  = netip.MustParsePrefix("192.168.0.0/16")
)

func routerLSA(rid types.RouterID, links map[types.NetworkID]string) *types.RouterLSA {
	networks := make(map[types.NetworkID]types.TransitLink, len(links))
	for nid, iface := range links {
		networks[nid] = types.TransitLink{Metric: 1, Interface: netip.MustParseAddr(iface)}
	}
	return &types.RouterLSA{AdvRouter: rid, Networks: networks}
}

// lineBatch a - b - c 的完整拓扑，c通告外部路由
func lineBatch() []types.LSA {
	return []types.LSA{
		routerLSA(routerA, map[types.NetworkID]string{netAB: "10.0.1.1"}),
		routerLSA(routerB, map[types.NetworkID]string{netAB: "10.0.1.2", netBC: "10.0.2.2"}),
		routerLSA(routerC, map[types.NetworkID]string{netBC: "10.0.2.1"}),
		&types.NetworkLSA{AdvRouter: routerA, Network: netAB, Prefix: prefixAB},
		&types.NetworkLSA{AdvRouter: routerC, Network: netBC, Prefix: prefixBC},
		&types.ExternalLSA{AdvRouter: routerC, Network: extC, Prefix: prefixC, Metric: 20, EType: 2},
	}
}

func TestHandleBatch(t *testing.T) {
	c := New(routerB, nil)
	collector := metrics.NewCollector()
	c.SetCollector(collector)

	result := c.HandleBatch(lineBatch())
	require.True(t, result.Changed)
	require.False(t, result.Deferred)
	require.Len(t, result.Updates, 2)

	// 按邻居ID排序，会话地址是邻居连向b的接口
	toA, toC := result.Updates[0], result.Updates[1]
	assert.Equal(t, routerA, toA.Neighbor)
	assert.Equal(t, netip.MustParseAddr("10.0.1.1"), toA.Session)
	assert.Equal(t, []netip.Prefix{prefixAB, prefixC}, toA.Added)
	assert.Equal(t, types.FilterID(1), toA.FilterID)

	assert.Equal(t, routerC, toC.Neighbor)
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), toC.Session)
	assert.Equal(t, []netip.Prefix{prefixBC}, toC.Added)
	assert.Equal(t, types.FilterID(2), toC.FilterID)

	// 相同的批次不改变图，不重新计算
	result = c.HandleBatch(lineBatch())
	assert.False(t, result.Changed)
	assert.Empty(t, result.Updates)

	// 强制重算也没有差异
	result = c.Recompute()
	assert.False(t, result.Deferred)
	assert.Empty(t, result.Updates)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.FilterUpdates))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.Recomputations.WithLabelValues("unchanged")))
	assert.Equal(t, float64(3), testutil.ToFloat64(collector.GraphVertices))
}

// 本路由器尚未出现时推迟，收到自己的Router-LSA后再计算
func TestHandleBatchDeferred(t *testing.T) {
	c := New(routerB, nil)

	result := c.HandleBatch([]types.LSA{
		routerLSA(routerA, map[types.NetworkID]string{netAB: "10.0.1.1"}),
	})
	assert.True(t, result.Changed)
	assert.True(t, result.Deferred)
	assert.Empty(t, result.Updates)

	result = c.HandleBatch([]types.LSA{
		routerLSA(routerB, map[types.NetworkID]string{netAB: "10.0.1.2"}),
		&types.NetworkLSA{AdvRouter: routerA, Network: netAB, Prefix: prefixAB},
	})
	assert.False(t, result.Deferred)
	require.Len(t, result.Updates, 1)
	assert.Equal(t, []netip.Prefix{prefixAB}, result.Updates[0].Added)
}

// 邻居断开后集合被清空，使用缓存的会话地址，过滤器编号不变
func TestHandleBatchNeighborLost(t *testing.T) {
	c := New(routerB, nil)
	c.HandleBatch(lineBatch())

	result := c.HandleBatch([]types.LSA{
		routerLSA(routerC, nil),
	})
	require.True(t, result.Changed)
	require.Len(t, result.Updates, 2)

	toA, toC := result.Updates[0], result.Updates[1]
	assert.Equal(t, routerA, toA.Neighbor)
	assert.Equal(t, []netip.Prefix{prefixC}, toA.Removed)

	assert.Equal(t, routerC, toC.Neighbor)
	assert.Equal(t, netip.MustParseAddr("10.0.2.1"), toC.Session)
	assert.Equal(t, []netip.Prefix{prefixBC}, toC.Removed)
	assert.Empty(t, toC.Added)
	assert.Equal(t, types.FilterID(2), toC.FilterID)

	// c重新上线
	result = c.HandleBatch([]types.LSA{
		routerLSA(routerC, map[types.NetworkID]string{netBC: "10.0.2.1"}),
	})
	require.Len(t, result.Updates, 2)
	assert.Equal(t, types.FilterID(1), result.Updates[0].FilterID)
	assert.Equal(t, types.FilterID(2), result.Updates[1].FilterID)
	assert.Equal(t, []netip.Prefix{prefixBC}, result.Updates[1].Added)

	snap := c.Filters().Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []netip.Prefix{prefixAB, prefixC}, snap[0].Prefixes)
}

func TestControllerGraphviz(t *testing.T) {
	c := New(routerB, nil)
	c.HandleBatch(lineBatch())

	vertices, edges := c.GraphSize()
	assert.Equal(t, 3, vertices)
	assert.Equal(t, 4, edges)

	var buf bytes.Buffer
	require.NoError(t, c.WriteGraphviz(&buf, true))
	assert.Contains(t, buf.String(), "192.168.0.0/16")
}
