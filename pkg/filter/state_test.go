package filter

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

var (
	neighborA = types.RouterID(0x01010101)
	neighborC = types.RouterID(0x03030303)
	sessionA  = netip.MustParseAddr("10.0.1.1")
	sessionC  = netip.MustParseAddr("10.0.2.1")

	p24 = netip.MustParsePrefix("10.0.0.0/24")
	p16 = netip.MustParsePrefix("192.168.0.0/16")
	p32 = netip.MustParsePrefix("192.168.1.1/32")
)

// netip类型包含未导出字段，cmp需要显式的比较函数
var prefixCmp = cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })
var addrCmp = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

// 第一次见到的邻居所有前缀都算新增
func TestUpdateBootstrap(t *testing.T) {
	s := NewState()

	update, altered := s.Update(neighborA, sessionA, types.NewPrefixSet(p24))
	require.True(t, altered)

	want := types.FilterUpdate{
		Neighbor: neighborA,
		Session:  sessionA,
		FilterID: 1,
		Added:    []netip.Prefix{p24},
		Removed:  []netip.Prefix{},
	}
	if diff := cmp.Diff(want, update, prefixCmp, addrCmp); diff != "" {
		t.Errorf("bootstrap update mismatch (-want +got):\n%s", diff)
	}
}

// 拓扑未变化时第二次计算没有差异
func TestUpdateIdempotent(t *testing.T) {
	s := NewState()
	current := types.NewPrefixSet(p24, p16)

	_, altered := s.Update(neighborA, sessionA, current)
	require.True(t, altered)

	update, altered := s.Update(neighborA, sessionA, current)
	assert.False(t, altered)
	assert.Empty(t, update.Added)
	assert.Empty(t, update.Removed)
	assert.Equal(t, types.FilterID(1), update.FilterID)
}

func TestUpdateDiff(t *testing.T) {
	s := NewState()
	s.Update(neighborA, sessionA, types.NewPrefixSet(p24, p16))

	update, altered := s.Update(neighborA, sessionA, types.NewPrefixSet(p16, p32))
	require.True(t, altered)
	if diff := cmp.Diff([]netip.Prefix{p32}, update.Added, prefixCmp); diff != "" {
		t.Errorf("added mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]netip.Prefix{p24}, update.Removed, prefixCmp); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}
}

// 过滤器编号在清空、重新填充后保持不变，且不同邻居编号递增
func TestFilterIDStability(t *testing.T) {
	s := NewState()

	// 空集合的第一次更新不算变化，不分配编号
	_, altered := s.Update(neighborC, sessionC, types.NewPrefixSet())
	assert.False(t, altered)
	_, ok := s.FilterID(neighborC)
	assert.False(t, ok)

	update, _ := s.Update(neighborA, sessionA, types.NewPrefixSet(p24))
	assert.Equal(t, types.FilterID(1), update.FilterID)

	update, _ = s.Update(neighborC, sessionC, types.NewPrefixSet(p16))
	assert.Equal(t, types.FilterID(2), update.FilterID)

	sets := []types.PrefixSet{
		types.NewPrefixSet(),
		types.NewPrefixSet(p16, p32),
		types.NewPrefixSet(),
		types.NewPrefixSet(p24),
	}
	for _, set := range sets {
		update, _ := s.Update(neighborA, sessionA, set)
		assert.Equal(t, types.FilterID(1), update.FilterID)
	}

	id, ok := s.FilterID(neighborA)
	assert.True(t, ok)
	assert.Equal(t, types.FilterID(1), id)
	assert.Equal(t, []types.RouterID{neighborA, neighborC}, s.Neighbors())
}

// 会话地址为空时沿用最近一次已知的地址
func TestUpdateKeepsSession(t *testing.T) {
	s := NewState()
	s.Update(neighborA, sessionA, types.NewPrefixSet(p24))

	update, altered := s.Update(neighborA, netip.Addr{}, types.NewPrefixSet())
	assert.True(t, altered)
	assert.Equal(t, sessionA, update.Session)

	addr, ok := s.Session(neighborA)
	assert.True(t, ok)
	assert.Equal(t, sessionA, addr)

	_, ok = s.Session(neighborC)
	assert.False(t, ok)
}

// 最长前缀匹配
func TestAllows(t *testing.T) {
	s := NewState()
	s.Update(neighborA, sessionA, types.NewPrefixSet(p16, p32))

	match, ok := s.Allows(neighborA, netip.MustParseAddr("192.168.1.1"))
	assert.True(t, ok)
	assert.Equal(t, p32, match)

	match, ok = s.Allows(neighborA, netip.MustParseAddr("192.168.7.9"))
	assert.True(t, ok)
	assert.Equal(t, p16, match)

	_, ok = s.Allows(neighborA, netip.MustParseAddr("10.0.0.1"))
	assert.False(t, ok)

	_, ok = s.Allows(neighborC, netip.MustParseAddr("192.168.1.1"))
	assert.False(t, ok)

	// 撤销后不再放行
	s.Update(neighborA, sessionA, types.NewPrefixSet(p16))
	match, ok = s.Allows(neighborA, netip.MustParseAddr("192.168.1.1"))
	assert.True(t, ok)
	assert.Equal(t, p16, match)
}

func TestSnapshot(t *testing.T) {
	s := NewState()
	s.Update(neighborC, sessionC, types.NewPrefixSet(p16))
	s.Update(neighborA, sessionA, types.NewPrefixSet(p32, p24))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, neighborA, snap[0].Neighbor)
	assert.Equal(t, types.FilterID(2), snap[0].FilterID)
	assert.Equal(t, []netip.Prefix{p24, p32}, snap[0].Prefixes)
	assert.Equal(t, neighborC, snap[1].Neighbor)
	assert.Equal(t, types.FilterID(1), snap[1].FilterID)
}

// 重新同步返回完整的当前集合，不受之前差异的影响
func TestResync(t *testing.T) {
	s := NewState()

	_, ok := s.Resync(neighborA)
	assert.False(t, ok)

	// 空集合的邻居从未变化，没有过滤器可以同步
	_, altered := s.Update(neighborC, sessionC, types.NewPrefixSet())
	require.False(t, altered)
	_, ok = s.Resync(neighborC)
	assert.False(t, ok)

	s.Update(neighborA, sessionA, types.NewPrefixSet(p24, p16))
	s.Update(neighborA, netip.Addr{}, types.NewPrefixSet(p24, p32))

	got, ok := s.Resync(neighborA)
	require.True(t, ok)
	want := types.FilterUpdate{
		Neighbor: neighborA,
		Session:  sessionA,
		FilterID: 1,
		Added:    []netip.Prefix{p24, p32},
		Reset:    true,
	}
	if diff := cmp.Diff(want, got, prefixCmp, addrCmp); diff != "" {
		t.Errorf("resync update mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.Empty())

	// 重新同步不改变基线
	update, altered := s.Update(neighborA, sessionA, types.NewPrefixSet(p24, p32))
	assert.False(t, altered)
	assert.True(t, update.Empty())
}
