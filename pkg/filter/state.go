package filter

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// NeighborFilter 一个邻居当前的过滤器视图
type NeighborFilter struct {
	Neighbor types.RouterID `json:"neighbor"`
	Session  netip.Addr     `json:"session"`
	FilterID types.FilterID `json:"filter_id"`
	Prefixes []netip.Prefix `json:"prefixes"`
}

type neighborState struct {
	previous types.PrefixSet
	id       types.FilterID // 0表示还未分配
	session  netip.Addr
	permits  bart.Table[netip.Prefix]
}

// State 每个iBGP邻居上一轮的允许集合和过滤器编号
// Update只由重算协程调用，查询接口可以被API并发调用
type State struct {
	mu        sync.RWMutex
	neighbors map[types.RouterID]*neighborState
	lastID    types.FilterID
}

func NewState() *State {
	return &State{
		neighbors: make(map[types.RouterID]*neighborState),
	}
}

// Update 用本轮计算出的集合与上一轮比较，返回增删差异以及邻居是否有变化
// 第一次见到的邻居所有前缀都算新增；邻居第一次有变化时分配过滤器编号，此后永不改变
func (s *State) Update(neighbor types.RouterID, session netip.Addr, current types.PrefixSet) (types.FilterUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.neighbors[neighbor]
	if !ok {
		st = &neighborState{previous: make(types.PrefixSet)}
		s.neighbors[neighbor] = st
	}
	if session.IsValid() {
		st.session = session
	}

	added := current.Difference(st.previous)
	removed := st.previous.Difference(current)

	for p := range removed {
		st.permits.Delete(p)
	}
	for p := range added {
		st.permits.Insert(p, p)
	}
	st.previous = current.Clone()

	update := types.FilterUpdate{
		Neighbor: neighbor,
		Session:  st.session,
		Added:    added.Sorted(),
		Removed:  removed.Sorted(),
	}
	if update.Empty() {
		update.FilterID = st.id
		return update, false
	}

	if st.id == 0 {
		s.lastID++
		st.id = s.lastID
		logrus.Infof("Assigned filter %d to neighbor %s", st.id, neighbor)
	}
	update.FilterID = st.id

	return update, true
}

// Resync 返回邻居当前完整集合的重置更新，用于bgpd没有收到之前的差异时重新同步
// 邻居还没有分配过滤器编号(从未产生过变更)时返回false
func (s *State) Resync(neighbor types.RouterID) (types.FilterUpdate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.neighbors[neighbor]
	if !ok || st.id == 0 {
		return types.FilterUpdate{}, false
	}
	return types.FilterUpdate{
		Neighbor: neighbor,
		Session:  st.session,
		FilterID: st.id,
		Added:    st.previous.Sorted(),
		Reset:    true,
	}, true
}

// Session 最近一次已知的邻居会话地址
func (s *State) Session(neighbor types.RouterID) (netip.Addr, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.neighbors[neighbor]
	if !ok || !st.session.IsValid() {
		return netip.Addr{}, false
	}
	return st.session, true
}

// FilterID 邻居的过滤器编号，尚未分配时返回false
func (s *State) FilterID(neighbor types.RouterID) (types.FilterID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.neighbors[neighbor]
	if !ok || st.id == 0 {
		return 0, false
	}
	return st.id, true
}

// Neighbors 所有出现过的邻居，按ID排序
func (s *State) Neighbors() []types.RouterID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.RouterID, 0, len(s.neighbors))
	for rid := range s.neighbors {
		out = append(out, rid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Allows 判断下一跳是否被邻居的过滤器放行，返回最长匹配的前缀
func (s *State) Allows(neighbor types.RouterID, nexthop netip.Addr) (netip.Prefix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.neighbors[neighbor]
	if !ok {
		return netip.Prefix{}, false
	}
	return st.permits.Lookup(nexthop)
}

// Snapshot 所有邻居当前的过滤器
func (s *State) Snapshot() []NeighborFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NeighborFilter, 0, len(s.neighbors))
	for rid, st := range s.neighbors {
		out = append(out, NeighborFilter{
			Neighbor: rid,
			Session:  st.session,
			FilterID: st.id,
			Prefixes: st.previous.Sorted(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Neighbor < out[j].Neighbor })
	return out
}
