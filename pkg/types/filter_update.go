package types

import "net/netip"

// FilterID 每个iBGP邻居对应的过滤器编号，从1开始，进程内不重复使用
type FilterID uint32

// FilterUpdate 一个邻居本轮的过滤器变更，交给bgpd配置模块
// Session为邻居的BGP会话地址(邻居连向本路由器的接口)
// Reset为true时Added是邻居的完整集合，bgpd中原有的access-list先整体删除
type FilterUpdate struct {
	Neighbor RouterID       `json:"neighbor"`
	Session  netip.Addr     `json:"session"`
	FilterID FilterID       `json:"filter_id"`
	Added    []netip.Prefix `json:"added"`
	Removed  []netip.Prefix `json:"removed"`
	Reset    bool           `json:"reset,omitempty"`
}

// Empty 没有任何增删
func (u *FilterUpdate) Empty() bool {
	return !u.Reset && len(u.Added) == 0 && len(u.Removed) == 0
}
