package types

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
)

// RouterID OSPF路由器ID，仅作为比较/哈希的键使用
type RouterID uint32

// NetworkID 网络标识(DR接口地址或外部网络地址)，与RouterID同一地址空间
type NetworkID uint32

// LSAType LSA类型
type LSAType uint8

const (
	LSATypeRouter   LSAType = 1
	LSATypeNetwork  LSAType = 2
	LSATypeExternal LSAType = 5
)

func (t LSAType) String() string {
	switch t {
	case LSATypeRouter:
		return "router"
	case LSATypeNetwork:
		return "network"
	case LSATypeExternal:
		return "external"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Uint32ToAddr 将uint32转换为IPv4地址
func Uint32ToAddr(i uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], i)
	return netip.AddrFrom4(b)
}

// AddrToUint32 将IPv4地址转换为uint32
func AddrToUint32(a netip.Addr) (uint32, bool) {
	if !a.Is4() {
		return 0, false
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:]), true
}

func (r RouterID) Addr() netip.Addr { return Uint32ToAddr(uint32(r)) }

func (r RouterID) String() string { return r.Addr().String() }

// MarshalText JSON中以点分十进制输出
func (r RouterID) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RouterID) UnmarshalText(text []byte) error {
	v, err := ParseRouterID(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

func (n NetworkID) Addr() netip.Addr { return Uint32ToAddr(uint32(n)) }

func (n NetworkID) String() string { return n.Addr().String() }

// ParseRouterID 解析点分十进制格式的路由器ID
func ParseRouterID(s string) (RouterID, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("invalid router id %q: %w", s, err)
	}
	v, ok := AddrToUint32(a)
	if !ok {
		return 0, fmt.Errorf("invalid router id %q: not an IPv4 address", s)
	}
	return RouterID(v), nil
}

// PrefixFromMask 由网络地址和掩码构造规范化(已按掩码截断)的前缀
// 非连续掩码返回false
func PrefixFromMask(addr uint32, mask uint32) (netip.Prefix, bool) {
	var m [4]byte
	binary.BigEndian.PutUint32(m[:], mask)
	ones, bits := net.IPv4Mask(m[0], m[1], m[2], m[3]).Size()
	if bits == 0 {
		return netip.Prefix{}, false
	}
	return netip.PrefixFrom(Uint32ToAddr(addr), ones).Masked(), true
}

// TransitLink 路由器在某个transit网络上的度量值和接口地址
type TransitLink struct {
	Metric    uint32
	Interface netip.Addr
}

// LSA 解码后的链路状态记录
// 具体类型只有 *RouterLSA、*NetworkLSA、*ExternalLSA 三种
type LSA interface {
	Type() LSAType
	AdvertisingRouter() RouterID
	isLSA()
}

// RouterLSA Router-LSA(type 1)，只保留transit网络链路
type RouterLSA struct {
	AdvRouter RouterID
	Networks  map[NetworkID]TransitLink
}

// NetworkLSA Network-LSA(type 2)
type NetworkLSA struct {
	AdvRouter RouterID
	Network   NetworkID
	Prefix    netip.Prefix
}

// ExternalLSA AS-External-LSA(type 5)
type ExternalLSA struct {
	AdvRouter         RouterID
	Network           NetworkID
	Prefix            netip.Prefix
	Metric            uint32
	EType             uint8 // 1 或 2
	ForwardingAddress netip.Addr
}

func (l *RouterLSA) Type() LSAType               { return LSATypeRouter }
func (l *RouterLSA) AdvertisingRouter() RouterID { return l.AdvRouter }
func (l *RouterLSA) isLSA()                      {}

func (l *NetworkLSA) Type() LSAType               { return LSATypeNetwork }
func (l *NetworkLSA) AdvertisingRouter() RouterID { return l.AdvRouter }
func (l *NetworkLSA) isLSA()                      {}

func (l *ExternalLSA) Type() LSAType               { return LSATypeExternal }
func (l *ExternalLSA) AdvertisingRouter() RouterID { return l.AdvRouter }
func (l *ExternalLSA) isLSA()                      {}
