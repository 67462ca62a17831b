package types

import (
	"net/netip"
	"sort"
)

// PrefixSet 前缀集合
type PrefixSet map[netip.Prefix]struct{}

func NewPrefixSet(prefixes ...netip.Prefix) PrefixSet {
	s := make(PrefixSet, len(prefixes))
	for _, p := range prefixes {
		s.Add(p)
	}
	return s
}

func (s PrefixSet) Add(p netip.Prefix) {
	s[p] = struct{}{}
}

func (s PrefixSet) Contains(p netip.Prefix) bool {
	_, ok := s[p]
	return ok
}

// Union 将other中的前缀并入s
func (s PrefixSet) Union(other PrefixSet) {
	for p := range other {
		s[p] = struct{}{}
	}
}

// Difference 返回 s - other
func (s PrefixSet) Difference(other PrefixSet) PrefixSet {
	out := make(PrefixSet)
	for p := range s {
		if !other.Contains(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

func (s PrefixSet) Clone() PrefixSet {
	out := make(PrefixSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Sorted 按地址、掩码长度排序返回
func (s PrefixSet) Sorted() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	SortPrefixes(out)
	return out
}

// SortPrefixes 按地址、掩码长度排序
func SortPrefixes(prefixes []netip.Prefix) {
	sort.Slice(prefixes, func(i, j int) bool {
		if c := prefixes[i].Addr().Compare(prefixes[j].Addr()); c != 0 {
			return c < 0
		}
		return prefixes[i].Bits() < prefixes[j].Bits()
	})
}
