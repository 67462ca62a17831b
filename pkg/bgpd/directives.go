package bgpd

import (
	"fmt"
	"net/netip"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

const (
	routeMapPrefix   = "ROUTE-MAP-"
	accessListPrefix = "ACCESS-LIST-"

	// EOT 退出configure模式回到enable模式
	EOT = "\x04"
)

func RouteMapName(id types.FilterID) string {
	return fmt.Sprintf("%s%d", routeMapPrefix, id)
}

func AccessListName(id types.FilterID) string {
	return fmt.Sprintf("%s%d", accessListPrefix, id)
}

// Renderer 把过滤器变更渲染为Quagga bgpd的vty命令
// 记录已经声明过的邻居，第一次出现的邻居先声明为路由反射客户端并绑定route-map
type Renderer struct {
	asn      uint32
	declared map[types.FilterID]struct{}
}

func NewRenderer(asn uint32) *Renderer {
	return &Renderer{
		asn:      asn,
		declared: make(map[types.FilterID]struct{}),
	}
}

// Render 渲染一个邻居的变更，调用时vty处于configure模式
func (r *Renderer) Render(update types.FilterUpdate) []string {
	routeMap := RouteMapName(update.FilterID)
	acl := AccessListName(update.FilterID)
	peer := update.Session.String()

	var lines []string
	if _, ok := r.declared[update.FilterID]; !ok {
		r.declared[update.FilterID] = struct{}{}
		lines = append(lines,
			fmt.Sprintf("router bgp %d", r.asn),
			fmt.Sprintf("neighbor %s remote-as %d", peer, r.asn),
			fmt.Sprintf("neighbor %s route-reflector-client", peer),
			fmt.Sprintf("neighbor %s route-map %s out", peer, routeMap),
			"exit",
			fmt.Sprintf("route-map %s permit 1", routeMap),
			fmt.Sprintf("match ip next-hop %s", acl),
			"exit",
		)
	}

	// 重置时删除整个access-list再写入完整集合，空集合即拒绝所有下一跳
	if update.Reset {
		lines = append(lines, fmt.Sprintf("no access-list %s", acl))
	}

	// 不写最后的deny any，它是隐含的
	for _, p := range update.Removed {
		lines = append(lines, fmt.Sprintf("no access-list %s permit %s", acl, p))
	}
	for _, p := range update.Added {
		lines = append(lines, fmt.Sprintf("access-list %s permit %s", acl, p))
	}
	return lines
}

// Forget 下发失败时撤销声明记录，下次重新声明邻居
func (r *Renderer) Forget(id types.FilterID) {
	delete(r.declared, id)
}

// RefreshLines 让bgpd对变化的会话重新发送路由，完成后回到configure模式
func RefreshLines(sessions []netip.Addr) []string {
	if len(sessions) == 0 {
		return nil
	}
	lines := []string{EOT}
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("clear ip bgp %s soft", s))
	}
	return append(lines, "configure terminal")
}

// LoginLines vty登录并进入configure模式
func LoginLines(password, enablePassword string) []string {
	var lines []string
	if password != "" {
		lines = append(lines, password)
	}
	lines = append(lines, "enable")
	if enablePassword != "" {
		lines = append(lines, enablePassword)
	}
	return append(lines, "configure terminal")
}
