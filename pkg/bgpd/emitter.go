package bgpd

import (
	"context"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Emitter 把过滤器变更交给路由守护进程
type Emitter interface {
	// ApplyFilters 立即下发access-list的变化
	ApplyFilters(ctx context.Context, updates []types.FilterUpdate) error
	// RefreshNeighbors 转发表收敛后触发会话的软刷新
	RefreshNeighbors(ctx context.Context, sessions []netip.Addr) error
	Close() error
}

// NewEmitter 按配置创建Emitter，mode为none时返回nil
func NewEmitter(cfg *config.Config) (Emitter, error) {
	switch cfg.Bgpd.Mode {
	case "vty":
		return NewVtyEmitter(cfg.Bgpd.Address, cfg.Router.ASN, cfg.Bgpd.Password, cfg.Bgpd.EnablePassword), nil
	case "log":
		if cfg.Bgpd.LogFile == "" {
			return NewLogEmitter(cfg.Router.ASN, nil), nil
		}
		f, err := os.OpenFile(cfg.Bgpd.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open bgpd log file: %w", err)
		}
		return NewLogEmitter(cfg.Router.ASN, f), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown bgpd mode %q", cfg.Bgpd.Mode)
	}
}

// LogEmitter 只记录将要下发的命令，不连接bgpd
type LogEmitter struct {
	mu       sync.Mutex
	renderer *Renderer
	out      io.Writer
}

// NewLogEmitter out为nil时只写日志
func NewLogEmitter(asn uint32, out io.Writer) *LogEmitter {
	return &LogEmitter{
		renderer: NewRenderer(asn),
		out:      out,
	}
}

func (e *LogEmitter) ApplyFilters(ctx context.Context, updates []types.FilterUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lines []string
	for _, u := range updates {
		lines = append(lines, e.renderer.Render(u)...)
	}
	return e.write(lines)
}

func (e *LogEmitter) RefreshNeighbors(ctx context.Context, sessions []netip.Addr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.write(RefreshLines(sessions))
}

func (e *LogEmitter) write(lines []string) error {
	for _, line := range lines {
		logrus.Debugf("bgpd> %q", line)
	}
	if e.out == nil || len(lines) == 0 {
		return nil
	}
	if _, err := io.WriteString(e.out, strings.Join(lines, "\n")+"\n"); err != nil {
		return fmt.Errorf("failed to record bgpd commands: %w", err)
	}
	return nil
}

func (e *LogEmitter) Close() error {
	if c, ok := e.out.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
