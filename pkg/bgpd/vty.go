package bgpd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

const vtyWriteTimeout = 5 * time.Second

// VtyEmitter 通过bgpd的vty端口下发命令
// 连接在第一次下发时建立并保持，出错后关闭，下次下发时重连
type VtyEmitter struct {
	mu             sync.Mutex
	address        string
	password       string
	enablePassword string
	renderer       *Renderer
	dialer         net.Dialer
	conn           net.Conn
	readers        sync.WaitGroup
}

func NewVtyEmitter(address string, asn uint32, password, enablePassword string) *VtyEmitter {
	return &VtyEmitter{
		address:        address,
		password:       password,
		enablePassword: enablePassword,
		renderer:       NewRenderer(asn),
		dialer:         net.Dialer{Timeout: vtyWriteTimeout},
	}
}

func (e *VtyEmitter) ApplyFilters(ctx context.Context, updates []types.FilterUpdate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var lines []string
	for _, u := range updates {
		lines = append(lines, e.renderer.Render(u)...)
	}
	if err := e.send(ctx, lines); err != nil {
		for _, u := range updates {
			e.renderer.Forget(u.FilterID)
		}
		return err
	}
	return nil
}

func (e *VtyEmitter) RefreshNeighbors(ctx context.Context, sessions []netip.Addr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.send(ctx, RefreshLines(sessions))
}

func (e *VtyEmitter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnect()
	e.readers.Wait()
	return nil
}

// send 调用方持有e.mu
func (e *VtyEmitter) send(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	if e.conn == nil {
		if err := e.connect(ctx); err != nil {
			return err
		}
	}
	if err := e.writeLines(lines); err != nil {
		e.disconnect()
		return fmt.Errorf("failed to write to bgpd vty %s: %w", e.address, err)
	}
	return nil
}

func (e *VtyEmitter) connect(ctx context.Context) error {
	conn, err := e.dialer.DialContext(ctx, "tcp", e.address)
	if err != nil {
		return fmt.Errorf("failed to connect to bgpd vty %s: %w", e.address, err)
	}
	e.conn = conn
	logrus.Infof("Connected to bgpd vty %s", e.address)

	// vty的回显和提示符不需要解析，丢弃即可，否则对端的发送缓冲区会填满
	e.readers.Add(1)
	go func() {
		defer e.readers.Done()
		n, _ := io.Copy(io.Discard, conn)
		logrus.Debugf("bgpd vty %s closed after %d bytes", e.address, n)
	}()

	if err := e.writeLines(LoginLines(e.password, e.enablePassword)); err != nil {
		e.disconnect()
		return fmt.Errorf("failed to log into bgpd vty %s: %w", e.address, err)
	}
	return nil
}

func (e *VtyEmitter) writeLines(lines []string) error {
	if err := e.conn.SetWriteDeadline(time.Now().Add(vtyWriteTimeout)); err != nil {
		return err
	}
	w := bufio.NewWriter(e.conn)
	for _, line := range lines {
		logrus.Debugf("bgpd> %q", line)
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

func (e *VtyEmitter) disconnect() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		logrus.Debugf("Closing bgpd vty connection: %v", err)
	}
	e.conn = nil
}
