package sink

import (
	"context"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/bgpd"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

const (
	refreshTimeout = 10 * time.Second
	retryDelay     = 5 * time.Second
)

// Resyncer 提供邻居当前完整集合的重置更新
type Resyncer interface {
	Resync(neighbor types.RouterID) (types.FilterUpdate, bool)
}

// FilterSink 把每个批次的过滤器变更交给bgpd
// access-list立即下发；会话软刷新在settle延迟之后进行，等待本地转发表先收敛
// 新批次把自己的会话并入待刷新集合并重新计时
// 下发失败的邻居在下一次下发时改为发送完整集合，bgpd不可达期间按retryDelay重试
type FilterSink struct {
	emitter   bgpd.Emitter
	filters   Resyncer
	settle    time.Duration
	archive   *PcapArchive
	stats     *metrics.SinkMetrics
	collector *metrics.Collector
	ready     chan struct{}

	deliverMu   sync.Mutex // 串行化对bgpd的下发
	mu          sync.Mutex
	pending     map[netip.Addr]struct{}
	undelivered map[types.RouterID]struct{}
	timer       *time.Timer
	closing     bool
	flushes     sync.WaitGroup
}

// NewFilterSink emitter为nil时只记录日志，archive可为nil
// filters为nil时下发失败的差异无法补发
func NewFilterSink(emitter bgpd.Emitter, filters Resyncer, settle time.Duration, archive *PcapArchive) *FilterSink {
	return &FilterSink{
		emitter:     emitter,
		filters:     filters,
		settle:      settle,
		archive:     archive,
		stats:       &metrics.SinkMetrics{},
		ready:       make(chan struct{}),
		pending:     make(map[netip.Addr]struct{}),
		undelivered: make(map[types.RouterID]struct{}),
	}
}

func (s *FilterSink) SetCollector(collector *metrics.Collector) {
	s.collector = collector
}

func (s *FilterSink) Ready() <-chan struct{} {
	return s.ready
}

func (s *FilterSink) GetStats() *metrics.SinkMetrics {
	return s.stats
}

func (s *FilterSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.Info("Starting filter sink consumer")
	defer func() {
		s.shutdown()
		logrus.Info("Filter sink consumer stopped")
	}()

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Filter sink received context cancellation")
			return nil
		case packet, ok := <-in:
			if !ok {
				logrus.Debug("Filter sink input channel closed")
				return nil
			}
			if packet == nil {
				continue
			}
			s.handle(ctx, packet)
		}
	}
}

func (s *FilterSink) handle(ctx context.Context, packet *types.Packet) {
	if packet.Changed && s.archive != nil {
		if err := s.archive.Write(packet); err != nil {
			logrus.Errorf("Failed to archive packet %s: %v", packet.ID, err)
		} else {
			s.stats.AddArchived(len(packet.RawData))
		}
	}

	if len(packet.Updates) == 0 {
		return
	}

	s.stats.AddUpdatesApplied(len(packet.Updates))
	s.deliver(ctx, packet.Updates)

	sessions := make([]netip.Addr, 0, len(packet.Updates))
	for _, u := range packet.Updates {
		if u.Session.IsValid() {
			sessions = append(sessions, u.Session)
		}
	}
	s.schedule(sessions, s.settle)
}

// deliver 下发一批变更，之前下发失败的邻居用完整集合代替差异
// 返回下发后是否还有未同步的邻居
func (s *FilterSink) deliver(ctx context.Context, updates []types.FilterUpdate) bool {
	if s.emitter == nil {
		return false
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	batch := s.resyncBatch(updates)
	if len(batch) == 0 {
		return false
	}

	if err := s.emitter.ApplyFilters(ctx, batch); err != nil {
		s.deliveryError(err)
		if s.filters == nil {
			logrus.Warnf("Dropping %d undelivered filter updates", len(batch))
			return false
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, u := range batch {
			s.undelivered[u.Neighbor] = struct{}{}
		}
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range batch {
		if u.Reset {
			delete(s.undelivered, u.Neighbor)
			logrus.Infof("Resynchronized filter %d of neighbor %s", u.FilterID, u.Neighbor)
		}
	}
	return len(s.undelivered) > 0
}

// resyncBatch 合并本批次的差异和待重新同步的邻居，按邻居排序
func (s *FilterSink) resyncBatch(updates []types.FilterUpdate) []types.FilterUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]types.FilterUpdate, 0, len(updates)+len(s.undelivered))
	for _, u := range updates {
		if _, ok := s.undelivered[u.Neighbor]; !ok {
			batch = append(batch, u)
		}
	}
	for rid := range s.undelivered {
		full, ok := s.filters.Resync(rid)
		if !ok {
			delete(s.undelivered, rid)
			continue
		}
		batch = append(batch, full)
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Neighbor < batch[j].Neighbor })
	return batch
}

// schedule 合并待刷新的会话并重新开始计时
func (s *FilterSink) schedule(sessions []netip.Addr, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, addr := range sessions {
		s.pending[addr] = struct{}{}
	}
	if len(s.pending) == 0 && len(s.undelivered) == 0 {
		return
	}
	s.arm(delay)
}

// arm 调用方持有s.mu
func (s *FilterSink) arm(delay time.Duration) {
	if s.closing {
		return
	}
	if s.timer != nil && s.timer.Stop() {
		// 计时器尚未触发，它的flush不会再执行
		s.flushes.Done()
	}
	s.flushes.Add(1)
	s.timer = time.AfterFunc(delay, func() {
		defer s.flushes.Done()
		s.flush()
	})
}

// flush 先补发未同步的邻居，再对所有待刷新的会话执行软刷新
// 补发失败时保留待刷新的会话，稍后重试
func (s *FilterSink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if s.deliver(ctx, nil) {
		s.mu.Lock()
		s.arm(retryDelay)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	sessions := make([]netip.Addr, 0, len(s.pending))
	for addr := range s.pending {
		sessions = append(sessions, addr)
	}
	s.pending = make(map[netip.Addr]struct{})
	s.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Less(sessions[j]) })
	logrus.Infof("Refreshing %d iBGP sessions", len(sessions))

	if s.emitter == nil {
		return
	}
	if err := s.emitter.RefreshNeighbors(ctx, sessions); err != nil {
		s.deliveryError(err)
		s.schedule(sessions, retryDelay)
		return
	}
	s.stats.IncrementRefreshesSent()
}

// shutdown 停止计时器并立即尝试最后一次下发和刷新
func (s *FilterSink) shutdown() {
	s.mu.Lock()
	s.closing = true
	if s.timer != nil && s.timer.Stop() {
		s.flushes.Done()
	}
	s.timer = nil
	s.mu.Unlock()

	s.flush()
	s.flushes.Wait()

	s.mu.Lock()
	if n := len(s.undelivered); n > 0 {
		logrus.Warnf("Stopping with %d neighbors not synchronized with bgpd", n)
	}
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Close(); err != nil {
			logrus.Errorf("Failed to close pcap archive: %v", err)
		}
	}
}

func (s *FilterSink) deliveryError(err error) {
	logrus.Errorf("bgpd delivery failed: %v", err)
	s.stats.IncrementDeliveryErrors()
	if s.collector != nil {
		s.collector.BgpdErrors.Inc()
	}
}
