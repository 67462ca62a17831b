package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/controller"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// Redistribution 把LSA批次交给控制器，记录拓扑是否变化以及过滤器变更
// IGP图只在这个阶段的单个协程中被修改
type Redistribution struct {
	controller *controller.Controller
	bufferSize int
	metrics    *metrics.ProcessorMetrics
}

func NewRedistribution(ctrl *controller.Controller, bufferSize int) *Redistribution {
	return &Redistribution{
		controller: ctrl,
		bufferSize: bufferSize,
		metrics:    &metrics.ProcessorMetrics{},
	}
}

func (r *Redistribution) Stage() types.Stage {
	return types.StageRedistribution
}

func (r *Redistribution) Name() string {
	return "redistribution"
}

func (r *Redistribution) CheckReady() error {
	if r.controller == nil {
		return types.ErrProcessorNotReady
	}
	return nil
}

func (r *Redistribution) Metrics() *metrics.ProcessorMetrics {
	return r.metrics
}

func (r *Redistribution) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet, r.bufferSize)

	go func() {
		defer wg.Done()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				logrus.Info("Stopping redistribution: context cancellation")
				return
			case packet, ok := <-in:
				if !ok {
					logrus.Info("Stopping redistribution: input channel closed")
					return
				}
				if packet == nil {
					continue
				}

				r.handle(packet)

				select {
				case out <- packet:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (r *Redistribution) handle(packet *types.Packet) {
	start := time.Now()
	result := r.controller.HandleBatch(packet.Records)
	r.metrics.AddProcessingTime(time.Since(start))
	r.metrics.IncrementProcessed()

	packet.Changed = result.Changed
	packet.Updates = result.Updates

	if result.Changed {
		r.metrics.IncrementTopologyChanges()
	}
	if result.Deferred {
		logrus.Debugf("Packet %s: local router not in IGP graph yet", packet.ID)
	}
	if len(result.Updates) > 0 {
		logrus.Infof("Packet %s: %d filter updates", packet.ID, len(result.Updates))
	}
}
