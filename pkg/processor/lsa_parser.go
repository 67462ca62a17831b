package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// LSAParser 把捕获的IP报文解码为一个完整的LSA批次
// 非OSPF报文以及不含LSA的OSPF报文(Hello、DD等)在这里被丢弃
type LSAParser struct {
	bufferSize int
	metrics    *metrics.ProcessorMetrics
	collector  *metrics.Collector
}

func NewLSAParser(bufferSize int, collector *metrics.Collector) *LSAParser {
	return &LSAParser{
		bufferSize: bufferSize,
		metrics:    &metrics.ProcessorMetrics{},
		collector:  collector,
	}
}

func (p *LSAParser) Stage() types.Stage {
	return types.StageLSADecoding
}

func (p *LSAParser) Name() string {
	return "lsa-parser"
}

func (p *LSAParser) CheckReady() error {
	return nil
}

func (p *LSAParser) Metrics() *metrics.ProcessorMetrics {
	return p.metrics
}

// Process 单协程顺序解码，保证批次顺序与捕获顺序一致
func (p *LSAParser) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet, p.bufferSize)

	go func() {
		defer wg.Done()
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				logrus.Info("Stopping LSA parser: context cancellation")
				return
			case packet, ok := <-in:
				if !ok {
					logrus.Info("Stopping LSA parser: input channel closed")
					return
				}
				if packet == nil {
					logrus.Warn("LSA parser received nil packet")
					continue
				}

				if !p.parse(packet) {
					p.metrics.IncrementDropped()
					continue
				}

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

// parse 解码报文中的LSA，返回是否需要交给下一阶段
func (p *LSAParser) parse(packet *types.Packet) bool {
	start := time.Now()
	defer func() {
		p.metrics.AddProcessingTime(time.Since(start))
	}()

	if !IsLinkStateTraffic(packet.RawData) {
		return false
	}
	packet.Protocol = "OSPF"

	records, skipped := decodeLSAs(packet.RawData)
	p.metrics.IncrementProcessed()
	p.metrics.AddDecodedRecords(len(records))

	if p.collector != nil {
		for _, r := range records {
			p.collector.LSAsDecoded.WithLabelValues(r.Type().String()).Inc()
		}
		p.collector.LSAsSkipped.Add(float64(skipped))
	}
	if skipped > 0 {
		logrus.Debugf("Packet %s: %d LSAs skipped", packet.ID, skipped)
	}
	if len(records) == 0 {
		return false
	}

	packet.Records = records
	logrus.Debugf("Packet %s: decoded %d LSAs", packet.ID, len(records))
	return true
}
