package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

type sliceSource struct {
	packets []*types.Packet
	output  chan *types.Packet
}

func newSliceSource(packets ...*types.Packet) *sliceSource {
	return &sliceSource{packets: packets, output: make(chan *types.Packet)}
}

func (s *sliceSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	go func() {
		defer wg.Done()
		defer close(s.output)
		for _, p := range s.packets {
			select {
			case s.output <- p:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (s *sliceSource) Output() <-chan *types.Packet {
	return s.output
}

// tagger 在Protocol后追加自己的名字
type tagger struct {
	name    string
	stage   types.Stage
	metrics *metrics.ProcessorMetrics
}

func newTagger(name string, stage types.Stage) *tagger {
	return &tagger{name: name, stage: stage, metrics: &metrics.ProcessorMetrics{}}
}

func (p *tagger) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)
	go func() {
		defer wg.Done()
		defer close(out)
		for packet := range in {
			packet.Protocol += p.name
			p.metrics.IncrementProcessed()
			select {
			case out <- packet:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *tagger) Stage() types.Stage                 { return p.stage }
func (p *tagger) Name() string                       { return p.name }
func (p *tagger) CheckReady() error                  { return nil }
func (p *tagger) Metrics() *metrics.ProcessorMetrics { return p.metrics }

type collectSink struct {
	ready    chan struct{}
	received []string
}

func (s *collectSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	close(s.ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-in:
			if !ok {
				return nil
			}
			s.received = append(s.received, packet.Protocol)
		}
	}
}

func (s *collectSink) Ready() <-chan struct{} {
	return s.ready
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := NewPipeline()
	sink := &collectSink{ready: make(chan struct{})}
	p.SetSource(newSliceSource(&types.Packet{ID: "1"}, &types.Packet{ID: "2"}))
	// 添加顺序与Stage顺序相反
	require.NoError(t, p.AddProcessor(newTagger("b", types.StageRedistribution)))
	require.NoError(t, p.AddProcessor(newTagger("a", types.StageLSADecoding)))
	p.SetSink(sink)

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, "running", p.Status())
	assert.Error(t, p.Start(context.Background()))
	assert.Error(t, p.AddProcessor(newTagger("c", types.StageLSADecoding)))

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("pipeline did not drain")
	}
	require.NoError(t, p.Stop())

	assert.Equal(t, []string{"ab", "ab"}, sink.received)
	assert.Equal(t, "stopped", p.Status())
	assert.Equal(t, uint64(2), p.GetMetrics()["a"].ProcessedPackets)
	assert.Contains(t, p.GetStats(), "metrics")
}

func TestPipelineRequiresSourceAndSink(t *testing.T) {
	p := NewPipeline()
	err := p.Start(context.Background())
	require.Error(t, err)

	var pipelineErr *types.PipelineError
	assert.ErrorAs(t, err, &pipelineErr)
}

func TestPipelineSetConfigValidates(t *testing.T) {
	p := NewPipeline()
	cfg := &config.Config{}
	cfg.SetDefaults()
	assert.Error(t, p.SetConfig(cfg))

	cfg.Interface.Name = "eth0"
	cfg.Router.RouterID = "1.1.1.1"
	assert.NoError(t, p.SetConfig(cfg))
}
