package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

const (
	processorReadyTimeout = 10 * time.Second
	sinkReadyTimeout      = 5 * time.Second
	stopTimeout           = 30 * time.Second
	errQueueSize          = 100
)

type pipeline struct {
	source     Source
	processors []Processor
	sink       Sink
	running    bool
	mu         sync.Mutex
	errChan    chan error
	stopChan   chan struct{}
	done       chan struct{}
	status     string
	metrics    map[string]*metrics.ProcessorMetrics
	config     *config.Config
	startTime  time.Time
	wg         sync.WaitGroup // 用于跟踪所有goroutine
}

func NewPipeline() Pipeline {
	return &pipeline{
		processors: make([]Processor, 0),
		errChan:    make(chan error, errQueueSize),
		done:       make(chan struct{}),
		metrics:    make(map[string]*metrics.ProcessorMetrics),
		status:     "initialized",
	}
}

func (p *pipeline) AddProcessor(processor Processor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("cannot add processor while pipeline is running")
	}

	p.processors = append(p.processors, processor)
	// 按Stage排序处理器
	sort.SliceStable(p.processors, func(i, j int) bool {
		return p.processors[i].Stage() < p.processors[j].Stage()
	})

	return nil
}

func (p *pipeline) SetSource(source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

func (p *pipeline) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

// Start 依次启动 处理器 -> sink -> 数据源
// 数据源最后启动，保证第一个LSU到达时下游已经就绪
func (p *pipeline) Start(ctx context.Context) error {
	if err := p.prepare(); err != nil {
		return err
	}
	logrus.Info("Starting pipeline")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handleErrors(ctx)
	}()

	tail, err := p.startStages(ctx)
	if err != nil {
		return err
	}
	if err := p.waitProcessors(); err != nil {
		return err
	}
	if err := p.startSink(ctx, tail); err != nil {
		return err
	}

	p.wg.Add(1)
	if err := p.source.Start(ctx, &p.wg); err != nil {
		return types.NewPipelineError("source", err)
	}
	logrus.Info("Data source has started successfully")

	p.mu.Lock()
	p.status = "running"
	p.mu.Unlock()
	logrus.Info("Pipeline is now running")
	return nil
}

// prepare 检查组件并重置运行状态
func (p *pipeline) prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.running:
		return types.NewPipelineError("start", fmt.Errorf("pipeline already running"))
	case p.source == nil || p.sink == nil:
		return types.NewPipelineError("start", fmt.Errorf("source and sink are required"))
	}

	p.wg = sync.WaitGroup{}
	p.running = true
	p.startTime = time.Now()
	p.status = "starting"
	p.errChan = make(chan error, errQueueSize)
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	p.metrics = make(map[string]*metrics.ProcessorMetrics, len(p.processors))
	for _, proc := range p.processors {
		p.metrics[proc.Name()] = proc.Metrics()
	}
	return nil
}

// startStages 按Stage顺序串联处理器，返回最后一级的输出
func (p *pipeline) startStages(ctx context.Context) (<-chan *types.Packet, error) {
	in := p.source.Output()
	for _, proc := range p.processors {
		logrus.Debugf("Starting processor %s at stage: %v", proc.Name(), proc.Stage())
		p.wg.Add(1)
		out, err := proc.Process(ctx, in, &p.wg)
		if err != nil {
			p.wg.Done()
			return nil, types.NewPipelineError(proc.Stage().String(), fmt.Errorf("failed to start processor %s: %w", proc.Name(), err))
		}
		in = out
	}
	return in, nil
}

func (p *pipeline) waitProcessors() error {
	ready := make(chan error, 1)
	go func() {
		for _, proc := range p.processors {
			if err := proc.CheckReady(); err != nil {
				ready <- types.NewPipelineError(proc.Stage().String(), err)
				return
			}
		}
		ready <- nil
	}()

	select {
	case err := <-ready:
		if err != nil {
			return err
		}
	case <-time.After(processorReadyTimeout):
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for processors to be ready"))
	}
	logrus.Info("All processors have started successfully")
	return nil
}

// startSink sink退出即表示所有批次都已处理完，此时关闭done
func (p *pipeline) startSink(ctx context.Context, in <-chan *types.Packet) error {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.done)
		if err := p.sink.Consume(ctx, in); err != nil {
			p.reportError(types.NewPipelineError("sink", err))
		}
	}()

	select {
	case <-p.sink.Ready():
		logrus.Info("Sink has started successfully")
		return nil
	case <-time.After(sinkReadyTimeout):
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for sink to be ready"))
	}
}

// Stop 等待各阶段退出，超时后放弃等待
// 调用方应先取消Start使用的ctx，或等待Done
func (p *pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	p.status = "stopping"
	logrus.Info("Pipeline stopping...")
	close(p.stopChan)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		logrus.Info("All pipeline stages exited")
	case <-time.After(stopTimeout):
		logrus.Warn("Timeout waiting for pipeline stages to exit")
	}

	for _, proc := range p.processors {
		cleaner, ok := proc.(interface{ Cleanup() error })
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(); err != nil {
			logrus.Errorf("Error cleaning up processor %s: %v", proc.Name(), err)
		}
	}

	p.status = "stopped"
	logrus.Info("Pipeline stopped")
	return nil
}

func (p *pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// reportError 非阻塞地上报错误，错误过多时直接记日志
func (p *pipeline) reportError(err error) {
	select {
	case p.errChan <- err:
	default:
		logrus.Errorf("Pipeline error (queue full): %v", err)
	}
}

func (p *pipeline) handleErrors(ctx context.Context) {
	logrus.Debug("Starting error handler")
	for {
		select {
		case err := <-p.errChan:
			logrus.Errorf("Pipeline error: %v", err)
		case <-p.stopChan:
			logrus.Debug("Pipeline stopped, stopping error handler")
			return
		case <-ctx.Done():
			logrus.Debug("Context cancelled, stopping error handler")
			return
		}
	}
}

// GetStats 流水线运行状态
func (p *pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := make(map[string]interface{}, len(p.metrics))
	for name, m := range p.metrics {
		stats[name] = m.GetStats()
	}
	return map[string]interface{}{
		"status":     p.status,
		"uptime":     time.Since(p.startTime).String(),
		"processors": len(p.processors),
		"metrics":    stats,
	}
}

// GetMetrics 实现Pipeline接口的GetMetrics方法
func (p *pipeline) GetMetrics() map[string]*metrics.ProcessorMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// SetConfig 实现Pipeline接口的SetConfig方法
func (p *pipeline) SetConfig(cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return types.NewPipelineError("config", fmt.Errorf("cannot set config while pipeline is running"))
	}

	if err := cfg.Validate(); err != nil {
		return types.NewPipelineError("config", err)
	}

	p.config = cfg
	return nil
}

// Status 实现Pipeline接口的Status方法
func (p *pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
