package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/api"
	"github.com/haolipeng/ibgp2d/pkg/bgpd"
	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/controller"
	"github.com/haolipeng/ibgp2d/pkg/diffusion"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/pipeline"
	"github.com/haolipeng/ibgp2d/pkg/processor"
	"github.com/haolipeng/ibgp2d/pkg/sink"
	"github.com/haolipeng/ibgp2d/pkg/source"
)

const shutdownTimeout = 5 * time.Second

// daemon 一次运行所需的全部组件
type daemon struct {
	cfg      *config.Config
	ctrl     *controller.Controller
	pipeline pipeline.Pipeline
	emitter  bgpd.Emitter
	server   *api.Server
}

// loadPolicy 表达式优先于策略文件，都未配置时不使用策略
func loadPolicy(cfg *config.Config) (*diffusion.Policy, error) {
	if cfg.Policy.Expression != "" {
		return diffusion.NewPolicy(cfg.Policy.Expression)
	}
	if cfg.Policy.File != "" {
		return diffusion.LoadPolicyFile(cfg.Policy.File)
	}
	return nil, nil
}

func newDaemon(cfg *config.Config, serveAPI bool) (*daemon, error) {
	local, err := cfg.LocalRouterID()
	if err != nil {
		return nil, err
	}

	policy, err := loadPolicy(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load export policy: %w", err)
	}
	if policy != nil {
		logrus.Infof("Export policy enabled: %s", policy.Expression())
	}

	collector := metrics.NewCollector()
	ctrl := controller.New(local, policy)
	ctrl.SetCollector(collector)

	// 创建pipeline
	p := pipeline.NewPipeline()
	if err := p.SetConfig(cfg); err != nil {
		return nil, err
	}

	// 创建数据源
	var src pipeline.Source
	if cfg.Source.Type == "file" {
		src, err = source.NewPcapFileSource(cfg.Source.Filename, cfg.Pipeline.BufferSize)
	} else {
		src, err = source.NewPcapSource(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s source: %w", cfg.Source.Type, err)
	}
	p.SetSource(src)

	// LSA解析 -> 拓扑更新与iBGP2计算
	if err := p.AddProcessor(processor.NewLSAParser(cfg.Pipeline.BufferSize, collector)); err != nil {
		return nil, err
	}
	if err := p.AddProcessor(processor.NewRedistribution(ctrl, cfg.Pipeline.BufferSize)); err != nil {
		return nil, err
	}

	emitter, err := bgpd.NewEmitter(cfg)
	if err != nil {
		return nil, err
	}

	var archive *sink.PcapArchive
	if cfg.Archive.BaseFilename != "" {
		archive, err = sink.NewPcapArchive(cfg.Archive.BaseFilename, cfg.Archive.MaxFileSize)
		if err != nil {
			closeEmitter(emitter)
			return nil, err
		}
	}
	filterSink := sink.NewFilterSink(emitter, ctrl.Filters(), cfg.Bgpd.SettleDelay, archive)
	filterSink.SetCollector(collector)
	p.SetSink(filterSink)

	d := &daemon{
		cfg:      cfg,
		ctrl:     ctrl,
		pipeline: p,
		emitter:  emitter,
	}
	if serveAPI {
		d.server = api.NewServer(cfg)
		d.server.RegisterStatusService(api.NewStatusService(ctrl, p))
		d.server.RegisterMetrics(collector)
	}
	return d, nil
}

func (d *daemon) start(ctx context.Context) error {
	if d.server != nil {
		go func() {
			if err := d.server.Start(); err != nil {
				logrus.Errorf("API server failed: %v", err)
			}
		}()
	}

	if err := d.pipeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logrus.Infof("Pipeline started for router %s", d.ctrl.Local())
	return nil
}

func (d *daemon) stop() {
	if err := d.pipeline.Stop(); err != nil {
		logrus.Errorf("Error stopping pipeline: %v", err)
	}

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Stop(ctx); err != nil {
			logrus.Errorf("Error stopping API server: %v", err)
		}
	}

	closeEmitter(d.emitter)
}

func closeEmitter(emitter bgpd.Emitter) {
	if emitter == nil {
		return
	}
	if err := emitter.Close(); err != nil {
		logrus.Errorf("Error closing bgpd emitter: %v", err)
	}
}
