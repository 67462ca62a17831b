package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/config"
	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// PcapSource 在网卡上实时捕获OSPF报文
type PcapSource struct {
	handle    *pcap.Handle
	output    chan *types.Packet
	bpfFilter string
	stats     *metrics.SourceMetrics
	device    string
}

func NewPcapSource(cfg *config.Config) (*PcapSource, error) {
	if cfg.Interface.Name == "" {
		return nil, fmt.Errorf("interface name is required")
	}

	handle, err := pcap.OpenLive(
		cfg.Interface.Name,
		cfg.Interface.SnapLen,
		cfg.Interface.Promiscuous,
		cfg.Interface.Timeout,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", cfg.Interface.Name, err)
	}

	return &PcapSource{
		handle:    handle,
		output:    make(chan *types.Packet, cfg.Pipeline.BufferSize),
		bpfFilter: cfg.Interface.BPFFilter,
		device:    cfg.Interface.Name,
		stats:     &metrics.SourceMetrics{},
	}, nil
}

func (s *PcapSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if s.bpfFilter != "" {
		logrus.Debugf("Setting BPF filter: %s", s.bpfFilter)
		if err := s.handle.SetBPFFilter(s.bpfFilter); err != nil {
			wg.Done()
			return fmt.Errorf("failed to set BPF filter: %w", err)
		}
	}

	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	packetSource.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}
	logrus.Infof("Started packet capture on %s with link type: %v", s.device, s.handle.LinkType())

	go func() {
		defer wg.Done()
		defer close(s.output)
		defer s.handle.Close()

		var packetCount int64
		for {
			select {
			case <-ctx.Done():
				logrus.Info("Stopping packet capture due to context cancellation")
				return
			default:
			}

			packet, err := packetSource.NextPacket()
			if err != nil {
				if errors.Is(err, pcap.NextErrorTimeoutExpired) {
					continue
				}
				if errors.Is(err, io.EOF) || errors.Is(err, pcap.NextErrorNoMorePackets) {
					logrus.Info("Capture handle closed")
					return
				}
				s.stats.IncrementErrorCount()
				logrus.Warnf("Error capturing packet: %v", err)
				continue
			}

			pkt, ok := networkPacket(packet)
			if !ok {
				s.stats.IncrementPacketsDropped()
				continue
			}
			packetCount++
			pkt.ID = fmt.Sprintf("pkt-%d", packetCount)
			if pkt.Timestamp.IsZero() {
				pkt.Timestamp = time.Now()
			}
			s.stats.IncrementPacketsCaptured()
			s.stats.AddBytesProcessed(uint64(len(pkt.RawData)))

			select {
			case s.output <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (s *PcapSource) Output() <-chan *types.Packet {
	return s.output
}

// SetFilter 替换启动时使用的BPF过滤器
func (s *PcapSource) SetFilter(filter string) error {
	s.bpfFilter = filter
	return nil
}

func (s *PcapSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}
