package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/layers"
	"github.com/haolipeng/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/metrics"
	"github.com/haolipeng/ibgp2d/pkg/types"
)

// pcapng文件的Section Header Block类型
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// PcapFileSource 按顺序回放pcap/pcapng文件中的OSPF报文
type PcapFileSource struct {
	file     *os.File
	reader   packetReader
	linkType layers.LinkType
	output   chan *types.Packet
	done     chan struct{}
	stats    *metrics.SourceMetrics
	filename string
}

func NewPcapFileSource(filename string, bufferSize int) (*PcapFileSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(4)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header %s: %w", filename, err)
	}

	s := &PcapFileSource{
		file:     f,
		output:   make(chan *types.Packet, bufferSize),
		done:     make(chan struct{}),
		stats:    &metrics.SourceMetrics{},
		filename: filename,
	}

	if bytes.Equal(magic, pcapngMagic) {
		r, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open pcapng file %s: %w", filename, err)
		}
		s.reader, s.linkType = r, r.LinkType()
	} else {
		r, err := pcapgo.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
		}
		s.reader, s.linkType = r, r.LinkType()
	}

	return s, nil
}

func (s *PcapFileSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	logrus.Infof("Started reading packets from file: %s (link type %v)", s.filename, s.linkType)

	go func() {
		defer wg.Done()
		defer close(s.done)
		defer close(s.output)
		defer s.file.Close()

		var packetCount int64
		for {
			select {
			case <-ctx.Done():
				logrus.Info("Stopping packet reading due to context cancellation")
				return
			default:
			}

			data, ci, err := s.reader.ReadPacketData()
			if err != nil {
				if errors.Is(err, io.EOF) {
					logrus.Info("Reached end of pcap file")
				} else {
					s.stats.IncrementErrorCount()
					logrus.Errorf("Error reading packet: %v", err)
				}
				return
			}

			packet := gopacket.NewPacket(data, s.linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
			packet.Metadata().CaptureInfo = ci

			pkt, ok := networkPacket(packet)
			if !ok {
				s.stats.IncrementPacketsDropped()
				continue
			}
			packetCount++
			pkt.ID = fmt.Sprintf("pkt-%d", packetCount)
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

func (s *PcapFileSource) Output() <-chan *types.Packet {
	return s.output
}

func (s *PcapFileSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

// WaitForCompletion 文件读完后关闭
func (s *PcapFileSource) WaitForCompletion() <-chan struct{} {
	return s.done
}
