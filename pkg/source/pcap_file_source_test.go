package source

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/layers"
	"github.com/haolipeng/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x01, 0x00, 0x5e, 0x00, 0x00, 0x05}
)

func ospfFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      1,
		Protocol: layers.IPProtocol(89),
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{224, 0, 0, 5},
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, gopacket.Payload(payload)))
	return buf.Bytes()
}

func arpFrame(t *testing.T) []byte {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, arp))
	return buf.Bytes()
}

func writePcap(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Second),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return path
}

// 回放时剥离以太网头，丢弃非IP报文
func TestPcapFileSourceStripsLinkLayer(t *testing.T) {
	body := []byte{2, 4, 0, 28}
	path := writePcap(t, ospfFrame(t, body), arpFrame(t), ospfFrame(t, body))

	src, err := NewPcapFileSource(path, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, src.Start(context.Background(), &wg))

	var packets []*types.Packet
	for pkt := range src.Output() {
		packets = append(packets, pkt)
	}
	wg.Wait()

	require.Len(t, packets, 2)
	assert.Equal(t, "pkt-1", packets[0].ID)
	assert.Equal(t, "pkt-2", packets[1].ID)
	assert.Equal(t, "IPv4", packets[0].Protocol)
	assert.Equal(t, byte(0x45), packets[0].RawData[0])
	assert.Equal(t, byte(89), packets[0].RawData[9])
	assert.Equal(t, body, packets[0].RawData[20:])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), packets[0].Timestamp.UTC())

	stats := src.GetStats().GetStats()
	assert.Equal(t, uint64(2), stats["packets_captured"])
	assert.Equal(t, uint64(1), stats["packets_dropped"])

	select {
	case <-src.WaitForCompletion():
	default:
		t.Fatal("source should be done after EOF")
	}
}

func TestPcapFileSourceMissingFile(t *testing.T) {
	_, err := NewPcapFileSource(filepath.Join(t.TempDir(), "missing.pcap"), 1)
	assert.Error(t, err)
}
