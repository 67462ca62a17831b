package source

import (
	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/layers"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// networkPacket 剥离链路层，返回从IP头开始的报文
func networkPacket(packet gopacket.Packet) (*types.Packet, bool) {
	nl := packet.NetworkLayer()
	if nl == nil {
		return nil, false
	}

	var protocol string
	switch nl.LayerType() {
	case layers.LayerTypeIPv4:
		protocol = "IPv4"
	case layers.LayerTypeIPv6:
		protocol = "IPv6"
	default:
		return nil, false
	}

	contents, payload := nl.LayerContents(), nl.LayerPayload()
	raw := make([]byte, 0, len(contents)+len(payload))
	raw = append(raw, contents...)
	raw = append(raw, payload...)

	return &types.Packet{
		Timestamp: packet.Metadata().Timestamp,
		RawData:   raw,
		Protocol:  protocol,
	}, true
}
