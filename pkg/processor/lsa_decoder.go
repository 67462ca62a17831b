package processor

import (
	"encoding/binary"

	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// IsLinkStateTraffic 判断IP报文是否承载OSPF(协议号89)
// 支持IPv4(变长头部)和IPv6(固定40字节头部)
func IsLinkStateTraffic(data []byte) bool {
	_, ok := ospfPayload(data)
	return ok
}

// DecodeLSAs 从一个原始IP报文中解码出全部LSA记录
// 只有LS-Update报文会产生记录，其他类型返回空切片；截断或未知的记录直接跳过
func DecodeLSAs(data []byte) []types.LSA {
	records, _ := decodeLSAs(data)
	return records
}

// decodeLSAs 同DecodeLSAs，额外返回被跳过的记录数
func decodeLSAs(data []byte) ([]types.LSA, int) {
	payload, ok := ospfPayload(data)
	if !ok {
		return nil, 0
	}
	if len(payload) < ospfHeaderLen {
		return nil, 0
	}
	if payload[1] != OSPFTypeLSU {
		return nil, 0
	}

	// OSPF头部里的报文长度比实际负载短时以它为准
	if pktLen := int(binary.BigEndian.Uint16(payload[2:4])); pktLen >= ospfHeaderLen && pktLen < len(payload) {
		payload = payload[:pktLen]
	}
	if len(payload) < lsuFirstLSA {
		return nil, 0
	}

	numLSAs := binary.BigEndian.Uint32(payload[lsuCountOffset:lsuFirstLSA])
	records := make([]types.LSA, 0)
	skipped := 0

	offset := lsuFirstLSA
	for i := uint32(0); i < numLSAs; i++ {
		if offset+lsaHeaderLen > len(payload) {
			skipped += int(numLSAs - i)
			logrus.Debugf("LSU truncated: %d of %d LSAs missing", numLSAs-i, numLSAs)
			break
		}
		lsaLen := int(binary.BigEndian.Uint16(payload[offset+18 : offset+20]))
		if lsaLen < lsaHeaderLen || offset+lsaLen > len(payload) {
			// 长度字段不可信，后续记录的起点也无法确定
			skipped += int(numLSAs - i)
			logrus.Debugf("LSA at offset %d declares invalid length %d", offset, lsaLen)
			break
		}

		if lsa := decodeLSA(payload[offset : offset+lsaLen]); lsa != nil {
			records = append(records, lsa)
		} else {
			skipped++
		}
		offset += lsaLen
	}

	return records, skipped
}

// ospfPayload 校验IP头并返回OSPF部分
func ospfPayload(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}

	switch data[0] >> 4 {
	case 4:
		var ip4 layers.IPv4
		if err := ip4.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			logrus.Debugf("Invalid IPv4 header: %v", err)
			return nil, false
		}
		if ip4.Protocol != layers.IPProtocolOSPF {
			return nil, false
		}
		return ip4.Payload, true
	case 6:
		var ip6 layers.IPv6
		if err := ip6.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			logrus.Debugf("Invalid IPv6 header: %v", err)
			return nil, false
		}
		if ip6.NextHeader != layers.IPProtocolOSPF {
			return nil, false
		}
		return ip6.Payload, true
	default:
		logrus.Debugf("Invalid IP version number: %d", data[0]>>4)
		return nil, false
	}
}

// decodeLSA 按类型解码单条LSA，rec的长度等于LSA头部声明的长度
func decodeLSA(rec []byte) types.LSA {
	lsType := rec[3]
	linkStateID := binary.BigEndian.Uint32(rec[4:8])
	advRouter := types.RouterID(binary.BigEndian.Uint32(rec[8:12]))

	switch lsType {
	case RouterLSAtypeV2:
		return decodeRouterLSA(rec, advRouter)
	case NetworkLSAtypeV2:
		if len(rec) < networkLSAMinLen {
			logrus.Debugf("Network-LSA from %s truncated (%d bytes)", advRouter, len(rec))
			return nil
		}
		prefix, ok := types.PrefixFromMask(linkStateID, binary.BigEndian.Uint32(rec[20:24]))
		if !ok {
			logrus.Debugf("Network-LSA from %s has a non contiguous mask", advRouter)
			return nil
		}
		return &types.NetworkLSA{
			AdvRouter: advRouter,
			Network:   types.NetworkID(linkStateID),
			Prefix:    prefix,
		}
	case ASExternalLSAtypeV2:
		if len(rec) < externalLSAMin {
			logrus.Debugf("AS-External-LSA from %s truncated (%d bytes)", advRouter, len(rec))
			return nil
		}
		prefix, ok := types.PrefixFromMask(linkStateID, binary.BigEndian.Uint32(rec[20:24]))
		if !ok {
			logrus.Debugf("AS-External-LSA from %s has a non contiguous mask", advRouter)
			return nil
		}
		eType := uint8(1)
		if rec[24]&externalEBit != 0 {
			eType = 2
		}
		return &types.ExternalLSA{
			AdvRouter:         advRouter,
			Network:           types.NetworkID(linkStateID),
			Prefix:            prefix,
			Metric:            binary.BigEndian.Uint32(rec[24:28]) & externalMetric,
			EType:             eType,
			ForwardingAddress: types.Uint32ToAddr(binary.BigEndian.Uint32(rec[28:32])),
		}
	default:
		// Summary/NSSA等类型与iBGP2无关
		return nil
	}
}

// decodeRouterLSA 解析Router-LSA的链路描述，只保留transit网络
func decodeRouterLSA(rec []byte, advRouter types.RouterID) types.LSA {
	if len(rec) < lsaHeaderLen+4 {
		logrus.Debugf("Router-LSA from %s truncated (%d bytes)", advRouter, len(rec))
		return nil
	}

	numLinks := int(binary.BigEndian.Uint16(rec[22:24]))
	lsa := &types.RouterLSA{
		AdvRouter: advRouter,
		Networks:  make(map[types.NetworkID]types.TransitLink),
	}

	offset := lsaHeaderLen + 4
	for i := 0; i < numLinks; i++ {
		if offset+routerLinkLen > len(rec) {
			logrus.Debugf("Router-LSA from %s: link %d/%d truncated", advRouter, i+1, numLinks)
			return nil
		}
		linkID := binary.BigEndian.Uint32(rec[offset : offset+4])
		linkData := binary.BigEndian.Uint32(rec[offset+4 : offset+8])
		linkType := rec[offset+8]
		numTOS := int(rec[offset+9])
		metric := binary.BigEndian.Uint16(rec[offset+10 : offset+12])

		if linkType == LinkTypeTransit {
			lsa.Networks[types.NetworkID(linkID)] = types.TransitLink{
				Metric:    uint32(metric),
				Interface: types.Uint32ToAddr(linkData),
			}
		}

		// 跳过TOS度量
		offset += routerLinkLen + routerTOSLen*numTOS
		if offset > len(rec) {
			logrus.Debugf("Router-LSA from %s: TOS entries of link %d overflow the LSA", advRouter, i+1)
			return nil
		}
	}

	return lsa
}
