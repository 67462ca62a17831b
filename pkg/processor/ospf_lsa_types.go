package processor

// OSPF报文类型
const (
	OSPFTypeHello = 1
	OSPFTypeDD    = 2
	OSPFTypeLSR   = 3
	OSPFTypeLSU   = 4
	OSPFTypeLSAck = 5
)

// LSA类型, RFC 2328 A.4.1
const (
	RouterLSAtypeV2         = 0x1
	NetworkLSAtypeV2        = 0x2
	SummaryLSANetworktypeV2 = 0x3
	SummaryLSAASBRtypeV2    = 0x4
	ASExternalLSAtypeV2     = 0x5
	NSSALSAtypeV2           = 0x7
)

// Router-LSA链路类型, RFC 2328 A.4.2
const (
	LinkTypePointToPoint = 1
	LinkTypeTransit      = 2
	LinkTypeStub         = 3
	LinkTypeVirtual      = 4
)

// 报文内固定偏移和长度
const (
	ospfHeaderLen    = 24
	lsuCountOffset   = 24 // LSU中LSA数量字段，紧跟OSPF头
	lsuFirstLSA      = 28
	lsaHeaderLen     = 20
	routerLinkLen    = 12
	routerTOSLen     = 3
	networkLSAMinLen = 24
	externalLSAMin   = 32
	externalEBit     = 0x80
	externalMetric   = 0x00ffffff
)
