package types

import "time"

// Packet 表示处理流水线中传递的数据包
// 一个Packet对应一次捕获的LS-Update，也就是一个LSA批次
type Packet struct {
	ID        string
	Timestamp time.Time
	RawData   []byte // 从IP头开始的原始字节
	Protocol  string
	Error     error

	Records []LSA          // 协议解析结果
	Changed bool           // 本批次是否改变了IGP拓扑
	Updates []FilterUpdate // 本批次产生的过滤器变更
}

// Stage 表示处理阶段
type Stage int

const (
	StageLSADecoding    Stage = iota + 1 //LSA解析
	StageRedistribution                  //拓扑更新与iBGP2计算
)

func (s Stage) String() string {
	switch s {
	case StageLSADecoding:
		return "lsa-decoding"
	case StageRedistribution:
		return "redistribution"
	default:
		return "unknown"
	}
}
