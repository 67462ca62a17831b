package metrics

import (
	"sync/atomic"
	"time"
)

type ProcessorMetrics struct {
	ProcessedPackets uint64
	DroppedPackets   uint64
	ProcessingTime   uint64 // 纳秒
	DecodedRecords   uint64 // 解析出的LSA数
	TopologyChanges  uint64 // 改变了拓扑的批次数
}

func (m *ProcessorMetrics) IncrementProcessed() {
	atomic.AddUint64(&m.ProcessedPackets, 1)
}

func (m *ProcessorMetrics) IncrementDropped() {
	atomic.AddUint64(&m.DroppedPackets, 1)
}

func (m *ProcessorMetrics) AddDecodedRecords(n int) {
	atomic.AddUint64(&m.DecodedRecords, uint64(n))
}

func (m *ProcessorMetrics) IncrementTopologyChanges() {
	atomic.AddUint64(&m.TopologyChanges, 1)
}

func (m *ProcessorMetrics) AddProcessingTime(duration time.Duration) {
	atomic.AddUint64(&m.ProcessingTime, uint64(duration.Nanoseconds()))
}

type SourceMetrics struct {
	PacketsCaptured uint64
	PacketsDropped  uint64
	BytesProcessed  uint64
	ErrorCount      uint64
}

func (m *SourceMetrics) IncrementErrorCount() {
	atomic.AddUint64(&m.ErrorCount, 1)
}

// IncrementPacketsDropped 非OSPF或无法剥离链路层的包
func (m *SourceMetrics) IncrementPacketsDropped() {
	atomic.AddUint64(&m.PacketsDropped, 1)
}

type SinkMetrics struct {
	UpdatesApplied  uint64
	RefreshesSent   uint64
	DeliveryErrors  uint64
	PacketsArchived uint64
	BytesArchived   uint64
}

func (m *SinkMetrics) AddUpdatesApplied(n int) {
	atomic.AddUint64(&m.UpdatesApplied, uint64(n))
}

func (m *SinkMetrics) IncrementRefreshesSent() {
	atomic.AddUint64(&m.RefreshesSent, 1)
}

func (m *SinkMetrics) IncrementDeliveryErrors() {
	atomic.AddUint64(&m.DeliveryErrors, 1)
}

func (m *SinkMetrics) AddArchived(bytes int) {
	atomic.AddUint64(&m.PacketsArchived, 1)
	atomic.AddUint64(&m.BytesArchived, uint64(bytes))
}

// GetStats 处理器统计
func (m *ProcessorMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"processed_packets": atomic.LoadUint64(&m.ProcessedPackets),
		"dropped_packets":   atomic.LoadUint64(&m.DroppedPackets),
		"processing_time":   atomic.LoadUint64(&m.ProcessingTime),
		"decoded_records":   atomic.LoadUint64(&m.DecodedRecords),
		"topology_changes":  atomic.LoadUint64(&m.TopologyChanges),
		"avg_process_time": float64(atomic.LoadUint64(&m.ProcessingTime)) /
			float64(atomic.LoadUint64(&m.ProcessedPackets)+1),
	}
}

// IncrementPacketsCaptured 增加捕获的数据包计数
func (m *SourceMetrics) IncrementPacketsCaptured() {
	atomic.AddUint64(&m.PacketsCaptured, 1)
}

// AddBytesProcessed 增加处理的字节数
func (m *SourceMetrics) AddBytesProcessed(bytes uint64) {
	atomic.AddUint64(&m.BytesProcessed, bytes)
}

func (m *SourceMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"packets_captured": atomic.LoadUint64(&m.PacketsCaptured),
		"packets_dropped":  atomic.LoadUint64(&m.PacketsDropped),
		"bytes_processed":  atomic.LoadUint64(&m.BytesProcessed),
		"error_count":      atomic.LoadUint64(&m.ErrorCount),
	}
}

func (m *SinkMetrics) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"updates_applied":  atomic.LoadUint64(&m.UpdatesApplied),
		"refreshes_sent":   atomic.LoadUint64(&m.RefreshesSent),
		"delivery_errors":  atomic.LoadUint64(&m.DeliveryErrors),
		"packets_archived": atomic.LoadUint64(&m.PacketsArchived),
		"bytes_archived":   atomic.LoadUint64(&m.BytesArchived),
	}
}
