package sink

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/haolipeng/gopacket"
	"github.com/haolipeng/gopacket/layers"
	"github.com/haolipeng/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/types"
)

// DefaultMaxFileSize 单个归档文件的默认大小上限
const DefaultMaxFileSize = int64(50 * 1024 * 1024)

// PcapArchive 把改变了拓扑的LS-Update按捕获顺序写入滚动的pcap文件，便于之后replay
// 报文从IP头开始，链路类型为RAW
type PcapArchive struct {
	baseFilename string // 基础文件名（如 "lsu"）
	maxFileSize  int64  // 文件大小限制
	currentSize  int64  // 当前文件大小
	fileIndex    int    // 当前文件索引
	pcapWriter   *pcapgo.Writer
	curFileName  string // 当前文件名
	file         *os.File
	mu           sync.Mutex
}

func NewPcapArchive(baseFilename string, maxFileSize int64) (*PcapArchive, error) {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	a := &PcapArchive{
		baseFilename: baseFilename,
		maxFileSize:  maxFileSize,
		fileIndex:    1,
	}

	// 创建第一个文件
	if err := a.createNewPcapFile(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *PcapArchive) createNewPcapFile() error {
	// 生成文件名：lsu_20240318_153000_1.pcap
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%d.pcap", a.baseFilename, timestamp, a.fileIndex)

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create pcap file: %w", err)
	}

	// 如果已有打开的文件，先关闭
	if a.file != nil {
		if err := a.file.Close(); err != nil {
			logrus.Errorf("Failed to close previous pcap file: %v", err)
		}
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeRaw); err != nil {
		f.Close()
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	a.curFileName = filename
	a.file = f
	a.pcapWriter = w
	a.currentSize = 0
	a.fileIndex++

	logrus.Infof("Created new pcap archive file: %s", filename)
	return nil
}

// Write 归档一个报文，超过大小限制时先切换到新文件
func (a *PcapArchive) Write(packet *types.Packet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(packet.RawData) == 0 {
		return nil
	}
	if a.file == nil {
		return fmt.Errorf("pcap archive closed")
	}

	if a.currentSize >= a.maxFileSize {
		if err := a.createNewPcapFile(); err != nil {
			return err
		}
	}

	ts := packet.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(packet.RawData),
		Length:        len(packet.RawData),
	}
	if err := a.pcapWriter.WritePacket(ci, packet.RawData); err != nil {
		return fmt.Errorf("failed to write packet to pcap: %w", err)
	}

	a.currentSize += int64(len(packet.RawData))
	return nil
}

// CurrentFile 当前正在写入的文件名
func (a *PcapArchive) CurrentFile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.curFileName
}

func (a *PcapArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
