package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/haolipeng/ibgp2d/pkg/config"
)

var logLevels = map[string]logrus.Level{
	"DEBUG": logrus.DebugLevel,
	"INFO":  logrus.InfoLevel,
	"WARN":  logrus.WarnLevel,
	"ERROR": logrus.ErrorLevel,
	"FATAL": logrus.FatalLevel,
	"PANIC": logrus.PanicLevel,
}

// InitLogger 设置日志格式、级别，并按时间切割写入日志文件
func InitLogger(cfg *config.Config) error {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	//1、日志级别，默认为WARN级别
	level, ok := logLevels[strings.ToUpper(cfg.Log.Level)]
	if !ok {
		level = logrus.WarnLevel
	}
	logrus.SetLevel(level)

	//2、日志目录不存在则创建
	if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create log dir: %w", err)
	}
	logFileName := filepath.Join(cfg.Log.Dir, cfg.Log.Filename)

	//3、日志切割功能，按时间来切割
	options := []rotates.Option{
		rotates.WithMaxAge(time.Duration(cfg.Log.MaxAge) * time.Hour),           //文件最大保存时间
		rotates.WithRotationTime(time.Duration(cfg.Log.RotateTime) * time.Hour), //文件切割间隔
	}
	if runtime.GOOS != "windows" {
		options = append(options, rotates.WithLinkName(logFileName)) //文件软链接
	}
	logWriter, err := rotates.New(logFileName+".%Y%m%d%H%M", options...)
	if err != nil {
		return fmt.Errorf("failed to create rotate logs: %w", err)
	}

	//所有级别写入同一个切割文件
	writers := make(lfshook.WriterMap, len(logLevels))
	for _, l := range logLevels {
		writers[l] = logWriter
	}
	logrus.AddHook(lfshook.NewHook(writers, &logrus.TextFormatter{}))
	return nil
}
