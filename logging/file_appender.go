package logging

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings for FileAppender.
const (
	DefaultLogFileMaxSizeMB  = 16
	DefaultLogFileMaxBackups = 3
)

// FileAppender writes console formatted lines to a log file that is rotated once it grows past
// DefaultLogFileMaxSizeMB. Older files are compressed.
type FileAppender struct {
	ConsoleAppender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to filename. The file and its directory are
// created on the first write.
func NewFileAppender(filename string) *FileAppender {
	file := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    DefaultLogFileMaxSizeMB,
		MaxBackups: DefaultLogFileMaxBackups,
		Compress:   true,
	}
	return &FileAppender{ConsoleAppender: NewWriterAppender(file), file: file}
}

// Rotate closes the current file and starts a new one.
func (a *FileAppender) Rotate() error {
	return a.file.Rotate()
}

// Close closes the current log file.
func (a *FileAppender) Close() error {
	return a.file.Close()
}
