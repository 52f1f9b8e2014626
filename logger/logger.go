package logger

import (
	"io"
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/apex/log/handlers/text"
)

type Logger struct {
	entry  *log.Logger
	file   *os.File
	active bool
}

var VMDKlogger = Logger{entry: &log.Logger{Handler: discard.New(), Level: log.InfoLevel}}

// InitializeLogger replaces VMDKlogger. When active is false every call is
// dropped, otherwise records are appended to logfilename.
func InitializeLogger(active bool, logfilename string) error {
	if !active {
		VMDKlogger = Logger{entry: &log.Logger{Handler: discard.New(), Level: log.InfoLevel}}
		return nil
	}

	file, err := os.OpenFile(logfilename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	VMDKlogger = Logger{entry: &log.Logger{Handler: text.New(file), Level: log.InfoLevel},
		file: file, active: active}
	return nil
}

// InitializeWriter sends records to w instead of a log file.
func InitializeWriter(w io.Writer) {
	VMDKlogger = Logger{entry: &log.Logger{Handler: text.New(w), Level: log.InfoLevel}, active: true}
}

func (logger Logger) Active() bool {
	return logger.active
}

func (logger Logger) Info(msg string) {
	if logger.active {
		logger.entry.Info(msg)
	}
}

func (logger Logger) Error(msg any) {
	if !logger.active {
		return
	}
	switch v := msg.(type) {
	case error:
		logger.entry.WithError(v).Error("failed")
	case string:
		logger.entry.Error(v)
	default:
		logger.entry.Errorf("%v", v)
	}
}

func (logger Logger) Warning(msg string) {
	if logger.active {
		logger.entry.Warn(msg)
	}
}

// Close flushes and releases the log file if one is open.
func (logger Logger) Close() error {
	if logger.file == nil {
		return nil
	}
	return logger.file.Close()
}
