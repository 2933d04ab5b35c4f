package logger

import (
	"io"
	"log"
	"os"
)

type Logger struct {
	info        *log.Logger
	warning     *log.Logger
	errorLogger *log.Logger
	active      bool
}

var IMGLogger Logger

func InitializeLogger(active bool, logfilename string) {
	if !active {
		IMGLogger = Logger{active: false}
		return
	}

	file, err := os.OpenFile(logfilename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatal(err)
	}
	IMGLogger = NewLogger(file)
}

// NewLogger builds an active logger over an arbitrary writer.
func NewLogger(w io.Writer) Logger {
	return Logger{
		info:        log.New(w, "ImageAccess|INFO: ", log.Ldate|log.Ltime),
		warning:     log.New(w, "ImageAccess|WARNING: ", log.Ldate|log.Ltime),
		errorLogger: log.New(w, "ImageAccess|ERROR: ", log.Ldate|log.Ltime),
		active:      true,
	}
}

func (logger Logger) Info(msg string) {
	if logger.active {
		logger.info.Println(msg)
	}
}

func (logger Logger) Error(msg any) {
	if logger.active {
		logger.errorLogger.Println(msg)
	}
}

func (logger Logger) Warning(msg string) {
	if logger.active {
		logger.warning.Println(msg)
	}
}
