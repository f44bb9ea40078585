package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// LogWriter receives application, gin and gorm output.
var LogWriter io.Writer = os.Stdout

// LogFilePath is COLLECT_LOG_FILE when set, else collect-api.log under LOG_DIR.
func LogFilePath() string {
	if p := strings.TrimSpace(os.Getenv("COLLECT_LOG_FILE")); p != "" {
		return p
	}
	return filepath.Join(GetEnv("LOG_DIR", "logs"), "collect-api.log")
}

// InitLogging tees the standard logger into the log file. Without a writable file
// everything keeps going to stdout and the returned file is nil.
func InitLogging() (*os.File, io.Writer) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	path := LogFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("Warning: cannot create log directory %s: %v", filepath.Dir(path), err)
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Warning: logging to stdout only, cannot open %s: %v", path, err)
		LogWriter = os.Stdout
	} else {
		LogWriter = io.MultiWriter(os.Stdout, logFile)
	}
	log.SetOutput(LogWriter)
	return logFile, LogWriter
}
