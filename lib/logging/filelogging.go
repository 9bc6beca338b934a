package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

// Logger writes to STDOUT, or to a dated file when logFilePath is set.
func Logger(logFilePath string) *lecho.Logger {
	logger := lecho.New(
		os.Stdout,
		lecho.WithLevel(log.DEBUG),
		lecho.WithTimestamp(),
	)
	if logFilePath != "" {
		file, err := OpenLogFile(logFilePath, time.Now())
		if err != nil {
			logger.Errorf("failed to open log file, logging to stdout: %v", err)
			return logger
		}
		logger.SetOutput(file)
	}

	return logger
}

// OpenLogFile appends to one file per day: payhub.log becomes payhub-2024-10-17.log.
func OpenLogFile(path string, now time.Time) (*os.File, error) {
	return os.OpenFile(DatedPath(path, now), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
}

func DatedPath(path string, now time.Time) string {
	suffix := now.Format("-2006-01-02")
	extension := filepath.Ext(path)
	if extension == "" {
		return path + suffix + ".log"
	}
	return strings.TrimSuffix(path, extension) + suffix + extension
}
