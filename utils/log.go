package utils

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"
)

const sentryLinePrefix = "[Sentry]"

// SentrySlogWriter is an io.Writer that feeds the sentry client's debug
// output into slog instead of the standard logger.
type SentrySlogWriter struct {
	logger *slog.Logger
}

func NewSentrySlogWriter(logger *slog.Logger) *SentrySlogWriter {
	return &SentrySlogWriter{logger: logger}
}

func (w *SentrySlogWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, sentryLinePrefix) {
			// drop the "[Sentry] 2006/01/02 15:04:05" preamble
			if parts := strings.SplitN(line, " ", 4); len(parts) == 4 {
				line = parts[3]
			}
		}
		w.logger.Debug(line)
	}
	return len(p), nil
}
