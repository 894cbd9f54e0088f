package main

import (
	"io"
	"log/slog"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
)

// newLogger returns an slog logger backed by a charm handler.
func newLogger(w io.Writer, levelRaw, formatRaw string) (*slog.Logger, error) {
	level, err := charmLog.ParseLevel(strings.TrimSpace(levelRaw))
	if err != nil {
		return nil, err
	}

	formatter := charmLog.TextFormatter
	if strings.EqualFold(strings.TrimSpace(formatRaw), "json") {
		formatter = charmLog.JSONFormatter
	}

	handler := charmLog.NewWithOptions(w, charmLog.Options{
		Prefix:          "runchat",
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Formatter:       formatter,
	})
	return slog.New(handler), nil
}
