package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"loom/internal/pipeline"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func statusColor(status pipeline.Status) string {
	switch status {
	case pipeline.StatusCompleted:
		return ansiGreen
	case pipeline.StatusInProgress:
		return ansiBlue
	case pipeline.StatusBlocked:
		return ansiRed
	default:
		return ""
	}
}

func colorizeStatus(status pipeline.Status, colorize bool) string {
	label := string(status)
	if !colorize {
		return label
	}
	if color := statusColor(status); color != "" {
		return color + label + ansiReset
	}
	return label
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
