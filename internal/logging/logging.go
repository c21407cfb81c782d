// Package logging builds the process logger.
package logging

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

// Prefix labels every line written by the tool.
const Prefix = "reqscan"

// New returns a logger writing to w at info level, or debug when verbose.
func New(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(w, log.Options{
		Prefix: Prefix,
		Level:  level,
	})
	logger.SetStyles(styles())
	return logger
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

func styles() *log.Styles {
	s := log.DefaultStyles()
	label := func(text, color string) lipgloss.Style {
		return lipgloss.NewStyle().
			SetString(text).
			Bold(true).
			Foreground(lipgloss.Color(color))
	}
	s.Levels[log.DebugLevel] = label("DEBU", "63")
	s.Levels[log.InfoLevel] = label("INFO", "86")
	s.Levels[log.WarnLevel] = label("WARN", "192")
	s.Levels[log.ErrorLevel] = label("ERRO", "204")
	s.Levels[log.FatalLevel] = label("FATA", "134")
	return s
}
