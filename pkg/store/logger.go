package store

import (
	"fmt"
	"strings"

	"github.com/Hubmakerlabs/localstr/pkg/slog"
)

// logger routes badger's internal log output onto slog. Level caps what is
// passed through, badger is chatty at info.
type logger struct {
	Level int
	Label string
}

func (l logger) line(s string, i ...interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(l.Label+": "+s, i...))
}

func (l logger) Errorf(s string, i ...interface{}) {
	if l.Level >= slog.Error {
		log.E.Ln(l.line(s, i...))
	}
}

func (l logger) Warningf(s string, i ...interface{}) {
	if l.Level >= slog.Warn {
		log.W.Ln(l.line(s, i...))
	}
}

func (l logger) Infof(s string, i ...interface{}) {
	if l.Level >= slog.Info {
		log.I.Ln(l.line(s, i...))
	}
}

func (l logger) Debugf(s string, i ...interface{}) {
	if l.Level >= slog.Debug {
		log.D.Ln(l.line(s, i...))
	}
}
