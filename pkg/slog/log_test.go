package slog_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Hubmakerlabs/localstr/pkg/slog"
)

func TestLevels(t *testing.T) {
	buf := new(bytes.Buffer)
	log, chk := slog.New(buf)
	prev := slog.GetLogLevel()
	defer slog.SetLogLevel(prev)
	slog.SetLogLevel(slog.Warn)
	log.I.Ln("hidden")
	log.W.F("shown %d", 1)
	if strings.Contains(buf.String(), "hidden") {
		t.Fatal("info printed at warn level")
	}
	if !strings.Contains(buf.String(), "shown 1") {
		t.Fatal("warn not printed")
	}
	if !chk.E(errors.New("dummy error")) {
		t.Fatal("chk must report a non-nil error")
	}
	if chk.E(nil) {
		t.Fatal("chk must not report a nil error")
	}
	if err := log.E.Err("format %d '%s'", 5, "testing"); err == nil ||
		err.Error() != "format 5 'testing'" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]int{
		"trace": slog.Trace,
		"D":     slog.Debug,
		"inf":   slog.Info,
		"warn":  slog.Warn,
		"e":     slog.Error,
		"off":   slog.Off,
	} {
		got, ok := slog.ParseLevel(in)
		if !ok || got != want {
			t.Fatalf("%s: got %d want %d", in, got, want)
		}
	}
	if _, ok := slog.ParseLevel("loud"); ok {
		t.Fatal("unknown level accepted")
	}
}

func TestLocation(t *testing.T) {
	buf := new(bytes.Buffer)
	log, chk := slog.New(buf)
	prev := slog.GetLogLevel()
	defer slog.SetLogLevel(prev)
	slog.SetLogLevel(slog.Trace)
	log.I.Ln("ln")
	log.D.F("f %d", 1)
	log.T.S("s")
	log.W.C(func() string { return "c" })
	chk.E(errors.New("chk"))
	_ = log.E.Err("err")
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var n int
	for _, l := range lines {
		// spew output spans lines, only the last carries the location
		if !strings.Contains(l, ".go:") {
			continue
		}
		n++
		if !strings.Contains(l, "log_test.go:") {
			t.Errorf("location is not the caller: %s", l)
		}
	}
	if n != 6 {
		t.Fatalf("got %d located lines, want 6", n)
	}
}
