package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/resonantlabs/rtpmidi/midi"
)

func TestParseCommandLineNoteOn(t *testing.T) {
	cmd, err := parseCommandLine("90 40 7f")
	if err != nil {
		t.Fatalf("parseCommandLine: %v", err)
	}
	if cmd.Kind != midi.KindChannelVoice || cmd.Status != 0x90 || !bytes.Equal(cmd.Data, []byte{0x40, 0x7f}) {
		t.Fatalf("parseCommandLine = %+v", cmd)
	}
}

func TestParseCommandLineRejectsNonHex(t *testing.T) {
	if _, err := parseCommandLine("90 zz 7f"); err == nil {
		t.Fatal("expected an error for a non-hex byte")
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := slogLevel(in); got != want {
			t.Errorf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
