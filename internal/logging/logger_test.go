package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		want    zerolog.Level
		wantErr bool
	}{
		{"default", Options{}, zerolog.InfoLevel, false},
		{"warn", Options{Level: "warn"}, zerolog.WarnLevel, false},
		{"verbose wins", Options{Level: "error", Verbose: true}, zerolog.DebugLevel, false},
		{"unknown", Options{Level: "loud"}, zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Out = &bytes.Buffer{}
			log, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && log.GetLevel() != tt.want {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.want)
			}
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{JSON: true, Out: &buf})
	if err != nil {
		t.Fatal(err)
	}

	log.Info().Str("transfer_id", "t1").Msg("Preflight passed")
	log.Debug().Msg("hidden at info")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1:\n%s", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["transfer_id"] != "t1" || entry["message"] != "Preflight passed" || entry["level"] != "info" {
		t.Errorf("entry = %v", entry)
	}
}

func TestNewConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Out: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Warn().Msg("Destination is network-addressed")
	if !strings.Contains(buf.String(), "Destination is network-addressed") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}
