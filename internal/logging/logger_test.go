package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDefaultLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error %d", 1)
			logger.Warnf("warn %d", 2)
			logger.Infof("info %d", 3)
			logger.Debugf("debug %d", 4)

			output := buf.String()
			if got := strings.Contains(output, "ERROR error 1"); got != tt.wantError {
				t.Errorf("Error logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "WARN warn 2"); got != tt.wantWarn {
				t.Errorf("Warn logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "INFO info 3"); got != tt.wantInfo {
				t.Errorf("Info logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "DEBUG debug 4"); got != tt.wantDebug {
				t.Errorf("Debug logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestDefaultLogger_NamespacePrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelInfo)
	logger.Infof(NSCheckpoint+"checkpoint %d written", 7)

	if !strings.Contains(buf.String(), "INFO [checkpoint] checkpoint 7 written") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestDefaultLogger_FatalCallsHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelError)

	var got string
	logger.SetFatalHandler(func(msg string) { got = msg })
	logger.Fatalf("pool %s lost", "p0")

	if got != "pool p0 lost" {
		t.Errorf("handler msg = %q, want %q", got, "pool p0 lost")
	}
	if !strings.Contains(buf.String(), "FATAL pool p0 lost") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"error", LevelError},
		{"WARN", LevelWarn},
		{"warning", LevelWarn},
		{" info ", LevelInfo},
		{"Debug", LevelDebug},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseLevel("loud"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("ParseLevel(loud) error = %v, want ErrUnknownLevel", err)
	}
}

func TestIsNilAndOrDefault(t *testing.T) {
	var typed *DefaultLogger
	if !IsNil(nil) {
		t.Error("IsNil(nil) = false")
	}
	if !IsNil(typed) {
		t.Error("IsNil(typed nil) = false")
	}
	if IsNil(Discard) {
		t.Error("IsNil(Discard) = true")
	}
	if OrDefault(typed) == nil {
		t.Error("OrDefault(typed nil) returned nil")
	}
	if OrDefault(Discard) != Discard {
		t.Error("OrDefault(Discard) replaced a valid logger")
	}
}
