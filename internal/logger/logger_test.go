package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew(t *testing.T) {
	log := New()
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected logger to be enabled")
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Errorf("Expected output to contain 'test message', got: %s", output)
	}
}

func TestNewWithOptions(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantLevel zerolog.Level
		wantJSON  bool
		wantErr   bool
	}{
		{name: "defaults", opts: Options{}, wantLevel: zerolog.InfoLevel},
		{name: "json debug", opts: Options{Level: "DEBUG", Format: "json"}, wantLevel: zerolog.DebugLevel, wantJSON: true},
		{name: "console warn", opts: Options{Level: "warn", Format: "console"}, wantLevel: zerolog.WarnLevel},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: true},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.opts.Out = buf
			log, err := NewWithOptions(tt.opts)
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewWithOptions() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWithOptions() error = %v", err)
			}
			if log.GetLevel() != tt.wantLevel {
				t.Errorf("level = %v, want %v", log.GetLevel(), tt.wantLevel)
			}

			log.WithLevel(tt.wantLevel).Str("user_id", "123").Msg("hello")
			var entry map[string]any
			isJSON := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry) == nil
			if isJSON != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", isJSON, tt.wantJSON, buf.String())
			}
			if !strings.Contains(buf.String(), "hello") {
				t.Errorf("output missing message: %s", buf.String())
			}
		})
	}
}

func TestNewWithOptions_FiltersBelowLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	log, err := NewWithOptions(Options{Level: "error", Format: "json", Out: buf})
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("info logged at error level: %s", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	ctxWithLogger := WithContext(context.Background(), New())
	if ctxWithLogger.Value(LoggerKey) == nil {
		t.Error("Expected logger in context, got nil")
	}
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	log := FromContext(ctx)
	log.Info().Msg("test")

	if buf.Len() == 0 {
		t.Error("Expected log output from retrieved logger")
	}
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	if log.GetLevel() == zerolog.Disabled {
		t.Error("Expected default logger to be enabled")
	}
}

func TestWithFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := WithFields(NewWithWriter(buf), map[string]interface{}{
		"user_id": "123",
		"action":  "test",
	})
	log.Info().Msg("test message")

	output := buf.String()
	if !strings.Contains(output, "user_id") || !strings.Contains(output, "123") {
		t.Errorf("Expected output to contain user_id field, got: %s", output)
	}
	if !strings.Contains(output, "action") {
		t.Errorf("Expected output to contain action field, got: %s", output)
	}
}
