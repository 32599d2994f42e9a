package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestLogErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput("info", "json", &buf)

	LogError(logger, "service", "CreateSale", "apply", map[string]int{"lines": 2}, errors.New("boom"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if entry["module"] != "service" || entry["funcName"] != "CreateSale" || entry["msg"] != "boom" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["data"]; !ok {
		t.Fatalf("expected data field")
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithOutput("loud", "text", &bytes.Buffer{})
	if logger.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", logger.GetLevel())
	}
}
