package shared

import (
	"bytes"
	"testing"

	"github.com/charmbracelet/log"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)

	logger.Info("hello")

	if buf.Len() == 0 {
		t.Error("expected log output")
	}
}

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	child := WithLogger(logger, "component", "test")

	child.Info("hello")

	if !bytes.Contains(buf.Bytes(), []byte("component")) {
		t.Error("expected child logger to carry key-value pairs")
	}
}

func TestSetLogLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf)
	SetLogLevel(logger, log.ErrorLevel)

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Error("info log should be suppressed at error level")
	}

	logger.Error("emitted")
	if buf.Len() == 0 {
		t.Error("error log should be emitted")
	}
}

func TestGenerateID(t *testing.T) {
	a := GenerateID()
	b := GenerateID()

	if a == "" || b == "" {
		t.Error("generated IDs should not be empty")
	}
	if a == b {
		t.Error("generated IDs should be unique")
	}
}
