package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewDefaultCarriesComponent(t *testing.T) {
	log := NewDefault("collector")
	if got := log.Data["component"]; got != "collector" {
		t.Fatalf("component = %v, want collector", got)
	}
	if log.Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %s, want info", log.Logger.GetLevel())
	}
}

func TestNewJSONFormat(t *testing.T) {
	log := New(LoggingConfig{Level: "debug", Format: "json"})
	var buf bytes.Buffer
	log.Logger.SetOutput(&buf)

	log.Component("rpc").With("chain", "ganache").Debug("hello")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if record["component"] != "rpc" || record["chain"] != "ganache" || record["msg"] != "hello" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(LoggingConfig{Level: "chatty"})
	if log.Logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("level = %s, want info", log.Logger.GetLevel())
	}
}
