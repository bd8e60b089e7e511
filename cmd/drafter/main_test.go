package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/woxQAQ/drafter-wasm/pkg/drafter"
)

func TestLoadConfigFlagOverrides(t *testing.T) {
	g := &globalFlags{
		logLevel: "debug",
		wasmPath: "/opt/drafter.wasm",
		protocol: "positional",
	}

	cfg, err := loadConfig(g)
	if err != nil {
		t.Fatalf("loadConfig() failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Engine.WasmPath != "/opt/drafter.wasm" || cfg.Engine.Protocol != "positional" {
		t.Errorf("engine flags not applied: %+v", cfg.Engine)
	}
}

func TestLoadConfigRejectsBadFlag(t *testing.T) {
	if _, err := loadConfig(&globalFlags{protocol: "v3"}); err == nil {
		t.Error("expected an error for an unknown protocol")
	}
}

func TestReadInputStdin(t *testing.T) {
	text, err := readInput(strings.NewReader("# API\n"), "-")
	if err != nil {
		t.Fatalf("readInput() failed: %v", err)
	}
	if text != "# API\n" {
		t.Errorf("readInput() = %q", text)
	}

	if _, err := readInput(nil, "does-not-exist.apib"); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWriteValue(t *testing.T) {
	var buf bytes.Buffer
	doc := map[string]any{"element": "parseResult"}
	if err := writeValue(&buf, doc, true); err != nil {
		t.Fatalf("writeValue() failed: %v", err)
	}
	if buf.String() != "{\n  \"element\": \"parseResult\"\n}\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	_ = writeValue(&buf, doc, false)
	if buf.String() != "{\"element\":\"parseResult\"}\n" {
		t.Errorf("piped output should be compact, got %q", buf.String())
	}
	if isTerminal(&buf) {
		t.Error("a buffer is not a terminal")
	}

	buf.Reset()
	_ = writeValue(&buf, `{"element":"parseResult"}`, true)
	if buf.String() != "{\"element\":\"parseResult\"}\n" {
		t.Errorf("raw output should be printed as is, got %q", buf.String())
	}
}

func TestParseWithoutEngine(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetIn(strings.NewReader("# API\n"))
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"parse", "-", "--log-level", "error"})

	if err := cmd.Execute(); !errors.Is(err, drafter.ErrNoSource) {
		t.Errorf("expected ErrNoSource, got %v", err)
	}
}
