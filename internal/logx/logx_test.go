package logx_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"meetups-data-fetcher/internal/logx"
)

func TestLogx_PrettyZH_Info(t *testing.T) {
	var buf bytes.Buffer
	logx.InitWriter(&buf, "debug", "pretty", "zh-CN", "never")
	logx.Infof("hello %s", "world")
	if !strings.Contains(buf.String(), "[信息] hello world") {
		t.Fatalf("expect zh label, got: %q", buf.String())
	}
}

func TestLogx_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logx.InitWriter(&buf, "warn", "pretty", "zh-CN", "never")
	logx.Infof("should not print")
	logx.Warnf("warn on")
	out := buf.String()
	if strings.Contains(out, "should not print") {
		t.Fatalf("info should be filtered when level=warn")
	}
	if !strings.Contains(out, "[警告]") {
		t.Fatalf("expect warn label present, got: %q", out)
	}
}

func TestLogx_Silent(t *testing.T) {
	var buf bytes.Buffer
	logx.InitWriter(&buf, "off", "pretty", "en", "never")
	logx.Errorf("boom")
	if buf.Len() != 0 {
		t.Fatalf("expect no output, got: %q", buf.String())
	}
}

func TestLogx_ScopedPrefix(t *testing.T) {
	var buf bytes.Buffer
	logx.InitWriter(&buf, "info", "pretty", "en", "never")
	logx.For("pymug").Errorf("failed %d", 2)
	if !strings.Contains(buf.String(), "[ERROR] [pymug] failed 2") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestLogx_ColorAlways(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	var buf bytes.Buffer
	logx.InitWriter(&buf, "info", "pretty", "en", "always")
	logx.Warnf("colored")
	if !strings.Contains(buf.String(), "\x1b[33m[WARN]") {
		t.Fatalf("expect ansi color when color=always, got: %q", buf.String())
	}
}

func TestLogx_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logx.InitWriter(&buf, "info", "json", "en", "never")
	logx.Infof("structured")
	if !strings.Contains(buf.String(), `"msg":"structured"`) {
		t.Fatalf("expect json record, got: %q", buf.String())
	}
}

func TestLogx_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := logx.NewPrettyHandler(&buf, slog.LevelInfo, "en", "never")
	logger := slog.New(h).With("k", "v").WithGroup("g")
	logger.Info("hello", "n", 1)
	s := buf.String()
	if !strings.Contains(s, "k=v") || !strings.Contains(s, "g.n=1") {
		t.Fatalf("expect flattened attrs, got: %q", s)
	}
}
