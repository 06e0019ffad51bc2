package main

import (
	"io"
	"testing"
	"time"
)

func TestEnvName(t *testing.T) {
	if got := envName("serial-read-timeout"); got != "CAN_BRIDGE_SERIAL_READ_TIMEOUT" {
		t.Fatalf("got %s", got)
	}
	if got := envName("can3"); got != "CAN_BRIDGE_CAN3" {
		t.Fatalf("got %s", got)
	}
}

func TestApplyEnvOverrides_Basic(t *testing.T) {
	env := envMap(map[string]string{
		"CAN_BRIDGE_CONTROL":              "stdio",
		"CAN_BRIDGE_BAUD":                 "230400",
		"CAN_BRIDGE_MDNS_ENABLE":          "yes",
		"CAN_BRIDGE_SERIAL_READ_TIMEOUT":  "100ms",
		"CAN_BRIDGE_LOG_METRICS_INTERVAL": "5s",
		"CAN_BRIDGE_CAN3":                 "vcan2",
		"CAN_BRIDGE_REPEAT":               "off",
		"CAN_BRIDGE_INJECT_CHANNEL":       "3",
	})
	cfg, _, err := parseArgs(nil, env, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.control != "stdio" {
		t.Fatalf("expected control override, got %s", cfg.control)
	}
	if cfg.baud != 230400 {
		t.Fatalf("expected baud override, got %d", cfg.baud)
	}
	if !cfg.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if cfg.repeat {
		t.Fatalf("expected repeat false")
	}
	if cfg.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", cfg.serialReadTO)
	}
	if cfg.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", cfg.logMetricsEvery)
	}
	if cfg.channels[3] != "vcan2" || cfg.injectChannel != 3 {
		t.Fatalf("expected channel 3 override, got %q inject %d", cfg.channels[3], cfg.injectChannel)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	env := envMap(map[string]string{
		"CAN_BRIDGE_CONTROL": "stdio",
		"CAN_BRIDGE_BAUD":    "230400",
	})
	cfg, _, err := parseArgs([]string{"-baud", "9600"}, env, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.baud != 9600 {
		t.Fatalf("flag should win, got %d", cfg.baud)
	}
}

func TestApplyEnvOverrides_EmptyDisablesChannel(t *testing.T) {
	env := envMap(map[string]string{
		"CAN_BRIDGE_CONTROL": "stdio",
		"CAN_BRIDGE_CAN2":    "",
		"CAN_BRIDGE_BAUD":    "",
	})
	cfg, _, err := parseArgs(nil, env, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.channels[2] != "" {
		t.Fatalf("expected channel 2 disabled, got %q", cfg.channels[2])
	}
	if cfg.baud != 115200 {
		t.Fatalf("empty numeric value should be ignored, got %d", cfg.baud)
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	env := envMap(map[string]string{
		"CAN_BRIDGE_CONTROL":  "stdio",
		"CAN_BRIDGE_WATCHDOG": "soon",
	})
	if _, _, err := parseArgs(nil, env, io.Discard); err == nil {
		t.Fatalf("expected error for invalid duration")
	}
}
