package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.TAT() != 72*time.Hour {
		t.Fatalf("expected 72h tat, got %s", cfg.TAT())
	}
	if len(cfg.Racks) == 0 || !cfg.Racks[0].IsActive() {
		t.Fatalf("expected active default racks, got %+v", cfg.Racks)
	}
	if cfg.Verification.MinOverrideReason != 10 {
		t.Fatalf("expected override reason minimum 10, got %d", cfg.Verification.MinOverrideReason)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte("verification:\n  extra_tolerance: 2\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Verification.ExtraTolerance != 2 {
		t.Fatalf("expected tolerance 2, got %d", cfg.Verification.ExtraTolerance)
	}
	if cfg.Repair.TATHours != 72 {
		t.Fatalf("expected default tat, got %d", cfg.Repair.TATHours)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"racks:\n  - {code: X, stage: LIMBO, capacity: 1}\n":                                                 "unknown stage",
		"racks:\n  - {code: X, stage: RECEIVED, capacity: 1}\n  - {code: X, stage: RECEIVED, capacity: 1}\n": "defined twice",
		"repair:\n  tat_hours: 0\n":                              "tat_hours",
		"notifications:\n  transport: carrier-pigeon\n":          "transport",
		"spare_parts:\n  - {code: RAM-001, current_stock: -1}\n": "current_stock",
	}
	for doc, want := range cases {
		_, err := FromYAML([]byte(doc))
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q for %q, got %v", want, doc, err)
		}
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notifications.Transport != TransportLog {
		t.Fatalf("expected log transport, got %q", cfg.Notifications.Transport)
	}
	if err := os.WriteFile(filepath.Join(dir, "refurbline.yml"), []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Log.Level)
	}
}
