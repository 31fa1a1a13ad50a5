package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestParsePresets(t *testing.T) {
	presets, err := ParsePresets([]byte("presets:\n  Status:\n    command: STATUS\n    description: input status\n  pause:\n    command: PAUSE\n"))
	if err != nil {
		t.Fatalf("ParsePresets returned error: %v", err)
	}

	list := presets.List()
	if len(list) != 2 || list[0].Name != "pause" || list[1].Name != "status" {
		t.Fatalf("List=%v, want [pause status]", list)
	}
	preset, err := presets.Lookup(" STATUS ")
	if err != nil {
		t.Fatalf("Lookup returned error: %v", err)
	}
	if preset.Command != "STATUS" || preset.Description != "input status" {
		t.Fatalf("preset=%+v, want STATUS/input status", preset)
	}
	if _, err := presets.Lookup("die"); !errors.Is(err, ErrPresetNotFound) {
		t.Fatalf("Lookup(die) error=%v, want ErrPresetNotFound", err)
	}
}

func TestParsePresetsRejectsEmptyCommand(t *testing.T) {
	if _, err := ParsePresets([]byte("presets:\n  broken:\n    description: nothing\n")); err == nil {
		t.Fatal("ParsePresets error=nil, want empty command error")
	}
}

func TestReadPresetsMissingFile(t *testing.T) {
	presets, err := ReadPresets(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("ReadPresets returned error: %v", err)
	}
	if len(presets.List()) != 0 {
		t.Fatalf("List=%v, want empty", presets.List())
	}
}

func TestReadPresetsShippedFile(t *testing.T) {
	presets, err := ReadPresets(filepath.Join("..", "..", "config", "commands.yaml"))
	if err != nil {
		t.Fatalf("ReadPresets returned error: %v", err)
	}
	preset, err := presets.Lookup("status")
	if err != nil || preset.Command != "STATUS" {
		t.Fatalf("status preset=%+v,%v, want STATUS", preset, err)
	}
}

func TestDumpRendersYAML(t *testing.T) {
	out, err := Dump(Config{Julius: JuliusConfig{Host: "asr", Port: 10500}})
	if err != nil {
		t.Fatalf("Dump returned error: %v", err)
	}
	if !strings.Contains(string(out), "host: asr") {
		t.Fatalf("Dump=%s, want julius host", out)
	}
}
