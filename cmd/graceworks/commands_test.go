package main

import (
	"strings"
	"testing"
)

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if result := colorize(colorGreen, "hello"); strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}

	noColor = false
	if result := colorize(colorGreen, "hello"); !strings.Contains(result, "\033") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestCommandRegistration(t *testing.T) {
	want := []string{"classify", "batch", "report", "config", "version"}
	for _, name := range want {
		found := false
		for _, cmd := range rootCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestBatchSubcommands(t *testing.T) {
	want := []string{"generate", "upload", "create", "status", "list", "fetch", "merge"}
	for _, name := range want {
		found := false
		for _, cmd := range batchCmd.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("batch subcommand %q not registered", name)
		}
	}
}
