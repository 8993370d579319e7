package main

import (
	"testing"
)

func TestNumLogsDefaults(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{"generate", "5"},
		{"send", "10"},
		{"integration", "4"},
		{"errors", "100"},
	}

	root := newRootCommand()
	for _, tt := range tests {
		cmd, _, err := root.Find([]string{tt.command})
		if err != nil {
			t.Fatalf("command %s not found: %v", tt.command, err)
		}

		flag := cmd.Flags().Lookup("num-logs")
		if flag == nil {
			t.Fatalf("%s: missing --num-logs flag", tt.command)
		}
		if flag.DefValue != tt.want {
			t.Errorf("%s: expected --num-logs default %s, got %s", tt.command, tt.want, flag.DefValue)
		}
	}
}

func TestVerifySubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"status", "search-service", "search-severity", "search-trace", "search-time", "stats", "verify-fields", "delete-service"} {
		if cmd, _, err := root.Find([]string{"verify", name}); err != nil || cmd.Name() != name {
			t.Errorf("expected verify subcommand %q, got %v (err %v)", name, cmd, err)
		}
	}
}
