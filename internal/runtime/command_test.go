package runtime

import (
	"context"
	"strings"
	"testing"
)

func echoCommand(name string) Command {
	return Command{
		Name:    name,
		Usage:   "<text>",
		Summary: "Echoes input",
		Handler: func(_ context.Context, req *Request) (string, error) {
			return req.Args, nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(echoCommand("echo"))

	cmd, ok := r.Get("ECHO")
	if !ok {
		t.Fatal("expected to find echo command")
	}
	if cmd.Name != "echo" {
		t.Errorf("expected name 'echo', got %q", cmd.Name)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatal("expected not to find missing command")
	}
}

func TestRegistryAllSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(echoCommand("zeta"))
	r.Register(echoCommand("alpha"))
	all := r.All()
	if len(all) != 2 || all[0].Name != "alpha" || all[1].Name != "zeta" {
		t.Fatalf("unexpected order %+v", all)
	}
}

func TestRegistryHelp(t *testing.T) {
	r := NewRegistry()
	r.Register(echoCommand("echo"))
	help := r.Help()
	if !strings.Contains(help, "/echo <text> - Echoes input") {
		t.Errorf("unexpected help %q", help)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in         string
		name, args string
		ok         bool
	}{
		{"/roll 2d6+1", "roll", "2d6+1", true},
		{"  /Help  ", "help", "", true},
		{"/adventure@gideon_bot start horror", "adventure", "start horror", true},
		{"hello /roll", "", "", false},
		{"/", "", "", false},
		{"/@bot", "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := ParseCommand(tt.in)
		if name != tt.name || args != tt.args || ok != tt.ok {
			t.Errorf("ParseCommand(%q) = %q %q %v, want %q %q %v", tt.in, name, args, ok, tt.name, tt.args, tt.ok)
		}
	}
}
