package launcher

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name    string
		specs   map[string]CommandSpec
		wantErr bool
	}{
		{
			name:  "valid spec",
			specs: map[string]CommandSpec{"explore": {Command: "sh", Args: []string{"-c", "true"}}},
		},
		{
			name:    "missing command",
			specs:   map[string]CommandSpec{"explore": {Args: []string{"-c"}}},
			wantErr: true,
		},
		{
			name:    "empty worker type",
			specs:   map[string]CommandSpec{"": {Command: "sh"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.specs)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRegistry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandPayloadSubstitution(t *testing.T) {
	reg, err := NewRegistry(map[string]CommandSpec{
		"explore": {Command: "echo", Args: []string{"run:", PayloadPlaceholder}},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cmd, err := reg.Command(context.Background(), "explore", "find the parser")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}

	if got := cmd.Args[2]; got != "find the parser" {
		t.Errorf("substituted arg = %q, want payload", got)
	}
	if cmd.Stdin != nil {
		t.Error("stdin set even though payload was substituted into args")
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Error("command not configured for its own process group")
	}
}

func TestCommandPayloadOnStdin(t *testing.T) {
	reg, err := NewRegistry(map[string]CommandSpec{
		"delphi": {Command: "cat"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cmd, err := reg.Command(context.Background(), "delphi", "advise me")
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if cmd.Stdin == nil {
		t.Fatal("stdin not wired for spec without placeholder")
	}

	data, err := io.ReadAll(cmd.Stdin)
	if err != nil {
		t.Fatalf("read stdin: %v", err)
	}
	if string(data) != "advise me" {
		t.Errorf("stdin = %q, want payload", data)
	}
}

func TestCommandUnknownType(t *testing.T) {
	reg, err := NewRegistry(map[string]CommandSpec{"explore": {Command: "sh"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	_, err = reg.Command(context.Background(), "ghost", "payload")
	var ue *UnknownWorkerTypeError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UnknownWorkerTypeError", err)
	}
	if ue.WorkerType != "ghost" {
		t.Errorf("worker type = %q, want ghost", ue.WorkerType)
	}
}

func TestTypes(t *testing.T) {
	reg, err := NewRegistry(map[string]CommandSpec{
		"explore": {Command: "sh"},
		"delphi":  {Command: "sh"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	types := reg.Types()
	if len(types) != 2 || types[0] != "delphi" || types[1] != "explore" {
		t.Errorf("Types() = %v, want sorted [delphi explore]", types)
	}
	if !reg.Has("explore") || reg.Has("ghost") {
		t.Error("Has() misreports registration")
	}
}
