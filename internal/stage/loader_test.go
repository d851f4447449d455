package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefinitions_MissingFile(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if defs != nil {
		t.Errorf("defs = %v, want nil", defs)
	}
}

func TestLoadDefinitions_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executors.yaml")
	content := `executors:
  - kind: instruction-submission
    command: submit.sh {{.ProjectID}}
    env:
      TOKEN: abc
  - kind: deployment
    command: deploy.sh --pr {{.PRNumber}}
    dir: /opt/deploy
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("defs = %d, want 2", len(defs))
	}
	if defs[0].Kind != "instruction-submission" || defs[0].Env["TOKEN"] != "abc" {
		t.Errorf("first def = %+v", defs[0])
	}
	if defs[1].Dir != "/opt/deploy" {
		t.Errorf("second def dir = %q", defs[1].Dir)
	}
}

func TestLoadDefinitions_Invalid(t *testing.T) {
	dir := t.TempDir()

	noKind := filepath.Join(dir, "nokind.yaml")
	os.WriteFile(noKind, []byte("executors:\n  - command: x.sh\n"), 0o644)
	if _, err := LoadDefinitions(noKind); err == nil {
		t.Error("definition without kind should error")
	}

	noCmd := filepath.Join(dir, "nocmd.yaml")
	os.WriteFile(noCmd, []byte("executors:\n  - kind: cleanup\n"), 0o644)
	if _, err := LoadDefinitions(noCmd); err == nil {
		t.Error("definition without command should error")
	}
}

func TestCommandExecutor_PayloadAndLogs(t *testing.T) {
	ex, err := NewCommandExecutor("test", `echo "working on {{.ProjectID}}"; echo "out:pr_number=42"`, nil, "")
	if err != nil {
		t.Fatalf("NewCommandExecutor: %v", err)
	}

	out := ex.Execute(context.Background(), Input{ProjectID: "p1"})
	if !out.OK() {
		t.Fatalf("outcome error = %q", out.Error)
	}
	if out.Payload["pr_number"] != "42" {
		t.Errorf("payload pr_number = %q, want 42", out.Payload["pr_number"])
	}
	if len(out.Logs) != 2 || out.Logs[0] != "working on p1" {
		t.Errorf("logs = %v", out.Logs)
	}
}

func TestCommandExecutor_NonZeroExit(t *testing.T) {
	ex, err := NewCommandExecutor("test", `echo "oops"; exit 3`, nil, "")
	if err != nil {
		t.Fatal(err)
	}

	out := ex.Execute(context.Background(), Input{})
	if out.OK() {
		t.Fatal("non-zero exit should fail")
	}
	if len(out.Logs) != 1 || out.Logs[0] != "oops" {
		t.Errorf("logs = %v, want output preserved on failure", out.Logs)
	}
}

func TestCommandExecutor_Timeout(t *testing.T) {
	ex, err := NewCommandExecutor("test", "sleep 5", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out := ex.Execute(ctx, Input{})
	if out.OK() {
		t.Fatal("deadline expiry should fail the command")
	}
}

func TestCommandExecutor_Env(t *testing.T) {
	ex, err := NewCommandExecutor("test", `echo "out:token=$STAGE_TOKEN"`, map[string]string{"STAGE_TOKEN": "xyz"}, "")
	if err != nil {
		t.Fatal(err)
	}

	out := ex.Execute(context.Background(), Input{})
	if !out.OK() {
		t.Fatalf("outcome error = %q", out.Error)
	}
	if out.Payload["token"] != "xyz" {
		t.Errorf("payload token = %q, want xyz", out.Payload["token"])
	}
}

func TestRegisterCommands(t *testing.T) {
	reg := NewRegistry()
	defs := []Definition{
		{Kind: "instruction-submission", Command: "echo ok"},
	}
	if err := RegisterCommands(reg, defs); err != nil {
		t.Fatalf("RegisterCommands: %v", err)
	}
	if _, err := reg.Lookup(KindSubmission); err != nil {
		t.Errorf("executor not bound: %v", err)
	}

	bad := []Definition{{Kind: "x", Command: "echo {{.Broken"}}
	if err := RegisterCommands(reg, bad); err == nil {
		t.Error("invalid template should error")
	}
}
