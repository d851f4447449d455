package stage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"text/template"
)

// CommandExecutor runs an external collaborator command for one stage kind.
// The command string is a text/template rendered against the stage Input,
// then run through sh -c with ctx-bound lifetime.
type CommandExecutor struct {
	kind Kind
	tmpl *template.Template
	env  map[string]string
	dir  string
}

// NewCommandExecutor compiles the command template for a kind
func NewCommandExecutor(kind Kind, command string, env map[string]string, dir string) (*CommandExecutor, error) {
	tmpl, err := template.New(string(kind)).Parse(command)
	if err != nil {
		return nil, fmt.Errorf("compile command for %s: %w", kind, err)
	}
	return &CommandExecutor{kind: kind, tmpl: tmpl, env: env, dir: dir}, nil
}

// Execute renders and runs the command, capturing output as outcome logs.
// A non-zero exit or ctx expiry is reported as a failure.
func (c *CommandExecutor) Execute(ctx context.Context, in Input) Outcome {
	var buf strings.Builder
	if err := c.tmpl.Execute(&buf, in); err != nil {
		return Failure(fmt.Sprintf("render command: %v", err))
	}
	rendered := buf.String()

	cmd := exec.CommandContext(ctx, "sh", "-c", rendered)
	if c.dir != "" {
		cmd.Dir = c.dir
	}
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	output, err := cmd.CombinedOutput()

	var logs []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		logs = append(logs, scanner.Text())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return Failure(fmt.Sprintf("%s timed out", c.kind), logs...)
	}
	if err != nil {
		return Failure(fmt.Sprintf("%s exited: %v", c.kind, err), logs...)
	}

	out := Outcome{Logs: logs}
	// Commands hand results back as KEY=VALUE lines prefixed with "out:".
	for _, line := range logs {
		if rest, ok := strings.CutPrefix(line, "out:"); ok {
			if k, v, found := strings.Cut(strings.TrimSpace(rest), "="); found {
				if out.Payload == nil {
					out.Payload = make(map[string]string)
				}
				out.Payload[k] = v
			}
		}
	}
	return out
}
