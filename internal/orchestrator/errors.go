package orchestrator

import "strings"

// StartupError reports a managed process that exited early or never became
// ready. Captured output rides along so the failure is diagnosable without
// re-running the scenario.
type StartupError struct {
	Name   string
	Msg    string
	Stdout string
	Stderr string
}

func (e *StartupError) Error() string {
	var b strings.Builder
	b.WriteString("process ")
	b.WriteString(e.Name)
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if out := strings.TrimSpace(e.Stdout); out != "" {
		b.WriteString("\n--- stdout ---\n")
		b.WriteString(out)
	}
	if errOut := strings.TrimSpace(e.Stderr); errOut != "" {
		b.WriteString("\n--- stderr ---\n")
		b.WriteString(errOut)
	}
	return b.String()
}
