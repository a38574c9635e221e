package probe

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"sentinel/internal/domain"
)

// commandRunner executes one system command and captures combined output.
// Params: context, command name, and arguments.
// Returns: trimmed combined output and execution error.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

// ServiceProbe checks systemd unit activity via systemctl.
// Params: unit name and optional bounded restart-on-failure policy.
// Returns: probe reporting unit active state.
type ServiceProbe struct {
	unit            string
	restart         bool
	restartAttempts int
	run             commandRunner
}

// NewServiceProbe creates systemd service probe.
// Params: unit name, restart flag, and restart attempt limit.
// Returns: initialized probe using systemctl.
func NewServiceProbe(unit string, restart bool, restartAttempts int) *ServiceProbe {
	if restartAttempts <= 0 {
		restartAttempts = 1
	}
	return &ServiceProbe{
		unit:            unit,
		restart:         restart,
		restartAttempts: restartAttempts,
		run:             runCommand,
	}
}

// Kind returns probe kind name.
// Params: none.
// Returns: "service".
func (p *ServiceProbe) Kind() string {
	return "service"
}

// Check queries unit state and optionally restarts an inactive unit.
// Params: context bounding all systemctl invocations.
// Returns: ok outcome when unit is active, after restarts when allowed.
func (p *ServiceProbe) Check(ctx context.Context) domain.Outcome {
	active, detail := p.isActive(ctx)
	if active {
		return domain.Outcome{OK: true, Detail: detail, Timestamp: time.Now().UTC()}
	}
	if !p.restart {
		return domain.Outcome{OK: false, Detail: detail, Timestamp: time.Now().UTC()}
	}

	for attempt := 1; attempt <= p.restartAttempts; attempt++ {
		if ctx.Err() != nil {
			return domain.Outcome{
				OK:        false,
				Detail:    fmt.Sprintf("%s; restart aborted: %v", detail, ctx.Err()),
				Timestamp: time.Now().UTC(),
			}
		}
		if _, err := p.run(ctx, "systemctl", "restart", p.unit); err != nil {
			detail = fmt.Sprintf("unit %s inactive, restart %d/%d failed: %v", p.unit, attempt, p.restartAttempts, err)
			continue
		}
		active, stateDetail := p.isActive(ctx)
		if active {
			return domain.Outcome{
				OK:        true,
				Detail:    fmt.Sprintf("unit %s recovered by restart %d/%d", p.unit, attempt, p.restartAttempts),
				Timestamp: time.Now().UTC(),
			}
		}
		detail = fmt.Sprintf("%s after restart %d/%d", stateDetail, attempt, p.restartAttempts)
	}
	return domain.Outcome{OK: false, Detail: detail, Timestamp: time.Now().UTC()}
}

// isActive runs systemctl is-active and interprets the reported state.
// Params: context bounding the invocation.
// Returns: active flag and human detail line.
func (p *ServiceProbe) isActive(ctx context.Context) (bool, string) {
	output, err := p.run(ctx, "systemctl", "is-active", p.unit)
	state := strings.TrimSpace(output)
	if state == "active" {
		return true, fmt.Sprintf("unit %s active", p.unit)
	}
	if err != nil && state == "" {
		return false, fmt.Sprintf("unit %s state query failed: %v", p.unit, err)
	}
	return false, fmt.Sprintf("unit %s %s", p.unit, state)
}

// runCommand executes command via exec with combined output capture.
// Params: context, command name, and arguments.
// Returns: trimmed combined output and execution error.
func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return strings.TrimSpace(string(output)), err
}
