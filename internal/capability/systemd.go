package capability

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Systemd implements UnitRunner via systemctl. Protection jobs are
// oneshot units; the orchestrator starts them without blocking and polls
// for the terminal state.
type Systemd struct {
	logger zerolog.Logger
}

// NewSystemd creates a systemd unit runner
func NewSystemd(logger zerolog.Logger) *Systemd {
	return &Systemd{
		logger: logger.With().Str("component", "systemd").Logger(),
	}
}

// ListUnits returns unit names matching the glob pattern
func (s *Systemd) ListUnits(ctx context.Context, pattern string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "list-units", "--all",
		"--type", "service", "--plain", "--no-legend", "--output", "short", pattern)
	outputBytes, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("systemctl list-units %s failed: %w", pattern, err)
	}

	var units []string
	for _, line := range strings.Split(strings.TrimSpace(string(outputBytes)), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		units = append(units, strings.TrimSuffix(fields[0], ".service"))
	}
	return units, nil
}

// IsActive reports whether the unit is currently running. systemctl
// is-active exits non-zero for every state other than active, so a
// non-zero exit is a state, not an error.
func (s *Systemd) IsActive(ctx context.Context, unit string) (bool, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "is-active", "--quiet", unit+".service")
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return false, nil
	}
	return false, fmt.Errorf("systemctl is-active %s failed: %w", unit, err)
}

// Start starts the unit without waiting for it to finish
func (s *Systemd) Start(ctx context.Context, unit string) error {
	s.logger.Info().
		Str("unit", unit).
		Msg("Starting unit")

	cmd := exec.CommandContext(ctx, "systemctl", "start", "--no-block", unit+".service")
	if outputBytes, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl start %s failed: %w (output: %s)", unit, err, strings.TrimSpace(string(outputBytes)))
	}
	return nil
}

// Stop force-stops a running unit (best effort)
func (s *Systemd) Stop(ctx context.Context, unit string) error {
	s.logger.Warn().
		Str("unit", unit).
		Msg("Stopping unit")

	cmd := exec.CommandContext(ctx, "systemctl", "stop", unit+".service")
	if outputBytes, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("systemctl stop %s failed: %w (output: %s)", unit, err, strings.TrimSpace(string(outputBytes)))
	}
	return nil
}

// Show reads unit properties as key value pairs
func (s *Systemd) Show(ctx context.Context, unit string, properties ...string) (map[string]string, error) {
	args := []string{"show", unit + ".service"}
	for _, property := range properties {
		args = append(args, "--property", property)
	}

	cmd := exec.CommandContext(ctx, "systemctl", args...)
	outputBytes, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("systemctl show %s failed: %w", unit, err)
	}

	props := make(map[string]string, len(properties))
	for _, line := range strings.Split(strings.TrimSpace(string(outputBytes)), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[key] = value
	}
	return props, nil
}

// Result reads the unit's last run result property. "success" means the
// unit exited cleanly; anything else is the systemd failure reason
// (exit-code, timeout, signal, ...).
func (s *Systemd) Result(ctx context.Context, unit string) (string, error) {
	cmd := exec.CommandContext(ctx, "systemctl", "show", "--property", "Result", "--value", unit+".service")
	outputBytes, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("systemctl show %s failed: %w", unit, err)
	}
	return strings.TrimSpace(string(outputBytes)), nil
}
