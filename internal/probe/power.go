package probe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"sentinel/internal/domain"
)

// PowerProbe checks mains power state from one sysfs supply file.
// Params: path like /sys/class/power_supply/AC/online.
// Returns: probe reporting online flag of the supply.
type PowerProbe struct {
	supply string
}

// NewPowerProbe creates power supply probe.
// Params: sysfs online-file path.
// Returns: initialized probe.
func NewPowerProbe(supply string) *PowerProbe {
	return &PowerProbe{supply: supply}
}

// Kind returns probe kind name.
// Params: none.
// Returns: "power".
func (p *PowerProbe) Kind() string {
	return "power"
}

// Check reads the supply file and interprets the online flag.
// Params: context (sysfs reads do not block meaningfully).
// Returns: ok outcome when supply reports online.
func (p *PowerProbe) Check(ctx context.Context) domain.Outcome {
	now := time.Now().UTC()
	if err := ctx.Err(); err != nil {
		return domain.Outcome{OK: false, Detail: fmt.Sprintf("read %s: %v", p.supply, err), Timestamp: now}
	}
	raw, err := os.ReadFile(p.supply)
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("read %s: %v", p.supply, err),
			Timestamp: now,
		}
	}
	value := strings.TrimSpace(string(raw))
	if value == "1" {
		return domain.Outcome{OK: true, Detail: "supply online", Timestamp: now}
	}
	return domain.Outcome{
		OK:        false,
		Detail:    fmt.Sprintf("supply offline (online=%s)", value),
		Timestamp: now,
	}
}
