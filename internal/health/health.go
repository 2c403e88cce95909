package health

import (
	"context"
	"fmt"
	"time"
)

// perCheckTimeout bounds one probe so a hung service cannot stall the report.
const perCheckTimeout = 5 * time.Second

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Probe is one named dependency check.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Credential is satisfied by iam.Authenticator.
type Credential interface {
	Service() string
	Ready(ctx context.Context) error
}

// TokenProbe checks that a service's API key can be exchanged for a token.
func TokenProbe(c Credential) Probe {
	return Probe{Name: c.Service() + "_iam", Check: c.Ready}
}

// CheckAll runs the probes in order and returns the combined status.
func CheckAll(ctx context.Context, probes ...Probe) HealthStatus {
	checks := make([]CheckResult, 0, len(probes))
	allOK := true
	for _, p := range probes {
		c := run(ctx, p)
		if !c.OK {
			allOK = false
		}
		checks = append(checks, c)
	}
	return HealthStatus{
		OK:        allOK,
		Checks:    checks,
		CheckedAt: time.Now().UTC(),
	}
}

func run(ctx context.Context, p Probe) CheckResult {
	start := time.Now()
	result := CheckResult{Name: p.Name}
	cctx, cancel := context.WithTimeout(ctx, perCheckTimeout)
	defer cancel()
	if err := p.Check(cctx); err != nil {
		result.Error = err.Error()
	} else {
		result.OK = true
	}
	result.Latency = time.Since(start)
	return result
}
