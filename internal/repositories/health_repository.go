package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/shivaydv/vyomtics-sub001/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// DependencyProbe is executed by the readiness endpoint, e.g. a Firestore or Postgres ping.
type DependencyProbe struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ReadinessProber runs every probe concurrently and aggregates the results.
type ReadinessProber struct {
	probes []DependencyProbe
	now    func() time.Time
}

// NewReadinessProber validates the probe set.
func NewReadinessProber(probes []DependencyProbe, clock func() time.Time) (*ReadinessProber, error) {
	if len(probes) == 0 {
		return nil, errors.New("readiness: at least one probe is required")
	}
	for _, probe := range probes {
		if strings.TrimSpace(probe.Name) == "" {
			return nil, errors.New("readiness: probe name is required")
		}
		if probe.Check == nil {
			return nil, fmt.Errorf("readiness: probe %s has no check function", probe.Name)
		}
	}
	if clock == nil {
		clock = time.Now
	}
	out := make([]DependencyProbe, len(probes))
	copy(out, probes)
	return &ReadinessProber{probes: out, now: clock}, nil
}

// Collect runs all probes and reports the worst status.
func (p *ReadinessProber) Collect(ctx context.Context) domain.ReadinessReport {
	results := make(map[string]domain.DependencyHealth, len(p.probes))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, probe := range p.probes {
		wg.Add(1)
		go func(probe DependencyProbe) {
			defer wg.Done()

			timeout := probe.Timeout
			if timeout <= 0 {
				timeout = defaultProbeTimeout
			}
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := p.now()
			err := probe.Check(probeCtx)
			end := p.now()

			health := domain.DependencyHealth{
				Status:    domain.HealthStatusOK,
				Detail:    "ok",
				Latency:   end.Sub(start),
				CheckedAt: end,
			}
			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				health.Status = domain.HealthStatusError
				health.Detail = "cancelled"
			case errors.Is(err, context.DeadlineExceeded):
				health.Status = domain.HealthStatusError
				health.Detail = "timeout"
			default:
				health.Status = domain.HealthStatusDegraded
				health.Detail = err.Error()
			}

			mu.Lock()
			results[probe.Name] = health
			mu.Unlock()
		}(probe)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, result := range results {
		if result.Status == domain.HealthStatusError {
			status = domain.HealthStatusError
			break
		}
		if result.Status == domain.HealthStatusDegraded {
			status = domain.HealthStatusDegraded
		}
	}

	return domain.ReadinessReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: p.now().UTC(),
	}
}
