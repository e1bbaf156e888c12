package internal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/lychee-technology/formsync"
	"go.uber.org/zap"
)

// ValidateDatabaseConfig performs basic sanity checks on the relational source settings.
func ValidateDatabaseConfig(cfg formsync.DatabaseConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("database.port must be a valid TCP port")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}

// ValidateSearchConfig checks that every address parses and credentials come in pairs.
func ValidateSearchConfig(cfg formsync.SearchConfig) error {
	for _, addr := range cfg.Addresses {
		u, err := url.Parse(addr)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("search address %q is not a valid URL", addr)
		}
	}
	if cfg.Username != "" && cfg.Password == "" {
		return fmt.Errorf("search.username provided without search.password")
	}
	if cfg.Password != "" && cfg.Username == "" {
		return fmt.Errorf("search.password provided without search.username")
	}
	return nil
}

// Pinger is a dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type namedPinger struct {
	name string
	p    Pinger
}

// HealthChecker pings every registered dependency concurrently.
type HealthChecker struct {
	deps    []namedPinger
	timeout time.Duration
}

// NewHealthChecker creates a checker that bounds each ping by timeout (5s when zero).
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{timeout: timeout}
}

// Add registers a dependency under name.
func (h *HealthChecker) Add(name string, p Pinger) *HealthChecker {
	h.deps = append(h.deps, namedPinger{name: name, p: p})
	return h
}

// Check pings every dependency and reports per-dependency status.
func (h *HealthChecker) Check(ctx context.Context) formsync.HealthReport {
	report := formsync.HealthReport{Healthy: true, Dependencies: make([]formsync.DependencyStatus, len(h.deps))}

	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()

			start := time.Now()
			err := d.p.Ping(pingCtx)
			st := formsync.DependencyStatus{Name: d.name, Healthy: err == nil, Latency: time.Since(start).Round(time.Millisecond).String()}
			if err != nil {
				st.Error = err.Error()
			}
			report.Dependencies[i] = st
		}()
	}
	wg.Wait()

	for _, d := range report.Dependencies {
		if !d.Healthy {
			report.Healthy = false
			zap.S().Warnw("dependency unhealthy", "dependency", d.Name, "error", d.Error)
		}
	}
	return report
}
