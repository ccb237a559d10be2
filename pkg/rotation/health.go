package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/meridianhq/rotatord/internal/rotation/health"
)

// buildHealthChecker selects the health.HealthChecker implementation
// named by cfg.Type and wires it to whatever backend the engine was given
// for that type (a *sql.DB for "query", a registered health.ProbeFunc for
// "function"). A secret with no health check configured gets no checker at
// all — RotateNow treats that as an automatic pass.
func (e *Engine) buildHealthChecker(secretID string, cfg *HealthCheckConfig) (health.HealthChecker, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Type {
	case "http":
		httpCfg := health.DefaultHTTPHealthConfig()
		if cfg.TimeoutMs > 0 {
			httpCfg.Timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		return health.NewHTTPHealthChecker(secretID, httpCfg), nil

	case "query":
		if e.queryDB == nil {
			return nil, fmt.Errorf("secret %s declares a query health check but no query database was configured (WithQueryDB)", secretID)
		}
		sqlCfg := health.DefaultSQLHealthConfig()
		if cfg.TimeoutMs > 0 {
			sqlCfg.QueryLatencyThreshold = time.Duration(cfg.TimeoutMs) * time.Millisecond
		}
		checker := health.NewSQLHealthChecker(secretID, sqlCfg)
		checker.SetDBConn(e.queryDB)
		return checker, nil

	case "function":
		checker, ok := e.healthFunctions.Lookup(cfg.FunctionName)
		if !ok {
			return nil, fmt.Errorf("secret %s declares health check function %q, which was never registered with WithHealthFunction", secretID, cfg.FunctionName)
		}
		return checker, nil

	default:
		return nil, fmt.Errorf("unknown health check type %q", cfg.Type)
	}
}

// runHealthCheck runs the configured check (if any) for a just-rotated
// secret and returns the full aggregated result — every attempt made, the
// worst status across them, and the total wall time — plus whether that
// result passes: any aggregated status other than unhealthy passes, so a
// degraded result commits. A nil result means no health check was
// configured; callers treat that as an automatic pass.
func (e *Engine) runHealthCheck(ctx context.Context, secretID string, cfg SecretConfig) (*HealthCheckResult, bool) {
	if cfg.HealthCheck == nil {
		return nil, true
	}

	checker, err := e.buildHealthChecker(secretID, cfg.HealthCheck)
	if err != nil {
		now := time.Now()
		return &HealthCheckResult{
			Checks: []HealthCheckAttempt{{
				Status:  health.StatusUnhealthy.String(),
				Message: err.Error(),
				At:      now,
			}},
			Status:    health.StatusUnhealthy.String(),
			CheckedAt: now,
		}, false
	}

	svc := health.ServiceConfig{
		Name:     secretID,
		Endpoint: cfg.HealthCheck.Endpoint,
		Config: map[string]interface{}{
			"query": cfg.HealthCheck.Query,
		},
	}

	attempts := cfg.HealthCheck.Retries + 1
	delay := time.Duration(cfg.HealthCheck.RetryDelayMs) * time.Millisecond

	timeout := time.Duration(cfg.HealthCheck.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout*time.Duration(attempts))
	defer cancel()

	checkedAt := time.Now()
	run := health.NewRunner().Run(checkCtx, checker, svc, attempts, delay)

	checks := make([]HealthCheckAttempt, 0, len(run.Attempts))
	for _, a := range run.Attempts {
		checks = append(checks, HealthCheckAttempt{
			Status:    a.Status.String(),
			Message:   a.Message,
			LatencyMs: a.Duration.Milliseconds(),
			At:        a.Timestamp,
		})
	}

	return &HealthCheckResult{
		Checks:         checks,
		Status:         run.Status.String(),
		TotalLatencyMs: run.TotalLatency.Milliseconds(),
		CheckedAt:      checkedAt,
	}, run.Status != health.StatusUnhealthy
}
