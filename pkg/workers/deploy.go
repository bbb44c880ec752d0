package workers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/safety"
)

// healthPollInterval is the pause between health probe attempts.
const healthPollInterval = 3 * time.Second

// DeployWorker rebuilds and restarts the app container, then waits for
// it to report healthy. One deploy runs at a time.
type DeployWorker struct {
	runner commandRunner
	cfg    *config.DeployConfig
	rate   *safety.RateLimiter
	client *http.Client

	mu sync.Mutex
}

// NewDeployWorker builds a deploy worker over the shared runner.
func NewDeployWorker(runner *Runner, cfg *config.DeployConfig, rate *safety.RateLimiter) *DeployWorker {
	return &DeployWorker{
		runner: runner,
		cfg:    cfg,
		rate:   rate,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Deploy rebuilds the service and waits for the health endpoint. The
// mutex serializes concurrent sessions reaching the deploy stage.
func (d *DeployWorker) Deploy(ctx context.Context) (*WorkerResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.rate.Check(config.OpDeploy) {
		return failure("deploy rate limit reached, retry in %s", d.rate.WaitTime(config.OpDeploy)), nil
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	res, err := d.runner.Run(ctx, "docker", "compose", "-f", d.cfg.ComposePath,
		"build", d.cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("container build failed: %s", tail(res.Output(), 2000)), nil
	}

	res, err = d.runner.Run(ctx, "docker", "compose", "-f", d.cfg.ComposePath,
		"up", "-d", d.cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("container start failed: %s", tail(res.Output(), 2000)), nil
	}

	d.rate.Record(config.OpDeploy)

	if err := d.waitHealthy(ctx); err != nil {
		return failure("deployed but health check failed: %v", err), nil
	}
	slog.Info("Deploy healthy", "service", d.cfg.ServiceName)
	return success("deployed %s and health check passed", d.cfg.ServiceName), nil
}

// Rollback rebuilds and restarts the service from whatever the working
// copy now holds. Callers restore the default branch first, so this
// redeploys the last known-good code. Rollbacks skip the rate limiter;
// refusing one would leave a broken build running.
func (d *DeployWorker) Rollback(ctx context.Context) (*WorkerResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	res, err := d.runner.Run(ctx, "docker", "compose", "-f", d.cfg.ComposePath,
		"build", d.cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("rollback build failed: %s", tail(res.Output(), 2000)), nil
	}

	res, err = d.runner.Run(ctx, "docker", "compose", "-f", d.cfg.ComposePath,
		"up", "-d", d.cfg.ServiceName)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return failure("rollback start failed: %s", tail(res.Output(), 2000)), nil
	}

	if err := d.waitHealthy(ctx); err != nil {
		return failure("rolled back but health check failed: %v", err), nil
	}
	slog.Info("Rollback deploy healthy", "service", d.cfg.ServiceName)
	return success("rolled back %s to previous build", d.cfg.ServiceName), nil
}

// waitHealthy polls the health endpoint until it answers 200 or the
// health budget runs out.
func (d *DeployWorker) waitHealthy(ctx context.Context) error {
	deadline := time.Now().Add(d.cfg.HealthTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.HealthURL, nil)
		if err != nil {
			return err
		}
		resp, err := d.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("health endpoint answered %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
	return fmt.Errorf("service not healthy after %s: %w", d.cfg.HealthTimeout, lastErr)
}
