package config

import "time"

// DispatchConfig contains queue and session worker configuration.
type DispatchConfig struct {
	// MaxConcurrentFixes is the number of sessions processed in parallel.
	MaxConcurrentFixes int `yaml:"max_concurrent_fixes"`

	// MaxFixRetries bounds both strategize→test cycles and CI repair
	// iterations per session.
	MaxFixRetries int `yaml:"max_fix_retries"`

	// PollInterval is the base interval for checking queued sessions.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter randomizes polling so workers do not stampede.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// FixTimeout is the maximum wall-clock time for one session.
	FixTimeout time.Duration `yaml:"fix_timeout"`

	// StallBackoff delays re-claiming a session parked by a budget or
	// rate-limit stall.
	StallBackoff time.Duration `yaml:"stall_backoff"`

	// GracefulShutdownTimeout is the max wait for active sessions on
	// shutdown. Should match FixTimeout.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often workers refresh their claim.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// OrphanThreshold is how long a claimed session can go without a
	// heartbeat before it is requeued.
	OrphanThreshold time.Duration `yaml:"orphan_threshold"`

	// OrphanScanInterval is how often to scan for orphaned sessions.
	OrphanScanInterval time.Duration `yaml:"orphan_scan_interval"`
}

// DefaultDispatchConfig returns the built-in dispatch defaults.
func DefaultDispatchConfig() *DispatchConfig {
	return &DispatchConfig{
		MaxConcurrentFixes:      3,
		MaxFixRetries:           3,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		FixTimeout:              30 * time.Minute,
		StallBackoff:            5 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Minute,
		HeartbeatInterval:       15 * time.Second,
		OrphanThreshold:         5 * time.Minute,
		OrphanScanInterval:      5 * time.Minute,
	}
}
