package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeready-toolchain/remedy/pkg/config"
	"github.com/codeready-toolchain/remedy/pkg/metrics"
)

// WorkerPool manages the session workers and orphan recovery.
type WorkerPool struct {
	instanceID string
	store      *Store
	config     *config.DispatchConfig
	executor   SessionExecutor
	workers    []*Worker
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	paused     atomic.Bool

	// Session cancel registry: session_id → cancel function
	activeSessions map[string]context.CancelFunc
	mu             sync.RWMutex
	started        bool

	// Orphan recovery state
	orphanMu        sync.Mutex
	lastOrphanScan  time.Time
	orphansRequeued int
}

// NewWorkerPool creates a new worker pool. Worker count tracks the
// concurrency limit so every permitted session has a worker.
func NewWorkerPool(instanceID string, store *Store, cfg *config.DispatchConfig, executor SessionExecutor) *WorkerPool {
	return &WorkerPool{
		instanceID:     instanceID,
		store:          store,
		config:         cfg,
		executor:       executor,
		workers:        make([]*Worker, 0, cfg.MaxConcurrentFixes),
		stopCh:         make(chan struct{}),
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// Start recovers sessions from a previous run, spawns the workers, and
// begins orphan scanning. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	recovered, err := p.store.RequeueClaimedBy(ctx, p.instanceID)
	if err != nil {
		return fmt.Errorf("startup session recovery failed: %w", err)
	}
	if recovered > 0 {
		slog.Warn("Requeued sessions from previous run", "count", recovered)
	}

	slog.Info("Starting worker pool", "instance_id", p.instanceID, "worker_count", p.config.MaxConcurrentFixes)
	for i := 0; i < p.config.MaxConcurrentFixes; i++ {
		workerID := fmt.Sprintf("%s-worker-%d", p.instanceID, i)
		worker := NewWorker(workerID, p.store, p.config, p.executor, p)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()

	slog.Info("Worker pool started")
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current sessions.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully")

	active := p.activeSessionIDs()
	if len(active) > 0 {
		slog.Info("Waiting for active sessions to complete",
			"count", len(active), "session_ids", active)
	}

	for _, worker := range p.workers {
		worker.Stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("Worker pool stopped gracefully")
}

// Pause stops claiming new sessions. In-flight sessions keep running.
func (p *WorkerPool) Pause() {
	p.paused.Store(true)
	slog.Info("Session intake paused")
}

// Resume lets workers claim sessions again.
func (p *WorkerPool) Resume() {
	p.paused.Store(false)
	slog.Info("Session intake resumed")
}

// IsPaused reports whether intake is paused.
func (p *WorkerPool) IsPaused() bool {
	return p.paused.Load()
}

// RegisterSession stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[sessionID] = cancel
}

// UnregisterSession removes the cancel function when processing ends.
func (p *WorkerPool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, sessionID)
}

// CancelSession triggers context cancellation for an in-flight session.
// Returns true if the session was found and cancelled.
func (p *WorkerPool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeSessions[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx := context.Background()

	queueDepth, errQ := p.store.QueueDepth(ctx)
	if errQ != nil {
		slog.Error("Failed to query queue depth for health check", "error", errQ)
	}
	activeSessions, errA := p.store.CountActive(ctx)
	if errA != nil {
		slog.Error("Failed to query active sessions for health check", "error", errA)
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	dbHealthy := errQ == nil && errA == nil
	isHealthy := len(p.workers) > 0 && activeSessions <= p.config.MaxConcurrentFixes && dbHealthy

	var dbError string
	if errQ != nil {
		dbError = fmt.Sprintf("queue depth query failed: %v", errQ)
	} else if errA != nil {
		dbError = fmt.Sprintf("active sessions query failed: %v", errA)
	}

	p.orphanMu.Lock()
	lastScan := p.lastOrphanScan
	requeued := p.orphansRequeued
	p.orphanMu.Unlock()

	metrics.QueueDepth.Set(float64(queueDepth))
	metrics.ActiveSessions.Set(float64(activeSessions))

	return &PoolHealth{
		IsHealthy:       isHealthy,
		DBReachable:     dbHealthy,
		DBError:         dbError,
		Paused:          p.IsPaused(),
		ActiveWorkers:   activeWorkers,
		TotalWorkers:    len(p.workers),
		ActiveSessions:  activeSessions,
		MaxConcurrent:   p.config.MaxConcurrentFixes,
		QueueDepth:      queueDepth,
		WorkerStats:     workerStats,
		LastOrphanScan:  lastScan,
		OrphansRequeued: requeued,
	}
}

// runOrphanScan periodically requeues sessions with stale heartbeats.
func (p *WorkerPool) runOrphanScan(ctx context.Context) {
	ticker := time.NewTicker(p.config.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			recovered, err := p.store.RequeueOrphans(ctx, p.config.OrphanThreshold)
			if err != nil {
				slog.Error("Orphan scan failed", "error", err)
				continue
			}
			p.orphanMu.Lock()
			p.lastOrphanScan = time.Now()
			p.orphansRequeued += recovered
			p.orphanMu.Unlock()
		}
	}
}

// activeSessionIDs returns IDs of currently processing sessions.
func (p *WorkerPool) activeSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sessions := make([]string, 0, len(p.activeSessions))
	for id := range p.activeSessions {
		sessions = append(sessions, id)
	}
	return sessions
}
