package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scontrino/internal/storage"
)

// JobProcessorConfig holds configuration for the periodic rule job.
type JobProcessorConfig struct {
	// PollInterval is how often to sweep users with uncategorized items
	// (default: 15m)
	PollInterval time.Duration
}

// DefaultJobProcessorConfig returns sensible defaults
func DefaultJobProcessorConfig() JobProcessorConfig {
	return JobProcessorConfig{
		PollInterval: 15 * time.Minute,
	}
}

// JobProcessor periodically runs the rule-based categorization job for
// every user who still has uncategorized canonical items. Since the job is
// idempotent, a sweep that finds nothing new writes nothing.
type JobProcessor struct {
	store       storage.Store
	categorizer *Categorizer
	config      JobProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewJobProcessor(store storage.Store, categorizer *Categorizer, config JobProcessorConfig) *JobProcessor {
	return &JobProcessor{
		store:       store,
		categorizer: categorizer,
		config:      config,
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *JobProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("job processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Job processor started",
		"poll_interval", p.config.PollInterval)
	return nil
}

// Stop gracefully stops the processor and waits for the loop to exit.
func (p *JobProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	close(p.stopCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	slog.InfoContext(ctx, "Job processor stopped")
	return nil
}

// IsRunning reports whether the sweep loop is active.
func (p *JobProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *JobProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// Sweep runs the rule job once for every user with pending items.
func (p *JobProcessor) Sweep(ctx context.Context) {
	p.sweep(ctx)
}

func (p *JobProcessor) sweep(ctx context.Context) {
	users, err := p.store.ListUsersWithUncategorized(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list users for rule job", "error", err)
		return
	}

	for _, user := range users {
		stats, err := p.categorizer.RunCategorizationJob(ctx, user)
		if err != nil {
			slog.ErrorContext(ctx, "Rule job failed",
				"user_id", user,
				"error", err)
			continue
		}
		if stats.Categorized > 0 {
			slog.InfoContext(ctx, "Rule job sweep categorized items",
				"user_id", user,
				"categorized", stats.Categorized)
		}
	}
}
