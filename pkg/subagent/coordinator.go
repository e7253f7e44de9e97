package subagent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// Coordinator tracks subagent run records in memory
type Coordinator struct {
	runs   map[string]*RunRecord
	logger zerolog.Logger
	mu     sync.RWMutex

	// Event handlers
	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// NewCoordinator creates a new subagent coordinator
func NewCoordinator(logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		runs:          make(map[string]*RunRecord),
		logger:        logger.With().Str("component", "subagent_coordinator").Logger(),
		eventHandlers: make(map[string][]EventHandler),
	}
}

// RegisterRun registers a new pending run
func (c *Coordinator) RegisterRun(params RunParams) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate run ID: %w", err)
	}

	record := &RunRecord{
		ID:          id,
		ParentRunID: params.ParentRunID,
		RunID:       params.RunID,
		Role:        params.Role,
		Label:       params.Label,
		Task:        params.Task,
		Status:      StatusPending,
		StartedAt:   time.Now().UnixMilli(),
	}

	c.mu.Lock()
	c.runs[id] = record
	snapshot := *record
	c.mu.Unlock()

	c.logger.Debug().
		Str("id", id).
		Str("parent_run_id", params.ParentRunID).
		Str("role", params.Role).
		Str("label", params.Label).
		Msg("Run registered")

	c.emit(EventRunRegistered, snapshot)
	return id, nil
}

// MarkRunning moves a pending run to running
func (c *Coordinator) MarkRunning(id string) error {
	return c.update(id, StatusRunning, func(*RunRecord) {})
}

// Complete records the summary of a finished run
func (c *Coordinator) Complete(id, result string, rounds int) error {
	return c.update(id, StatusCompleted, func(r *RunRecord) {
		r.Result = result
		r.Rounds = rounds
	})
}

// Fail records the error of a failed run
func (c *Coordinator) Fail(id string, runErr error, rounds int) error {
	return c.update(id, StatusFailed, func(r *RunRecord) {
		if runErr != nil {
			r.Error = runErr.Error()
		}
		r.Rounds = rounds
	})
}

func (c *Coordinator) update(id string, status RunStatus, apply func(*RunRecord)) error {
	c.mu.Lock()
	record, ok := c.runs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("run not found: %s", id)
	}
	if !record.Status.canMoveTo(status) {
		from := record.Status
		c.mu.Unlock()
		return fmt.Errorf("run %s cannot move from %s to %s", id, from, status)
	}

	record.Status = status
	if status.IsTerminal() {
		now := time.Now().UnixMilli()
		record.CompletedAt = &now
	}
	apply(record)
	snapshot := *record
	c.mu.Unlock()

	c.logger.Debug().
		Str("id", id).
		Str("status", string(status)).
		Msg("Run status updated")

	c.emit(EventRunUpdated, snapshot)
	return nil
}

// GetRun returns a copy of a run record
func (c *Coordinator) GetRun(id string) (RunRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	record, ok := c.runs[id]
	if !ok {
		return RunRecord{}, false
	}
	return *record, true
}

// ListChildren returns the runs spawned by a parent run, oldest first
func (c *Coordinator) ListChildren(parentRunID string) []RunRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	children := []RunRecord{}
	for _, record := range c.runs {
		if record.ParentRunID == parentRunID {
			children = append(children, *record)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		if children[i].StartedAt != children[j].StartedAt {
			return children[i].StartedAt < children[j].StartedAt
		}
		return children[i].ID < children[j].ID
	})
	return children
}

// Cleanup removes terminal runs older than retention
func (c *Coordinator) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-retention).UnixMilli()
	removed := 0
	for id, record := range c.runs {
		if !record.Status.IsTerminal() {
			continue
		}
		if record.CompletedAt != nil && *record.CompletedAt < cutoff {
			delete(c.runs, id)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("Cleanup completed")
	}
	return removed
}

// GetStats returns coordinator statistics
func (c *Coordinator) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{TotalRuns: len(c.runs)}
	for _, record := range c.runs {
		switch record.Status {
		case StatusPending, StatusRunning:
			stats.ActiveRuns++
		case StatusCompleted:
			stats.CompletedRuns++
		case StatusFailed:
			stats.FailedRuns++
		}
	}
	return stats
}

// On registers an event handler
func (c *Coordinator) On(eventType string, handler EventHandler) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

// Off removes all handlers for an event type
func (c *Coordinator) Off(eventType string) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()

	delete(c.eventHandlers, eventType)
}

func (c *Coordinator) emit(eventType string, record RunRecord) {
	c.eventMu.RLock()
	handlers := c.eventHandlers[eventType]
	c.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(record)
	}
}
