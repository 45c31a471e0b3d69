package deadlock

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/inbox"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// Report summarizes one deadlock sweep
type Report struct {
	DeadlocksDetected int      `json:"deadlocks_detected"`
	NotificationsSent int      `json:"notifications_sent"`
	DeadlockedTaskIDs []string `json:"deadlocked_task_ids"`
	Cycles            []Cycle  `json:"cycles"`
}

// Sweeper enumerates blocked tasks, detects wait-for cycles, and alerts the
// agents caught in them. Cycle normalization is the dedup key, so a cycle
// entered from any of its members produces one alert per participating
// agent, all sharing a deterministic thread id.
type Sweeper struct {
	store  store.Store
	bus    *inbox.Bus
	broker *events.Broker
	logger zerolog.Logger
}

// NewSweeper creates a deadlock sweeper
func NewSweeper(s store.Store, bus *inbox.Bus, broker *events.Broker, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:  s,
		bus:    bus,
		broker: broker,
		logger: logger.With().Str("component", "deadlock").Logger(),
	}
}

// Sweep runs one detection pass and delivers notifications. Notification
// failures are logged and do not abort the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	blocked, err := s.store.ListBlocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list blocked tasks: %w", err)
	}

	byID := make(map[string]*types.Task, len(blocked))
	for _, t := range blocked {
		byID[t.ID] = t
	}

	cycles := FindAll(blocked)
	report := &Report{Cycles: cycles, DeadlocksDetected: len(cycles)}

	seenTask := make(map[string]bool)
	for _, cycle := range cycles {
		s.broker.Publish(&events.Event{
			ID:      cycle.ThreadID(),
			Type:    events.EventDeadlockDetected,
			Message: fmt.Sprintf("Deadlock among %d tasks", len(cycle.TaskIDs)),
			Metadata: map[string]string{
				"thread_id": cycle.ThreadID(),
				"task_ids":  strings.Join(cycle.TaskIDs, ","),
			},
		})
		agents := make(map[string]bool)
		for _, taskID := range cycle.TaskIDs {
			if !seenTask[taskID] {
				seenTask[taskID] = true
				report.DeadlockedTaskIDs = append(report.DeadlockedTaskIDs, taskID)
			}
			if t, ok := byID[taskID]; ok {
				agents[t.AgentID] = true
			}
		}
		for agentID := range agents {
			if err := s.notify(ctx, agentID, cycle, byID); err != nil {
				s.logger.Error().Err(err).
					Str("agent_id", agentID).
					Str("thread_id", cycle.ThreadID()).
					Msg("Deadlock notification failed")
				continue
			}
			report.NotificationsSent++
		}
	}

	if report.DeadlocksDetected > 0 {
		s.logger.Warn().
			Int("deadlocks", report.DeadlocksDetected).
			Int("notifications", report.NotificationsSent).
			Strs("task_ids", report.DeadlockedTaskIDs).
			Msg("Deadlock sweep found cycles")
	} else {
		s.logger.Debug().Int("blocked", len(blocked)).Msg("Deadlock sweep clean")
	}
	return report, nil
}

func (s *Sweeper) notify(ctx context.Context, agentID string, cycle Cycle, byID map[string]*types.Task) error {
	var lines []string
	for _, taskID := range cycle.TaskIDs {
		if t, ok := byID[taskID]; ok {
			lines = append(lines, fmt.Sprintf("%s (%s, owned by %s) waits on %s", t.ID, t.Title, t.AgentID, strings.Join(t.BlockedBy, ", ")))
		} else {
			lines = append(lines, taskID)
		}
	}

	msg, err := s.bus.Send(ctx, inbox.SendInput{
		From:           "system",
		To:             agentID,
		Kind:           inbox.KindDeadlock,
		Priority:       types.MessagePriorityUrgent,
		Subject:        fmt.Sprintf("Deadlock detected among %d tasks", len(cycle.TaskIDs)),
		ThreadID:       cycle.ThreadID(),
		ActionRequired: true,
		Instructions: "The following tasks block each other in a cycle and none can proceed. " +
			"Clear the blocked_by set of at least one task to break the cycle.\n\n- " +
			strings.Join(lines, "\n- "),
	})
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("deadlock alert to %s suppressed unexpectedly", agentID)
	}
	return nil
}
