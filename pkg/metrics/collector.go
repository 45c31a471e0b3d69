package metrics

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// Collector samples task counts from the store into gauges
type Collector struct {
	store  store.Store
	stopCh chan struct{}
}

// NewCollector creates a metrics collector
func NewCollector(s store.Store) *Collector {
	return &Collector{
		store:  s,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasks, err := c.store.ListTasks(ctx)
	if err != nil {
		return
	}

	counts := map[types.TaskStatus]int{
		types.TaskStatusPending:    0,
		types.TaskStatusInProgress: 0,
		types.TaskStatusBlocked:    0,
		types.TaskStatusCompleted:  0,
		types.TaskStatusArchived:   0,
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for status, n := range counts {
		TasksTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
