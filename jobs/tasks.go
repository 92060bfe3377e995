package jobs

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/hibiken/asynq"

	"github.com/mind-edu/mind-insights/internal/dashboard"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheWarmup loads every dashboard page so the query cache is hot.
	TaskCacheWarmup = "insights:cache_warmup"
)

// WarmupPayload selects the time windows to warm. Empty means the default
// window of the filter bar.
type WarmupPayload struct {
	Ranges []string `json:"ranges,omitempty"`
}

func (p WarmupPayload) ranges() ([]string, error) {
	if len(p.Ranges) == 0 {
		return []string{dashboard.DefaultRange}, nil
	}
	for _, r := range p.Ranges {
		if !slices.Contains(dashboard.Ranges, r) {
			return nil, fmt.Errorf("jobs: unknown range %q", r)
		}
	}
	return p.Ranges, nil
}

// NewWarmupTask constructs a cache warm-up task.
func NewWarmupTask(payload WarmupPayload) (*asynq.Task, error) {
	if _, err := payload.ranges(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheWarmup, data), nil
}
