package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conductor-go/conductor/internal/registry"
)

// echoWorker returns the built-in worker used for agents without a real
// binding. It completes with the task's payload as output, after honoring
// two optional payload keys:
//
//	sleep: a duration string, simulated work time
//	fail_times: an integer, fail that many attempts before succeeding
//
// The fail_times counter is per task, so retried tasks eventually succeed.
func echoWorker() registry.Worker {
	var mu sync.Mutex
	attempts := make(map[string]int)

	return registry.WorkerFunc(func(ctx context.Context, inv registry.Invocation) (any, error) {
		if raw, ok := inv.Payload["sleep"]; ok {
			dur, err := time.ParseDuration(fmt.Sprint(raw))
			if err != nil {
				return nil, fmt.Errorf("invalid sleep payload %q: %w", raw, err)
			}
			select {
			case <-time.After(dur):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if raw, ok := inv.Payload["fail_times"]; ok {
			var failTimes int
			if _, err := fmt.Sscanf(fmt.Sprint(raw), "%d", &failTimes); err != nil {
				return nil, fmt.Errorf("invalid fail_times payload %q: %w", raw, err)
			}
			mu.Lock()
			attempts[inv.TaskID]++
			attempt := attempts[inv.TaskID]
			mu.Unlock()
			if attempt <= failTimes {
				return nil, fmt.Errorf("simulated failure %d of %d", attempt, failTimes)
			}
		}

		return inv.Payload, nil
	})
}
