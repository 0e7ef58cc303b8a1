// Package runqueue consumes workflow run requests from a Redis list. Peers
// push a JSON run request; loom-runner pops it and starts the execution.
package runqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom/pkg/models"
)

const (
	// DefaultQueue is the Redis list run requests are pushed to.
	DefaultQueue = "loom:run-requests"

	popTimeout   = 1 * time.Second
	retryBackoff = 1 * time.Second
)

// RunRequest is the wire form of one queued run. ExecutionID may be empty;
// the starter then assigns one, which makes redelivered requests non-idempotent,
// so producers that retry should set it.
type RunRequest struct {
	ExecutionID string               `json:"execution_id,omitempty"`
	WorkflowID  string               `json:"workflow_id"            validate:"required"`
	Type        models.ExecutionType `json:"type,omitempty"`
	TriggerData map[string]any       `json:"trigger_data,omitempty"`
}

// Callback handles one popped run request.
type Callback func(ctx context.Context, req RunRequest) error

// Receiver polls the run-request queue. One receiver per runner process.
type Receiver struct {
	queue    string
	client   redis.UniversalClient
	callback Callback
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewReceiver connects to Redis using a redis:// URL. An empty queue name
// falls back to DefaultQueue.
func NewReceiver(ctx context.Context, redisURL, queue string, logger *slog.Logger) (*Receiver, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Receiver{
		queue:  queue,
		client: client,
		stopCh: make(chan struct{}),
		logger: logger.With("module", "runqueue_receiver", "queue", queue),
	}, nil
}

func (r *Receiver) Start(ctx context.Context, callback Callback) error {
	r.logger.InfoContext(ctx, "Starting run-request receiver")
	r.callback = callback

	r.wg.Add(1)

	go r.consume(ctx)

	return nil
}

func (r *Receiver) consume(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-r.stopCh:
			r.logger.InfoContext(ctx, "Run-request receiver stopped")

			return
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "Context cancelled, stopping run-request receiver")

			return
		default:
			if err := r.processMessage(ctx); err != nil {
				r.logger.ErrorContext(ctx, "Error processing run request", "error", err)
				time.Sleep(retryBackoff)
			}
		}
	}
}

func (r *Receiver) processMessage(ctx context.Context) error {
	result, err := r.client.BLPop(ctx, popTimeout, r.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop run request: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var req RunRequest
	if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
		return fmt.Errorf("malformed run request: %w", err)
	}

	if req.WorkflowID == "" {
		return errors.New("run request missing workflow_id")
	}

	if req.Type == "" {
		req.Type = models.ExecutionTypeProduction
	}

	r.logger.InfoContext(ctx, "Received run request",
		"workflow_id", req.WorkflowID, "execution_id", req.ExecutionID)

	go func() {
		if err := r.callback(ctx, req); err != nil {
			r.logger.ErrorContext(ctx, "Error starting execution for run request",
				"workflow_id", req.WorkflowID, "error", err)
		}
	}()

	return nil
}

// Enqueue pushes a run request onto the queue. Used by the API process to
// hand production runs to the runner fleet.
func Enqueue(ctx context.Context, client redis.UniversalClient, queue string, req RunRequest) error {
	if queue == "" {
		queue = DefaultQueue
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode run request: %w", err)
	}

	return client.RPush(ctx, queue, payload).Err()
}

func (r *Receiver) Stop(ctx context.Context) error {
	r.logger.InfoContext(ctx, "Stopping run-request receiver")

	close(r.stopCh)
	r.wg.Wait()

	if err := r.client.Close(); err != nil {
		r.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
	}

	return nil
}
