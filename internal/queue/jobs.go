// Package queue defines the background jobs that finalize staged batch
// uploads and the asynq client that enqueues them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// PromoteBatchTask moves the staged objects of a committed batch to their
	// final paths.
	PromoteBatchTask = "batch:promote"
	// PurgeBatchTask deletes the staged objects of a rolled back batch.
	PurgeBatchTask = "batch:purge"
)

// BatchPayload is serialized into the task payload so the worker knows which
// batch and bucket to finalize.
type BatchPayload struct {
	Token   string `json:"token"`
	Bucket  string `json:"bucket"`
	Org     string `json:"org"`
	Dataset string `json:"dataset"`
}

// Decode parses a task payload.
func Decode(data []byte) (BatchPayload, error) {
	var p BatchPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return BatchPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if p.Token == "" || p.Bucket == "" {
		return BatchPayload{}, fmt.Errorf("decode payload: token and bucket are required")
	}
	return p, nil
}

// NewTask builds the asynq task for kind. The task id is derived from the
// batch token so a retried dispatch does not enqueue the job twice.
func NewTask(kind string, payload BatchPayload) (*asynq.Task, []asynq.Option, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{
		asynq.MaxRetry(5),
		asynq.TaskID(kind + ":" + payload.Token),
	}
	return asynq.NewTask(kind, data), opts, nil
}

// Client enqueues finalization jobs on Redis.
type Client struct {
	client *asynq.Client
}

// NewClient wraps an asynq client.
func NewClient(client *asynq.Client) *Client {
	return &Client{client: client}
}

func (c *Client) enqueue(ctx context.Context, kind string, payload BatchPayload) error {
	task, opts, err := NewTask(kind, payload)
	if err != nil {
		return err
	}
	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue %s task: %w", kind, err)
	}
	return nil
}

// Promote enqueues a PromoteBatchTask.
func (c *Client) Promote(ctx context.Context, payload BatchPayload) error {
	return c.enqueue(ctx, PromoteBatchTask, payload)
}

// Purge enqueues a PurgeBatchTask.
func (c *Client) Purge(ctx context.Context, payload BatchPayload) error {
	return c.enqueue(ctx, PurgeBatchTask, payload)
}
