// Package queue drains a Redis-backed job list for asynchronous
// /verify?async=true requests, and runs a retry monitor for requests
// the orchestrator classified Retryable (spec.md SPEC_FULL.md
// "Supplemented features").
//
// Grounded directly on the teacher's main.go: BRPOP off a list queue,
// a ZSET retry queue keyed by a future Unix timestamp, and a ticker
// goroutine that re-enqueues anything whose score has elapsed.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/devyanshu/emailprobe/internal/orchestrator"
)

const (
	mainQueue  = "verify_queue"
	retryQueue = "verify_retry_queue"
	statusTTL  = 24 * time.Hour
)

// Job is one asynchronous verification request.
type Job struct {
	JobID   string               `json:"jobId"`
	Request orchestrator.Request `json:"request"`
}

// JobState is the lifecycle stage of an asynchronous verification job,
// reported by GET /jobs/{id}.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRetrying  JobState = "retrying"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus is what GET /jobs/{id} returns while a job is in flight or
// once it settles.
type JobStatus struct {
	JobID  string                 `json:"jobId"`
	State  JobState               `json:"state"`
	Result *orchestrator.Response `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

func statusKey(jobID string) string { return "verify_job_status:" + jobID }

// setStatus persists status under its job ID with statusTTL, so polling
// clients eventually see it expire rather than accumulate forever.
func setStatus(ctx context.Context, rdb *redis.Client, status JobStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return rdb.Set(ctx, statusKey(status.JobID), payload, statusTTL).Err()
}

// Status looks up a job's current state. It returns (nil, nil) if the
// job ID is unknown or its status has expired.
func Status(ctx context.Context, rdb *redis.Client, jobID string) (*JobStatus, error) {
	payload, err := rdb.Get(ctx, statusKey(jobID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var status JobStatus
	if err := json.Unmarshal([]byte(payload), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Enqueue pushes a new Job for job.Request onto the main queue, records
// it as JobQueued, and returns the generated job ID.
func Enqueue(ctx context.Context, rdb *redis.Client, req orchestrator.Request) (string, error) {
	job := Job{JobID: uuid.NewString(), Request: req}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := rdb.LPush(ctx, mainQueue, payload).Err(); err != nil {
		return "", err
	}
	_ = setStatus(ctx, rdb, JobStatus{JobID: job.JobID, State: JobQueued})
	return job.JobID, nil
}

// Worker drains mainQueue with a fixed pool of goroutines, each
// running requests through the orchestrator, and runs a background
// retry monitor over retryQueue.
type Worker struct {
	rdb         *redis.Client
	orch        *orchestrator.Orchestrator
	concurrency int
	retryDelay  time.Duration
	log         *logrus.Logger
}

// NewWorker builds a Worker.
func NewWorker(rdb *redis.Client, orch *orchestrator.Orchestrator, concurrency int, retryDelay time.Duration, log *logrus.Logger) *Worker {
	if log == nil {
		log = logrus.New()
	}
	return &Worker{rdb: rdb, orch: orch, concurrency: concurrency, retryDelay: retryDelay, log: log}
}

// Run blocks, dispatching jobs to a fixed worker pool and running the
// retry monitor, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	jobs := make(chan Job, w.concurrency*2)
	for i := 0; i < w.concurrency; i++ {
		go w.runOne(ctx, i+1, jobs)
	}
	go w.retryMonitor(ctx)

	for {
		select {
		case <-ctx.Done():
			close(jobs)
			return
		default:
		}

		result, err := w.rdb.BRPop(ctx, 5*time.Second, mainQueue).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			w.log.WithError(err).Warn("queue: read failed")
			time.Sleep(time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			w.log.WithError(err).Warn("queue: malformed job")
			continue
		}

		select {
		case jobs <- job:
		default:
			w.log.WithField("jobId", job.JobID).Warn("queue: worker pool full, dropping job")
		}
	}
}

func (w *Worker) runOne(ctx context.Context, id int, jobs <-chan Job) {
	for job := range jobs {
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	resp, err := w.orch.Verify(ctx, job.Request)
	if err != nil {
		w.log.WithError(err).WithField("jobId", job.JobID).Warn("queue: verify failed")
		_ = setStatus(ctx, w.rdb, JobStatus{JobID: job.JobID, State: JobFailed, Error: err.Error()})
		return
	}

	if resp.Retryable {
		// A job whose status already reads JobRetrying has had its one
		// retry; it settles as completed below.
		if prev, err := Status(ctx, w.rdb, job.JobID); err != nil || prev == nil || prev.State != JobRetrying {
			w.scheduleRetry(ctx, job)
			return
		}
	}

	w.log.WithFields(logrus.Fields{
		"jobId":   job.JobID,
		"success": resp.Success,
		"domain":  resp.Domain,
	}).Info("queue: job complete")
	_ = setStatus(ctx, w.rdb, JobStatus{JobID: job.JobID, State: JobCompleted, Result: resp})
}

func (w *Worker) scheduleRetry(ctx context.Context, job Job) {
	payload, err := json.Marshal(job)
	if err != nil {
		w.log.WithError(err).Warn("queue: failed to serialize retry job")
		return
	}
	retryAt := time.Now().Add(w.retryDelay)
	err = w.rdb.ZAdd(ctx, retryQueue, redis.Z{Score: float64(retryAt.Unix()), Member: string(payload)}).Err()
	if err != nil {
		w.log.WithError(err).Warn("queue: failed to schedule retry")
		return
	}
	w.log.WithField("jobId", job.JobID).WithField("retryAt", retryAt.Format(time.RFC3339)).Info("queue: scheduled for retry")
	_ = setStatus(ctx, w.rdb, JobStatus{JobID: job.JobID, State: JobRetrying})
}

// retryMonitor periodically moves due entries from retryQueue back
// onto mainQueue.
func (w *Worker) retryMonitor(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drainDueRetries(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) drainDueRetries(ctx context.Context) {
	now := time.Now().Unix()
	items, err := w.rdb.ZRangeByScore(ctx, retryQueue, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		w.log.WithError(err).Warn("queue: failed to read retry queue")
		return
	}

	for _, item := range items {
		removed, err := w.rdb.ZRem(ctx, retryQueue, item).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := w.rdb.LPush(ctx, mainQueue, item).Err(); err != nil {
			w.log.WithError(err).Warn("queue: failed to requeue retry item")
			_ = w.rdb.ZAdd(ctx, retryQueue, redis.Z{Score: float64(now + 60), Member: item})
		}
	}
}
