// Package queue is the delivery-queue collaborator: spooled jobs for the
// external retry driver plus per-contact delay bookkeeping.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"social_fed/internal/model"
	redisSvc "social_fed/internal/service/redis"
)

const (
	jobsKey        = "delivery:jobs"
	delayKeyPrefix = "delivery:delayed:"
	delayTTL       = 15 * time.Minute
)

type (
	Queue struct {
		redisService *redisSvc.RedisService
	}
)

func NewQueue(redisService *redisSvc.RedisService) *Queue {
	return &Queue{
		redisService: redisService,
	}
}

// EnqueueDelivery spools one failed transmission for retry and marks the
// contact as recently delayed.
func (q *Queue) EnqueueDelivery(ctx context.Context, job *model.DeliveryJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.redisService.RPush(ctx, jobsKey, data); err != nil {
		return err
	}
	return q.redisService.Set(ctx, delayKeyPrefix+job.TargetContactID, "1", delayTTL)
}

// WasRecentlyDelayed reports whether a delivery to this contact was
// spooled within the delay window.
func (q *Queue) WasRecentlyDelayed(ctx context.Context, contactID string) (bool, error) {
	return q.redisService.Exists(ctx, delayKeyPrefix+contactID)
}

// DrainJobs removes and returns every spooled job, for the external
// retry driver.
func (q *Queue) DrainJobs(ctx context.Context) ([]model.DeliveryJob, error) {
	vals, err := q.redisService.LRange(ctx, jobsKey)
	if err != nil {
		return nil, err
	}
	if err := q.redisService.Del(ctx, jobsKey); err != nil {
		return nil, err
	}

	var jobs []model.DeliveryJob
	for _, v := range vals {
		var job model.DeliveryJob
		if err := json.Unmarshal([]byte(v), &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
