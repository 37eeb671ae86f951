/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/config"
	redis_db "github.com/blnkfinance/escrow/internal/redis-db"
	"github.com/blnkfinance/escrow/model"
)

// Queue enqueues notification deliveries and scheduled releases.
type Queue struct {
	Client            *asynq.Client
	Inspector         *asynq.Inspector
	notificationQueue string
	releaseQueue      string
	maxRetry          int
}

// NewQueue connects to the redis instance named in conf.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	return &Queue{
		Client:            asynq.NewClient(queueOptions),
		Inspector:         asynq.NewInspector(queueOptions),
		notificationQueue: conf.Queue.NotificationQueue,
		releaseQueue:      conf.Queue.ReleaseQueue,
		maxRetry:          conf.Queue.MaxRetryAttempts,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Warnf("failed to close queue inspector: %v", err)
	}
	return q.Client.Close()
}

func releaseTaskID(ref string) string {
	return "release:" + ref
}

// newReleaseTask builds the task releasing ref at the end of its hold period.
// The task id is derived from ref so a transaction is scheduled at most once.
func newReleaseTask(queue, ref string, at time.Time, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(ReleaseTaskPayload{TransactionRef: ref})
	if err != nil {
		return nil, err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(releaseTaskID(ref)),
		asynq.Queue(queue),
		asynq.ProcessAt(at),
		asynq.MaxRetry(maxRetry),
	}
	return asynq.NewTask(queue, payload, taskOptions...), nil
}

func newNotificationTask(queue string, event model.Event, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(event.EventID),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
	}
	return asynq.NewTask(queue, payload, taskOptions...), nil
}

// ScheduleRelease enqueues the release of ref at the given time. Scheduling the
// same transaction twice is not an error.
func (q *Queue) ScheduleRelease(ctx context.Context, ref string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "ScheduleRelease")
	defer span.End()

	task, err := newReleaseTask(q.releaseQueue, ref, at, q.maxRetry)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		logrus.Error(err, info)
		return err
	}
	logrus.Infof(" [*] Scheduled release of %s at %s", ref, at.Format(time.RFC3339))
	return nil
}

// EnqueueNotification queues event for webhook delivery.
func (q *Queue) EnqueueNotification(ctx context.Context, event model.Event) error {
	task, err := newNotificationTask(q.notificationQueue, event, q.maxRetry)
	if err != nil {
		return err
	}
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		logrus.Error(err, info)
		return err
	}
	return nil
}
