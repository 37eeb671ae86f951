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
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/request"
	"github.com/blnkfinance/escrow/model"
)

// Notifier receives domain events. Implementations must not block for long;
// delivery and retry are theirs to handle.
type Notifier interface {
	Notify(ctx context.Context, event model.Event) error
}

// LogNotifier writes events to the log. It is the default when no queue is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event model.Event) error {
	logrus.WithFields(logrus.Fields{
		"event":           event.Type,
		"transaction_ref": event.TransactionRef,
		"recipients":      event.Recipients,
	}).Info("escrow event")
	return nil
}

// QueueNotifier hands events to the notification queue for webhook delivery.
type QueueNotifier struct {
	queue *Queue
}

func NewQueueNotifier(q *Queue) *QueueNotifier {
	return &QueueNotifier{queue: q}
}

func (n *QueueNotifier) Notify(ctx context.Context, event model.Event) error {
	return n.queue.EnqueueNotification(ctx, event)
}

// NewWebhook is the body posted to the configured webhook endpoint.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload model.Event `json:"data"`
}

func webhookFor(event model.Event) NewWebhook {
	return NewWebhook{Event: fmt.Sprintf("escrow.%s", event.Type), Payload: event}
}

// webhookBackOff bounds the in-task retries; asynq retries the task after that.
var webhookBackOff = func() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// deliverWebhook posts data to url. Client errors are not retried.
func deliverWebhook(ctx context.Context, url string, headers map[string]string, data NewWebhook) error {
	operation := func() error {
		err := request.PostJSON(ctx, url, data, headers)
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(webhookBackOff(), ctx))
}

// ProcessNotification delivers a queued event to the webhook endpoint.
func ProcessNotification(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var event model.Event
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		logrus.Errorf("Error unmarshaling notification payload: %v", err)
		return fmt.Errorf("invalid notification payload: %v: %w", err, asynq.SkipRetry)
	}

	logrus.Infof("Processing notification: %s for %s", event.Type, event.TransactionRef)
	if err := deliverWebhook(ctx, conf.Notification.Webhook.Url, conf.Notification.Webhook.Headers, webhookFor(event)); err != nil {
		var statusErr *request.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}
