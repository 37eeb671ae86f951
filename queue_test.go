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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/model"
)

func TestNewReleaseTask(t *testing.T) {
	at := time.Date(2024, 6, 1, 21, 0, 0, 0, time.UTC)
	task, err := newReleaseTask(config.DefaultReleaseQueue, "TXN-1", at, 3)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultReleaseQueue, task.Type())

	var payload ReleaseTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "TXN-1", payload.TransactionRef)
	assert.Equal(t, "release:TXN-1", releaseTaskID("TXN-1"))
}

func TestNewNotificationTask(t *testing.T) {
	event := model.NewEvent(model.EventQRScanned, "TXN-1", time.Now(), nil, "w1", "", "a1")
	task, err := newNotificationTask(config.DefaultNotificationQueue, event, 3)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultNotificationQueue, task.Type())

	var decoded model.Event
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.Equal(t, []string{"w1", "a1"}, decoded.Recipients)
}

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cnf := &config.Configuration{Redis: config.RedisConfig{Dns: mr.Addr()}}
	config.MockConfig(cnf)

	q, err := NewQueue(cnf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func TestScheduleReleaseIsIdempotent(t *testing.T) {
	q, mr := newTestQueue(t)
	at := time.Now().Add(HoldPeriod)

	require.NoError(t, q.ScheduleRelease(context.Background(), "TXN-1", at))
	require.NoError(t, q.ScheduleRelease(context.Background(), "TXN-1", at))
	assert.NotEmpty(t, mr.Keys())
}

func TestQueueNotifierEnqueues(t *testing.T) {
	q, mr := newTestQueue(t)
	notifier := NewQueueNotifier(q)

	require.NoError(t, notifier.Notify(context.Background(), sampleEvent()))
	assert.NotEmpty(t, mr.Keys())
}

func TestConfirmDeliverySchedulesRelease(t *testing.T) {
	q, mr := newTestQueue(t)
	f := newFixture(t, WithQueue(q))
	f.seed(100)
	txn := f.confirm(t, 100)

	found := false
	for _, key := range mr.Keys() {
		if key == "asynq:{"+config.DefaultReleaseQueue+"}:t:"+releaseTaskID(txn.TransactionRef) {
			found = true
		}
	}
	assert.True(t, found, "release task not scheduled, keys: %v", mr.Keys())
}
