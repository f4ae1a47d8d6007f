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

package prizepay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/prizepay/model"
)

func TestWebhookQueueSend(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("an error '%s' occurred when starting miniredis", err)
	}
	defer mr.Close()

	queue := NewWebhookQueue(asynq.RedisClientOpt{Addr: mr.Addr()}, "payout_webhooks")
	defer queue.Close()

	p := newTestPayout("pay_webhook", testRecipient, 50_000_000)
	err = queue.Send(context.Background(), "payout.completed", webhookPayload(p, model.CompletedOutcome(p.PayoutID, "sig123")))
	require.NoError(t, err)

	assert.NotEmpty(t, mr.Keys())
}

func TestWebhookProcessorDelivers(t *testing.T) {
	var received NewWebhook
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("X-Prizepay-Event-Key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	body, err := json.Marshal(NewWebhook{Event: "payout.failed", Payload: map[string]string{"payout_id": "pay_1"}})
	require.NoError(t, err)

	processor := NewWebhookProcessor(server.URL, map[string]string{"X-Prizepay-Event-Key": "k"})
	err = processor.ProcessTask(context.Background(), asynq.NewTask(TaskPayoutWebhook, body))
	require.NoError(t, err)
	assert.Equal(t, "payout.failed", received.Event)
	assert.Equal(t, "k", header)
}

func TestWebhookProcessorRetriesOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	body, _ := json.Marshal(NewWebhook{Event: "payout.completed"})
	err := NewWebhookProcessor(server.URL, nil).ProcessTask(context.Background(), asynq.NewTask(TaskPayoutWebhook, body))
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestWebhookProcessorSkipsMalformed(t *testing.T) {
	err := NewWebhookProcessor("http://127.0.0.1:1", nil).ProcessTask(context.Background(), asynq.NewTask(TaskPayoutWebhook, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
