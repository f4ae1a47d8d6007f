/*
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
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/internal/request"
	"github.com/blnkfinance/prizepay/model"
)

const TaskPayoutWebhook = "payout:webhook"

// WebhookSender hands a payout event to whatever delivers it.
type WebhookSender interface {
	Send(ctx context.Context, event string, payload interface{}) error
}

// NewWebhook is the body posted to the configured webhook URL.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// PayoutEvent is the data of every payout.* webhook.
type PayoutEvent struct {
	PayoutID         string              `json:"payout_id"`
	RecipientAddress string              `json:"wallet_address"`
	Amount           string              `json:"amount"`
	Kind             string              `json:"kind,omitempty"`
	Status           model.PayoutStatus  `json:"status"`
	TxReference      string              `json:"tx_reference,omitempty"`
	Confirmed        bool                `json:"confirmed"`
	Reason           model.FailureReason `json:"reason,omitempty"`
	Detail           string              `json:"detail,omitempty"`
	OccurredAt       time.Time           `json:"occurred_at"`
}

func webhookPayload(p *model.PayoutRequest, o model.Outcome) PayoutEvent {
	return PayoutEvent{
		PayoutID:         p.PayoutID,
		RecipientAddress: p.RecipientAddress,
		Amount:           p.Amount.String(),
		Kind:             p.Kind,
		Status:           o.Status,
		TxReference:      o.TxReference,
		Confirmed:        o.Confirmed,
		Reason:           o.Reason,
		Detail:           o.Detail,
		OccurredAt:       time.Now().UTC(),
	}
}

// WebhookQueue enqueues webhook deliveries on asynq so a slow receiver never
// holds up a payout.
type WebhookQueue struct {
	client *asynq.Client
	queue  string
}

func NewWebhookQueue(opt asynq.RedisConnOpt, queue string) *WebhookQueue {
	return &WebhookQueue{client: asynq.NewClient(opt), queue: queue}
}

func (q *WebhookQueue) Send(ctx context.Context, event string, payload interface{}) error {
	body, err := json.Marshal(NewWebhook{Event: event, Payload: payload})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskPayoutWebhook, body)
	info, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queue), asynq.MaxRetry(10), asynq.Timeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to enqueue webhook %s: %w", event, err)
	}
	logrus.WithFields(logrus.Fields{"event": event, "task_id": info.ID}).Debug("webhook enqueued")
	return nil
}

func (q *WebhookQueue) Close() error {
	return q.client.Close()
}

// WebhookProcessor delivers queued webhooks over HTTP. A non-2xx answer fails
// the task so asynq retries it.
type WebhookProcessor struct {
	url     string
	headers map[string]string
}

func NewWebhookProcessor(url string, headers map[string]string) *WebhookProcessor {
	return &WebhookProcessor{url: url, headers: headers}
}

func (w *WebhookProcessor) ProcessTask(ctx context.Context, task *asynq.Task) error {
	if w.url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("dropping malformed webhook task")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if _, err := request.PostJSON(ctx, w.url, w.headers, payload); err != nil {
		logrus.WithField("event", payload.Event).WithError(err).Warn("webhook delivery failed")
		return err
	}
	logrus.WithField("event", payload.Event).Info("webhook delivered")
	return nil
}
