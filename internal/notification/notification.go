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

package notification

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/prizepay/internal/request"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing message, e.g. a payout that could not be recorded.
type Alert struct {
	Title    string
	Severity Severity
	Message  string
	Fields   map[string]string
}

// Notifier delivers alerts. Implementations must not block the caller.
type Notifier interface {
	Notify(alert Alert)
}

// Slack posts alerts to an incoming webhook.
type Slack struct {
	webhookURL string
	timeout    time.Duration
}

func NewSlack(webhookURL string) *Slack {
	return &Slack{webhookURL: webhookURL, timeout: 10 * time.Second}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

func icon(s Severity) string {
	switch s {
	case SeverityCritical:
		return "🚨"
	case SeverityWarning:
		return "⚠️"
	default:
		return "ℹ️"
	}
}

func buildSlackMessage(alert Alert, now time.Time) slackMessage {
	fields := []slackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", alert.Severity)},
		{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", now.Format(time.RFC822))},
	}

	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", k, alert.Fields[k])})
	}

	blocks := []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s %s", icon(alert.Severity), alert.Title), Emoji: true}},
	}
	if alert.Message != "" {
		blocks = append(blocks, slackBlock{Type: "section", Text: &slackText{Type: "mrkdwn", Text: alert.Message}})
	}
	blocks = append(blocks, slackBlock{Type: "section", Fields: fields})
	return slackMessage{Blocks: blocks}
}

// Send posts the alert and waits for Slack to accept it.
func (s *Slack) Send(ctx context.Context, alert Alert) error {
	_, err := request.PostJSON(ctx, s.webhookURL, nil, buildSlackMessage(alert, time.Now()))
	return err
}

// Notify sends the alert in the background; delivery failures are only logged.
func (s *Slack) Notify(alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.Send(ctx, alert); err != nil {
			logrus.WithError(err).WithField("alert", alert.Title).Error("failed to send slack alert")
		}
	}()
}

// LogNotifier only writes alerts to the log. It is used when Slack is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(alert Alert) {
	fields := logrus.Fields{"severity": alert.Severity}
	for k, v := range alert.Fields {
		fields[k] = v
	}
	entry := logrus.WithFields(fields)
	switch alert.Severity {
	case SeverityCritical:
		entry.Error(alert.Title + ": " + alert.Message)
	case SeverityWarning:
		entry.Warn(alert.Title + ": " + alert.Message)
	default:
		entry.Info(alert.Title + ": " + alert.Message)
	}
}

// New picks the Slack notifier when a webhook URL is set.
func New(slackWebhookURL string) Notifier {
	if slackWebhookURL == "" {
		return LogNotifier{}
	}
	return NewSlack(slackWebhookURL)
}
