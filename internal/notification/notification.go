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

// Package notification raises operator alerts. Customer-facing escrow events
// do not go through here.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/request"
	"github.com/sirupsen/logrus"
)

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

func buildSlackMessage(title string, err error, now time.Time) slackMessage {
	return slackMessage{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: title, Emoji: true}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Error:*\n%v", err)}}},
		{Type: "section", Fields: []slackText{{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%v", now.Format(time.RFC822))}}},
	}}
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(ctx context.Context, webhookURL, title string, err error) error {
	return request.PostJSON(ctx, webhookURL, buildSlackMessage(title, err, time.Now()), nil)
}

// NotifyError logs the error and forwards it to Slack when configured.
// Delivery happens in the background and never blocks the caller.
func NotifyError(systemError error) {
	alert("Error From Escrow 🐞", systemError, logrus.Fields{})
}

// AlertPartialCompletion reports an operation whose primary write committed
// while a follow-up step failed, so an operator can reconcile by hand.
func AlertPartialCompletion(transactionRef, operation string, cause error) {
	alert("Escrow partial completion ⚠️",
		fmt.Errorf("%s on %s committed but a follow-up step failed: %w", operation, transactionRef, cause),
		logrus.Fields{"transaction_ref": transactionRef, "operation": operation})
}

func alert(title string, err error, fields logrus.Fields) {
	logrus.WithFields(fields).Error(err)

	conf, cfgErr := config.Fetch()
	if cfgErr != nil || conf.Notification.Slack.WebhookUrl == "" {
		return
	}
	url := conf.Notification.Slack.WebhookUrl
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), request.DefaultTimeout)
		defer cancel()
		if sendErr := SlackNotification(ctx, url, title, err); sendErr != nil {
			logrus.Errorf("failed to send slack alert: %v", sendErr)
		}
	}()
}
