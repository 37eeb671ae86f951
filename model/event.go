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

package model

import "time"

type EventType string

const (
	EventFundsLocked      EventType = "funds_locked"
	EventDeliveryAssigned EventType = "delivery_assigned"
	EventQRScanned        EventType = "qr_scanned"
	EventPaymentReleased  EventType = "payment_released"
	EventDisputeFiled     EventType = "dispute_filed"
)

// Event is a domain notification handed to the notification collaborator.
type Event struct {
	EventID        string            `json:"event_id"`
	Type           EventType         `json:"type"`
	TransactionRef string            `json:"transaction_ref"`
	Recipients     []string          `json:"recipients"`
	Payload        map[string]string `json:"payload,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func NewEvent(t EventType, ref string, now time.Time, payload map[string]string, recipients ...string) Event {
	var to []string
	for _, r := range recipients {
		if r != "" {
			to = append(to, r)
		}
	}
	return Event{
		EventID:        GenerateUUIDWithSuffix("evt"),
		Type:           t,
		TransactionRef: ref,
		Recipients:     to,
		Payload:        payload,
		CreatedAt:      now,
	}
}
