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

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an escrow transaction. Exactly one status
// holds at a time and it only changes through Status.Next.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// AllStatuses lists every lifecycle state in flow order.
var AllStatuses = []Status{
	StatusPending, StatusFunded, StatusInTransit, StatusDelivered,
	StatusOnHold, StatusCompleted, StatusCancelled, StatusDisputed,
}

// CommittedStatuses are the states whose amounts are counted against a
// retailer's locked funds.
var CommittedStatuses = []Status{StatusPending, StatusFunded, StatusInTransit, StatusDelivered, StatusOnHold}

// PendingPayoutStatuses are the states whose amounts a wholesaler is still waiting on.
var PendingPayoutStatuses = []Status{StatusFunded, StatusInTransit, StatusDelivered, StatusOnHold}

// Action is a state machine event.
type Action string

const (
	ActionFund             Action = "fund"
	ActionCancel           Action = "cancel"
	ActionInitiateDelivery Action = "initiate_delivery"
	ActionMarkDelivered    Action = "mark_delivered"
	ActionConfirmDelivery  Action = "confirm_delivery"
	ActionRelease          Action = "release"
	ActionDispute          Action = "dispute"
)

type transition struct {
	from []Status
	to   Status
}

// transitions is the complete table of legal moves. Anything not listed is rejected.
var transitions = map[Action]transition{
	ActionFund:             {from: []Status{StatusPending}, to: StatusFunded},
	ActionCancel:           {from: []Status{StatusPending}, to: StatusCancelled},
	ActionInitiateDelivery: {from: []Status{StatusFunded}, to: StatusInTransit},
	ActionMarkDelivered:    {from: []Status{StatusInTransit}, to: StatusDelivered},
	ActionConfirmDelivery:  {from: []Status{StatusInTransit, StatusDelivered}, to: StatusOnHold},
	ActionRelease:          {from: []Status{StatusOnHold}, to: StatusCompleted},
	ActionDispute:          {from: []Status{StatusInTransit, StatusDelivered, StatusOnHold}, to: StatusDisputed},
}

// ErrInvalidTransition is returned when an action is not legal from the current status.
var ErrInvalidTransition = errors.New("invalid state transition")

// ParseStatus converts a raw status string into a Status.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// Next returns the status reached by applying action a to s.
func (s Status) Next(a Action) (Status, error) {
	t, ok := transitions[a]
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, a)
	}
	for _, from := range t.from {
		if from == s {
			return t.to, nil
		}
	}
	return "", fmt.Errorf("%w: cannot %s a transaction that is %s", ErrInvalidTransition, a, s)
}

// Can reports whether action a is legal from s.
func (s Status) Can(a Action) bool {
	_, err := s.Next(a)
	return err == nil
}

// AwaitingScan reports whether an issued delivery code can still be presented.
func (s Status) AwaitingScan() bool {
	return s.Can(ActionConfirmDelivery)
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDisputed
}

func (s Status) IsCommitted() bool {
	return statusIn(s, CommittedStatuses)
}

func statusIn(s Status, set []Status) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodEcocash      PaymentMethod = "ecocash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCard         PaymentMethod = "card"
)

type CashCollectionMethod string

const (
	CashCollectionAgent CashCollectionMethod = "agent"
	CashCollectionBooth CashCollectionMethod = "booth"
	CashCollectionNone  CashCollectionMethod = "none"
)

// NormalizeCashCollection returns the effective collection method: none for
// non-cash payments and agent when a cash payment leaves it unset.
func NormalizeCashCollection(method PaymentMethod, collection CashCollectionMethod) CashCollectionMethod {
	if method != PaymentMethodCash {
		return CashCollectionNone
	}
	if collection == "" || collection == CashCollectionNone {
		return CashCollectionAgent
	}
	return collection
}

type Dispute struct {
	Reason     string     `json:"reason"`
	FiledBy    string     `json:"filed_by"`
	FiledAt    time.Time  `json:"filed_at"`
	Resolution string     `json:"resolution,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type DeliveryAddress struct {
	Street  string `json:"street,omitempty"`
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	ZipCode string `json:"zip_code,omitempty"`
	Country string `json:"country,omitempty"`
}

// Transaction is one escrowed order between a retailer and a wholesaler.
type Transaction struct {
	TransactionRef           string                 `json:"transaction_ref"`
	RetailerID               string                 `json:"retailer_id"`
	WholesalerID             string                 `json:"wholesaler_id"`
	DeliveryAgentID          string                 `json:"delivery_agent_id,omitempty"`
	Amount                   decimal.Decimal        `json:"amount"`
	Currency                 string                 `json:"currency"`
	Description              string                 `json:"description,omitempty"`
	Status                   Status                 `json:"status"`
	PaymentMethod            PaymentMethod          `json:"payment_method"`
	CashCollectionMethod     CashCollectionMethod   `json:"cash_collection_method"`
	PaymentReference         string                 `json:"payment_reference"`
	QRCode                   *QRCredential          `json:"qr_code,omitempty"`
	HoldReleaseAt            *time.Time             `json:"hold_release_at,omitempty"`
	AvailableForWithdrawalAt *time.Time             `json:"available_for_withdrawal_at,omitempty"`
	Dispute                  *Dispute               `json:"dispute,omitempty"`
	DeliveryAddress          *DeliveryAddress       `json:"delivery_address,omitempty"`
	FundsLockedNotifiedAt    *time.Time             `json:"funds_locked_notified_at,omitempty"`
	WithdrawnAmount          decimal.Decimal        `json:"withdrawn_amount"`
	WithdrawnAt              *time.Time             `json:"withdrawn_at,omitempty"`
	MetaData                 map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	UpdatedAt                time.Time              `json:"updated_at"`
	FundedAt                 *time.Time             `json:"funded_at,omitempty"`
	DeliveryStartedAt        *time.Time             `json:"delivery_started_at,omitempty"`
	DeliveredAt              *time.Time             `json:"delivered_at,omitempty"`
	ConfirmedAt              *time.Time             `json:"confirmed_at,omitempty"`
	CompletedAt              *time.Time             `json:"completed_at,omitempty"`
	CancelledAt              *time.Time             `json:"cancelled_at,omitempty"`
	DisputedAt               *time.Time             `json:"disputed_at,omitempty"`
	Version                  int64                  `json:"version"`
}

// Apply moves the transaction through action a at time now, stamping the
// matching transition timestamp. It does not persist anything.
func (t *Transaction) Apply(a Action, now time.Time) error {
	next, err := t.Status.Next(a)
	if err != nil {
		return err
	}
	t.Status = next
	t.UpdatedAt = now
	switch a {
	case ActionFund:
		t.FundedAt = timePtr(now)
	case ActionCancel:
		t.CancelledAt = timePtr(now)
	case ActionInitiateDelivery:
		t.DeliveryStartedAt = timePtr(now)
	case ActionMarkDelivered:
		t.DeliveredAt = timePtr(now)
	case ActionConfirmDelivery:
		t.ConfirmedAt = timePtr(now)
	case ActionRelease:
		t.CompletedAt = timePtr(now)
	case ActionDispute:
		t.DisputedAt = timePtr(now)
	}
	return nil
}

// HasDispute reports whether a dispute has ever been filed.
func (t *Transaction) HasDispute() bool {
	return t.Dispute != nil && !t.Dispute.FiledAt.IsZero()
}

// Withdrawable returns the part of a completed transaction's amount that the
// wholesaler can still withdraw at now.
func (t *Transaction) Withdrawable(now time.Time) decimal.Decimal {
	if t.Status != StatusCompleted || t.AvailableForWithdrawalAt == nil || t.AvailableForWithdrawalAt.After(now) {
		return decimal.Zero
	}
	remaining := t.Amount.Sub(t.WithdrawnAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Cursor is a position in a keyset ordered listing. Ref breaks ties between
// rows sharing At.
type Cursor struct {
	At  time.Time
	Ref string
}

// Less orders a before b by time, then by ref.
func (a Cursor) Less(b Cursor) bool {
	if !a.At.Equal(b.At) {
		return a.At.Before(b.At)
	}
	return a.Ref < b.Ref
}

// CreatedCursor is txn's position in a created_at listing.
func CreatedCursor(txn *Transaction) Cursor {
	return Cursor{At: txn.CreatedAt, Ref: txn.TransactionRef}
}

// ReleaseCursor is txn's position in a hold_release_at listing.
func ReleaseCursor(txn *Transaction) Cursor {
	c := Cursor{Ref: txn.TransactionRef}
	if txn.HoldReleaseAt != nil {
		c.At = *txn.HoldReleaseAt
	}
	return c
}

// TransactionFilter narrows GetTransactions. Empty fields are ignored.
// Results come newest first; Before, when set, resumes strictly after that
// position and takes precedence over Offset.
type TransactionFilter struct {
	RetailerID      string
	WholesalerID    string
	DeliveryAgentID string
	Statuses        []Status
	Limit           int
	Offset          int
	Before          *Cursor
}

// ScopeTo restricts the filter to the transactions the principal may see.
func (f TransactionFilter) ScopeTo(p Principal) TransactionFilter {
	switch p.Role {
	case RoleRetailer:
		f.RetailerID = p.ID
	case RoleWholesaler:
		f.WholesalerID = p.ID
	case RoleDeliveryAgent:
		f.DeliveryAgentID = p.ID
	}
	return f
}
