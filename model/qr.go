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
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"
)

// QRValidity is the lifetime of an issued or extended delivery credential.
const QRValidity = 48 * time.Hour

const qrSecretBytes = 32

// QRCredential is the single-use delivery confirmation token bound to a transaction.
type QRCredential struct {
	Code                string     `json:"code"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	ExtensionCount      int        `json:"extension_count"`
	ExtendedAt          *time.Time `json:"extended_at,omitempty"`
	GeneratedBy         string     `json:"generated_by"`
	HardwareGeneratorID string     `json:"hardware_generator_id,omitempty"`
	ScannedAt           *time.Time `json:"scanned_at,omitempty"`
	ScannedBy           string     `json:"scanned_by,omitempty"`
}

// QRPayload is the JSON document encoded in the QR image.
type QRPayload struct {
	TransactionRef string `json:"transaction_ref"`
	IssuedAt       int64  `json:"issued_at"`
	Secret         string `json:"secret"`
}

type VerifyOutcome string

const (
	VerifyAccepted       VerifyOutcome = "accepted"
	VerifyMismatch       VerifyOutcome = "rejected:mismatch"
	VerifyExpired        VerifyOutcome = "rejected:expired"
	VerifyAlreadyScanned VerifyOutcome = "rejected:already-scanned"
)

// NewQRCredential mints a credential for ref carrying a 256-bit random secret.
func NewQRCredential(ref, issuer, hardwareGeneratorID string, now time.Time) (*QRCredential, error) {
	secret := make([]byte, qrSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(QRPayload{
		TransactionRef: ref,
		IssuedAt:       now.UnixMilli(),
		Secret:         hex.EncodeToString(secret),
	})
	if err != nil {
		return nil, err
	}
	return &QRCredential{
		Code:                string(payload),
		IssuedAt:            now,
		ExpiresAt:           now.Add(QRValidity),
		GeneratedBy:         issuer,
		HardwareGeneratorID: hardwareGeneratorID,
	}, nil
}

// ParseQRPayload decodes a presented code.
func ParseQRPayload(code string) (QRPayload, error) {
	var p QRPayload
	err := json.Unmarshal([]byte(code), &p)
	return p, err
}

func (q *QRCredential) Scanned() bool {
	return q.ScannedAt != nil
}

// Extend resets the validity window to QRValidity from now. The caller must
// reject extension of a scanned credential.
func (q *QRCredential) Extend(now time.Time) {
	q.ExpiresAt = now.Add(QRValidity)
	q.ExtensionCount++
	q.ExtendedAt = timePtr(now)
}

// Verify checks a presented code against the credential issued for ref.
// A credential that was already scanned always reports VerifyAlreadyScanned,
// and the credential is valid up to and including ExpiresAt.
func (q *QRCredential) Verify(ref, presented string, now time.Time) VerifyOutcome {
	p, err := ParseQRPayload(presented)
	if err != nil || p.TransactionRef != ref {
		return VerifyMismatch
	}
	issued, err := ParseQRPayload(q.Code)
	if err != nil || subtle.ConstantTimeCompare([]byte(issued.Secret), []byte(p.Secret)) != 1 {
		return VerifyMismatch
	}
	if q.Scanned() {
		return VerifyAlreadyScanned
	}
	if now.After(q.ExpiresAt) {
		return VerifyExpired
	}
	return VerifyAccepted
}

// MarkScanned consumes the credential.
func (q *QRCredential) MarkScanned(by string, now time.Time) {
	q.ScannedAt = timePtr(now)
	q.ScannedBy = by
}

// QRCodeView is what callers other than the retailer get back when reading a
// transaction's credential for rendering.
type QRCodeView struct {
	TransactionRef string    `json:"transaction_ref"`
	Code           string    `json:"code"`
	ExpiresAt      time.Time `json:"expires_at"`
	ExtensionCount int       `json:"extension_count"`
	Scanned        bool      `json:"scanned"`
}
