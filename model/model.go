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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID and prefixes it with the provided module name,
// e.g. "entry_7f1c...". Used for ledger entry, event and withdrawal ids.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// GenerateTransactionRef returns a human-debuggable escrow reference of the form
// TXN-<unix millis>-<12 hex chars>. Uniqueness is enforced by the store.
func GenerateTransactionRef(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	return fmt.Sprintf("TXN-%d-%s", now.UnixMilli(), strings.ToUpper(suffix))
}

// GeneratePaymentReference returns a simulated payment intent id used when the
// caller does not supply one.
func GeneratePaymentReference(now time.Time) string {
	return fmt.Sprintf("PI-%d", now.UnixMilli())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
