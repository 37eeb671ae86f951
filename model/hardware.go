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

const HardwareStatusActive = "active"

// HardwareGenerator is a registered device able to mint delivery credentials.
type HardwareGenerator struct {
	GeneratorID  string     `json:"generator_id"`
	Status       string     `json:"status"`
	RegisteredBy string     `json:"registered_by"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// AuthorizedFor reports whether the device is active and registered by or
// assigned to caller.
func (h *HardwareGenerator) AuthorizedFor(caller string) bool {
	if h.Status != HardwareStatusActive || caller == "" {
		return false
	}
	return h.RegisteredBy == caller || h.AssignedTo == caller
}
