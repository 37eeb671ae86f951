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

type Role string

const (
	RoleRetailer      Role = "retailer"
	RoleWholesaler    Role = "wholesaler"
	RoleDeliveryAgent Role = "delivery_agent"
	RoleAdmin         Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleRetailer, RoleWholesaler, RoleDeliveryAgent, RoleAdmin:
		return true
	}
	return false
}

// Principal is the authenticated caller supplied by the identity gateway.
// It is trusted as-is.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Is reports whether the principal holds role r and has the given id.
func (p Principal) Is(r Role, id string) bool {
	return p.Role == r && id != "" && p.ID == id
}

// IsPartyTo reports whether the principal is the retailer, wholesaler or
// assigned delivery agent of txn.
func (p Principal) IsPartyTo(txn *Transaction) bool {
	return p.Is(RoleRetailer, txn.RetailerID) ||
		p.Is(RoleWholesaler, txn.WholesalerID) ||
		p.Is(RoleDeliveryAgent, txn.DeliveryAgentID)
}
