package core

import "sync"

// Role tags the four participant kinds LogiChain recognizes (spec §9 Design
// Notes: "role is a capability-set lookup, not a class hierarchy").
type Role string

const (
	RoleEstablishment Role = "ESTABLISHMENT"
	RoleDriver        Role = "DRIVER"
	RoleValidator     Role = "VALIDATOR"
	RoleExecutor      Role = "EXECUTOR"
)

// Capability names one action an address may be authorized to perform.
type Capability string

const (
	CapCreateContract    Capability = "contract:create"
	CapAcceptContract    Capability = "contract:accept"
	CapSubmitCheckpoint  Capability = "contract:checkpoint"
	CapValidateContract  Capability = "contract:validate"
	CapDisputeContract   Capability = "contract:dispute"
	CapProposeBlock      Capability = "block:propose"
	CapAttestBlock       Capability = "block:attest"
	CapRegisterValidator Capability = "committee:register"
)

// roleCapabilities is the data-driven table mapping each Role to the
// capabilities it carries, mirroring the teacher's access_control.go
// address→role→bool lookup but keyed by role rather than by individually
// granted per-address strings, since LogiChain roles are fixed archetypes
// rather than ad-hoc grants.
var roleCapabilities = map[Role]map[Capability]bool{
	RoleEstablishment: {
		CapCreateContract: true,
		CapDisputeContract: true,
	},
	RoleDriver: {
		CapAcceptContract:   true,
		CapSubmitCheckpoint: true,
		CapDisputeContract:  true,
	},
	RoleValidator: {
		CapValidateContract:  true,
		CapProposeBlock:      true,
		CapAttestBlock:       true,
		CapRegisterValidator: true,
	},
	RoleExecutor: {
		CapProposeBlock: true,
		CapAttestBlock:  true,
	},
}

// AccessController tracks which roles are granted to which addresses and
// answers capability checks against the roleCapabilities table, adapted
// from the teacher's AccessController (cache map[Address]map[string]struct{}
// backed by ledger persistence) but backed by the in-memory AccountStore's
// notion of identity rather than a separate ledger-state namespace.
type AccessController struct {
	mu    sync.RWMutex
	roles map[string]map[Role]bool
}

// NewAccessController returns an empty controller.
func NewAccessController() *AccessController {
	return &AccessController{roles: make(map[string]map[Role]bool)}
}

// GrantRole assigns role to address. Idempotent.
func (ac *AccessController) GrantRole(address string, role Role) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.roles[address] == nil {
		ac.roles[address] = make(map[Role]bool)
	}
	ac.roles[address][role] = true
}

// RevokeRole removes role from address.
func (ac *AccessController) RevokeRole(address string, role Role) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if roles, ok := ac.roles[address]; ok {
		delete(roles, role)
		if len(roles) == 0 {
			delete(ac.roles, address)
		}
	}
}

// HasRole reports whether address carries role.
func (ac *AccessController) HasRole(address string, role Role) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.roles[address][role]
}

// Roles lists every role granted to address.
func (ac *AccessController) Roles(address string) []Role {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	out := make([]Role, 0, len(ac.roles[address]))
	for r := range ac.roles[address] {
		out = append(out, r)
	}
	return out
}

// Can reports whether address, through any role it holds, carries cap.
func (ac *AccessController) Can(address string, cap Capability) bool {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	for role := range ac.roles[address] {
		if roleCapabilities[role][cap] {
			return true
		}
	}
	return false
}

// Authorize returns a ProposerMisbehavior-flavored error when address lacks
// cap, suitable for returning directly from an ingress handler.
func (ac *AccessController) Authorize(address string, cap Capability) error {
	if ac.Can(address, cap) {
		return nil
	}
	return NewError(KindProposerMisbehavior, "address lacks required capability").
		WithContext("address", address).
		WithContext("capability", string(cap))
}
