package simjur

import "simjur/internal/model"

// Capability is one permission a role may hold.
type Capability string

const (
	CapCreateProposal   Capability = "proposal:create"
	CapDeleteProposal   Capability = "proposal:delete"
	CapViewAllProposals Capability = "proposal:view-all"
	CapUploadDocument   Capability = "document:upload"
	CapDeleteDocument   Capability = "document:delete"
	CapDownloadDocument Capability = "document:download"
	CapReadNotes        Capability = "notes:read"
	CapDecideSlot1      Capability = "slot:1"
	CapDecideSlot2      Capability = "slot:2"
	CapDecideSlot3      Capability = "slot:3"
	CapSetBudget        Capability = "budget:set"
	CapViewBudget       Capability = "budget:view"
	CapResubmit         Capability = "document:resubmit"
	CapPushSend         Capability = "push:send"
	CapManageUsers      Capability = "users:manage"
)

// permissions is the single source of truth for role checks.
var permissions = map[model.Role]map[Capability]bool{
	model.RoleSubmitter: capSet(
		CapCreateProposal, CapDeleteProposal, CapUploadDocument, CapDeleteDocument,
		CapDownloadDocument, CapReadNotes, CapResubmit,
	),
	model.RoleAdmin: capSet(
		CapViewAllProposals, CapDownloadDocument, CapReadNotes, CapDecideSlot1,
		CapSetBudget, CapViewBudget, CapPushSend, CapManageUsers,
	),
	model.RoleSecretary: capSet(
		CapViewAllProposals, CapDownloadDocument, CapReadNotes, CapDecideSlot2, CapViewBudget,
	),
	model.RoleHead: capSet(
		CapViewAllProposals, CapDownloadDocument, CapReadNotes, CapDecideSlot3,
		CapSetBudget, CapViewBudget, CapPushSend,
	),
}

var slotCapabilities = [model.SlotCount]Capability{CapDecideSlot1, CapDecideSlot2, CapDecideSlot3}

var slotRoles = [model.SlotCount]model.Role{model.RoleAdmin, model.RoleSecretary, model.RoleHead}

func capSet(caps ...Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(caps))
	for _, c := range caps {
		m[c] = true
	}
	return m
}

// Can reports whether role holds capability c.
func Can(role model.Role, c Capability) bool {
	return permissions[role][c]
}

// SlotCapability returns the capability needed to decide slot n (1-based).
func SlotCapability(n int) Capability {
	return slotCapabilities[n-1]
}

// SlotRole returns the role statically assigned to slot n (1-based).
func SlotRole(n int) model.Role {
	return slotRoles[n-1]
}

// SlotOf returns the slot index owned by role, or 0 for roles that never decide.
func SlotOf(role model.Role) int {
	for i, r := range slotRoles {
		if r == role {
			return i + 1
		}
	}
	return 0
}

// Approvers lists the roles that decide slots.
func Approvers() []model.Role {
	return append([]model.Role(nil), slotRoles[:]...)
}
