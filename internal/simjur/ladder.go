package simjur

import "simjur/internal/model"

// EffectiveStatus is the status shown for slot n. Slot 3 reads Pending until
// slots 1 and 2 are both Approved, whatever is stored.
func EffectiveStatus(l model.Ladder, n int) model.SlotStatus {
	if n == model.SlotCount && !priorApproved(l) {
		return model.StatusPending
	}
	return l.Slot(n)
}

// LadderApproved reports whether every slot is Approved.
func LadderApproved(l model.Ladder) bool {
	for _, s := range l {
		if s != model.StatusApproved {
			return false
		}
	}
	return true
}

// LadderRejected reports whether any slot holds a rejection.
func LadderRejected(l model.Ladder) bool {
	for _, s := range l {
		if s == model.StatusRejected {
			return true
		}
	}
	return false
}

func priorApproved(l model.Ladder) bool {
	for n := 1; n < model.SlotCount; n++ {
		if l.Slot(n) != model.StatusApproved {
			return false
		}
	}
	return true
}

// StageOpen reports whether doc's ladder can be worked on at all. The LPJ
// ladder stays unreachable until TOR is fully approved.
func StageOpen(p *model.Proposal, doc model.DocType) bool {
	if doc == model.DocLPJ {
		return LadderApproved(p.TOR)
	}
	return true
}

// CheckDecision validates that role may decide field on p, ignoring the
// review precondition which needs the database. Checks run in a fixed
// order so the first failing rule is reported.
func CheckDecision(p *model.Proposal, role model.Role, f model.Field) error {
	if !Can(role, SlotCapability(f.Slot)) {
		return ErrForbidden
	}
	if !StageOpen(p, f.Doc) {
		return ErrStageLocked
	}
	l := p.Ladder(f.Doc)
	if LadderRejected(l) {
		return ErrLadderClosed
	}
	if f.Slot == model.SlotCount && !priorApproved(l) {
		return ErrSlotLocked
	}
	if l.Slot(f.Slot) != model.StatusPending {
		return ErrSlotNotPending
	}
	return nil
}

// SlotView is one slot as presented to a role.
type SlotView struct {
	Field      string           `json:"field"`
	Role       model.Role       `json:"role"`
	Stored     model.SlotStatus `json:"stored"`
	Status     model.SlotStatus `json:"status"`
	Actionable bool             `json:"actionable"`
}

// LadderView is one ladder as presented to a role.
type LadderView struct {
	Doc      model.DocType `json:"doc"`
	Open     bool          `json:"open"`
	Approved bool          `json:"approved"`
	Slots    []SlotView    `json:"slots"`
}

// ProposalView combines a proposal with both ladders as seen by one role.
type ProposalView struct {
	Proposal *model.Proposal `json:"proposal"`
	TOR      LadderView      `json:"tor"`
	LPJ      LadderView      `json:"lpj"`
}

// View computes the displayed statuses and actionable flags of p for role.
// Review state is not considered; the action still fails with ErrNotReviewed
// if the role has not downloaded the document.
func View(p *model.Proposal, role model.Role) ProposalView {
	return ProposalView{
		Proposal: p,
		TOR:      ladderView(p, model.DocTOR, role),
		LPJ:      ladderView(p, model.DocLPJ, role),
	}
}

func ladderView(p *model.Proposal, doc model.DocType, role model.Role) LadderView {
	l := p.Ladder(doc)
	lv := LadderView{
		Doc:      doc,
		Open:     StageOpen(p, doc),
		Approved: LadderApproved(l),
		Slots:    make([]SlotView, 0, model.SlotCount),
	}
	for n := 1; n <= model.SlotCount; n++ {
		f := model.Field{Doc: doc, Slot: n}
		lv.Slots = append(lv.Slots, SlotView{
			Field:      f.String(),
			Role:       SlotRole(n),
			Stored:     l.Slot(n),
			Status:     EffectiveStatus(l, n),
			Actionable: CheckDecision(p, role, f) == nil,
		})
	}
	return lv
}
