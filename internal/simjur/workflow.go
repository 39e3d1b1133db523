package simjur

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"simjur/internal/model"
)

// Workflow drives the TOR and LPJ approval ladders.
type Workflow struct {
	database      Database
	notifier      Notifier
	logger        Logger
	clock         Clock
	allowResubmit bool
}

// WorkflowOption customizes a Workflow.
type WorkflowOption func(*Workflow)

// WithResubmission enables Resubmit. Without it Revisi and Rejected are terminal.
func WithResubmission(enabled bool) WorkflowOption {
	return func(w *Workflow) { w.allowResubmit = enabled }
}

// NewWorkflow creates a Workflow with the provided dependencies.
func NewWorkflow(database Database, notifier Notifier, logger Logger, clock Clock, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		database: database,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Approve marks field Approved.
func (w *Workflow) Approve(ctx context.Context, actor model.Actor, proposalID int64, field model.Field) (*model.Proposal, error) {
	return w.decide(ctx, actor, proposalID, field, model.StatusApproved, "")
}

// Reject marks field Rejected. The ladder accepts no further decisions.
func (w *Workflow) Reject(ctx context.Context, actor model.Actor, proposalID int64, field model.Field) (*model.Proposal, error) {
	return w.decide(ctx, actor, proposalID, field, model.StatusRejected, "")
}

// RequestRevision marks field Revisi and stores note under the actor's role.
func (w *Workflow) RequestRevision(ctx context.Context, actor model.Actor, proposalID int64, field model.Field, note string) (*model.Proposal, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, NewValidationError("revision note is required", "note", "this field is required")
	}
	return w.decide(ctx, actor, proposalID, field, model.StatusRevisi, note)
}

func (w *Workflow) decide(ctx context.Context, actor model.Actor, proposalID int64, field model.Field, status model.SlotStatus, note string) (*model.Proposal, error) {
	p, err := w.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if err := CheckDecision(p, actor.Role, field); err != nil {
		return nil, err
	}
	if err := w.requireDocument(ctx, proposalID, field.Doc); err != nil {
		return nil, err
	}

	reviewed, err := w.database.HasReviewed(ctx, proposalID, field.Doc, actor.Role)
	if err != nil {
		return nil, fmt.Errorf("checking review state: %w", err)
	}
	if !reviewed {
		return nil, ErrNotReviewed
	}

	d := model.Decision{
		ProposalID: proposalID,
		Field:      field,
		Status:     status,
		Note:       note,
		Actor:      actor,
		At:         w.clock.Now(),
	}
	if err := w.database.RecordDecision(ctx, d); err != nil {
		if errors.Is(err, ErrSlotNotPending) {
			return nil, err
		}
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	p.SetSlot(field, status)
	p.UpdatedAt = d.At
	w.logger.Info("slot decided", "proposal", proposalID, "field", field.String(), "status", string(status), "user", actor.Username)
	w.announce(p, d)
	return p, nil
}

// announce publishes the notifications that follow a decision.
func (w *Workflow) announce(p *model.Proposal, d model.Decision) {
	l := p.Ladder(d.Field.Doc)
	base := model.Notification{ProposalID: p.ID}

	switch d.Status {
	case model.StatusApproved:
		n := base
		n.Title = fmt.Sprintf("%s approved by %s", d.Field.Doc, d.Actor.Role)
		n.Message = fmt.Sprintf("%q: slot %d approved", p.Judul, d.Field.Slot)
		n.Severity = model.SeveritySuccess
		n.TargetRoles = []model.Role{model.RoleSubmitter}
		// slot 3 just became actionable
		if d.Field.Slot < model.SlotCount && priorApproved(l) && l.Slot(model.SlotCount) == model.StatusPending {
			n.TargetRoles = append(n.TargetRoles, model.RoleHead)
		}
		w.notifier.Publish(n)

		if LadderApproved(l) {
			done := base
			done.Title = fmt.Sprintf("%s fully approved", d.Field.Doc)
			done.Message = fmt.Sprintf("%q completed the %s approval chain", p.Judul, d.Field.Doc)
			done.Severity = model.SeveritySuccess
			w.notifier.Publish(done)
		}
	case model.StatusRejected:
		n := base
		n.Title = fmt.Sprintf("%s rejected by %s", d.Field.Doc, d.Actor.Role)
		n.Message = fmt.Sprintf("%q was rejected at slot %d", p.Judul, d.Field.Slot)
		n.Severity = model.SeverityError
		n.TargetRoles = []model.Role{model.RoleSubmitter}
		w.notifier.Publish(n)
	case model.StatusRevisi:
		n := base
		n.Title = fmt.Sprintf("%s revision requested by %s", d.Field.Doc, d.Actor.Role)
		n.Message = d.Note
		n.Severity = model.SeverityWarning
		n.TargetRoles = []model.Role{model.RoleSubmitter}
		w.notifier.Publish(n)
	}
}

// MarkReviewed records that the actor's role has looked at the document.
// Approval decisions require it.
func (w *Workflow) MarkReviewed(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType) error {
	if !Can(actor.Role, CapDownloadDocument) {
		return ErrForbidden
	}
	p, err := w.findProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if !StageOpen(p, doc) {
		return ErrStageLocked
	}
	if err := w.requireDocument(ctx, proposalID, doc); err != nil {
		return err
	}
	if err := w.database.MarkReviewed(ctx, proposalID, doc, actor, w.clock.Now()); err != nil {
		return fmt.Errorf("marking reviewed: %w", err)
	}
	return nil
}

// requireDocument fails with ErrNotFound unless doc has an uploaded file.
func (w *Workflow) requireDocument(ctx context.Context, proposalID int64, doc model.DocType) error {
	rec, err := w.database.FindFileRecord(ctx, proposalID, doc)
	if err != nil {
		return fmt.Errorf("finding file record: %w", err)
	}
	if rec == nil {
		return ErrNotFound
	}
	return nil
}

// Notes returns the revision notes left on doc. Submitters read them but
// never write them.
func (w *Workflow) Notes(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType) ([]*model.Note, error) {
	if !Can(actor.Role, CapReadNotes) {
		return nil, ErrForbidden
	}
	p, err := w.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}
	notes, err := w.database.ListNotes(ctx, proposalID, doc)
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	return notes, nil
}

// Resubmit resets the Revisi and Rejected slots of doc to Pending after the
// submitter has fixed the document. Only available when enabled.
func (w *Workflow) Resubmit(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType) (*model.Proposal, error) {
	if !w.allowResubmit {
		return nil, ErrResubmitDisabled
	}
	if !Can(actor.Role, CapResubmit) {
		return nil, ErrForbidden
	}
	p, err := w.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}
	if !StageOpen(p, doc) {
		return nil, ErrStageLocked
	}

	n, err := w.database.ResetLadder(ctx, proposalID, doc, w.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("resetting ladder: %w", err)
	}
	if n == 0 {
		return nil, ErrNothingToResubmit
	}

	p, err = w.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	w.logger.Info("document resubmitted", "proposal", proposalID, "doc", string(doc), "slots", n)
	w.notifier.Publish(model.Notification{
		Title:       fmt.Sprintf("%s resubmitted", doc),
		Message:     fmt.Sprintf("%q is ready for review again", p.Judul),
		Severity:    model.SeverityInfo,
		TargetRoles: Approvers(),
		ProposalID:  p.ID,
	})
	return p, nil
}

func (w *Workflow) findProposal(ctx context.Context, id int64) (*model.Proposal, error) {
	p, err := w.database.FindProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding proposal: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// checkOwnership keeps submitters on their own proposals.
func checkOwnership(p *model.Proposal, actor model.Actor) error {
	if actor.Role == model.RoleSubmitter && p.SubmitterID != actor.UserID {
		return ErrForbidden
	}
	return nil
}
