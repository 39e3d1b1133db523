package simjur

import (
	"context"
	"fmt"
	"strings"
	"time"

	"simjur/internal/model"
)

// NewProposal is the input to Proposals.Create.
type NewProposal struct {
	Judul   string
	Tanggal time.Time
	Dana    int64
}

// Proposals manages proposal records and their approved budget.
type Proposals struct {
	database  Database
	documents *Documents
	notifier  Notifier
	logger    Logger
	clock     Clock
}

// NewProposals creates a Proposals service. documents is used to cascade
// payload deletion when a proposal is removed.
func NewProposals(database Database, documents *Documents, notifier Notifier, logger Logger, clock Clock) *Proposals {
	return &Proposals{
		database:  database,
		documents: documents,
		notifier:  notifier,
		logger:    logger,
		clock:     clock,
	}
}

// Create registers a new proposal owned by the actor with both ladders Pending.
func (s *Proposals) Create(ctx context.Context, actor model.Actor, in NewProposal) (*model.Proposal, error) {
	if !Can(actor.Role, CapCreateProposal) {
		return nil, ErrForbidden
	}

	in.Judul = strings.TrimSpace(in.Judul)
	verr := NewValidationError("invalid proposal")
	if in.Judul == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "judul", Error: "this field is required"})
	}
	if in.Tanggal.IsZero() {
		verr.Fields = append(verr.Fields, FieldError{Field: "tanggal", Error: "this field is required"})
	}
	if in.Dana <= 0 {
		verr.Fields = append(verr.Fields, FieldError{Field: "dana", Error: "must be greater than 0"})
	}
	if len(verr.Fields) > 0 {
		return nil, verr
	}

	now := s.clock.Now()
	p := &model.Proposal{
		Judul:       in.Judul,
		Tanggal:     in.Tanggal,
		Dana:        in.Dana,
		SubmitterID: actor.UserID,
		TOR:         model.NewLadder(),
		LPJ:         model.NewLadder(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.database.CreateProposal(ctx, p); err != nil {
		return nil, fmt.Errorf("creating proposal: %w", err)
	}

	s.logger.Info("proposal created", "proposal", p.ID, "user", actor.Username)
	s.notifier.Publish(model.Notification{
		Title:       "New proposal submitted",
		Message:     fmt.Sprintf("%q requests Rp %d", p.Judul, p.Dana),
		Severity:    model.SeverityInfo,
		TargetRoles: Approvers(),
		ProposalID:  p.ID,
	})
	return p, nil
}

// Get returns one proposal visible to the actor.
func (s *Proposals) Get(ctx context.Context, actor model.Actor, id int64) (*model.Proposal, error) {
	p, err := s.database.FindProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding proposal: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}
	return p, nil
}

// List returns proposals visible to the actor. Submitters only see their own.
func (s *Proposals) List(ctx context.Context, actor model.Actor, filter model.ProposalFilter) ([]*model.Proposal, error) {
	if !Can(actor.Role, CapViewAllProposals) {
		filter.SubmitterID = actor.UserID
	}
	ps, err := s.database.ListProposals(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	return ps, nil
}

// Delete removes the proposal and cascades to both stored documents.
// Payload deletion runs after the record is gone; vault failures are logged
// and leave the blob orphaned.
func (s *Proposals) Delete(ctx context.Context, actor model.Actor, id int64) error {
	if !Can(actor.Role, CapDeleteProposal) {
		return ErrForbidden
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return err
	}

	if err := s.database.DeleteProposal(ctx, p.ID); err != nil {
		return fmt.Errorf("deleting proposal: %w", err)
	}
	for _, doc := range []model.DocType{model.DocTOR, model.DocLPJ} {
		if err := s.documents.purge(ctx, p.ID, doc); err != nil {
			s.logger.Error("orphaned document after proposal delete", "proposal", p.ID, "doc", string(doc), "error", err)
		}
	}
	s.logger.Info("proposal deleted", "proposal", p.ID, "user", actor.Username)
	return nil
}

// SetApprovedBudget records the amount granted to a proposal. The TOR must be
// fully approved and the amount may not exceed what was requested.
func (s *Proposals) SetApprovedBudget(ctx context.Context, actor model.Actor, id int64, amount int64) (*model.Budget, error) {
	if !Can(actor.Role, CapSetBudget) {
		return nil, ErrForbidden
	}
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if !LadderApproved(p.TOR) {
		return nil, ErrStageLocked
	}
	if amount < 0 || amount > p.Dana {
		return nil, NewValidationError("invalid budget", "amount", fmt.Sprintf("must be between 0 and %d", p.Dana))
	}

	b := &model.Budget{
		ProposalID: p.ID,
		Amount:     amount,
		SetBy:      actor.UserID,
		SetAt:      s.clock.Now(),
	}
	if err := s.database.SetApprovedBudget(ctx, b); err != nil {
		return nil, fmt.Errorf("setting approved budget: %w", err)
	}
	s.logger.Info("budget approved", "proposal", p.ID, "amount", amount, "user", actor.Username)
	s.notifier.Publish(model.Notification{
		Title:       "Budget approved",
		Message:     fmt.Sprintf("%q was granted Rp %d of Rp %d", p.Judul, amount, p.Dana),
		Severity:    model.SeveritySuccess,
		TargetRoles: []model.Role{model.RoleSubmitter},
		ProposalID:  p.ID,
	})
	return b, nil
}

// ApprovedBudget returns the budget recorded for a proposal, or nil.
func (s *Proposals) ApprovedBudget(ctx context.Context, actor model.Actor, id int64) (*model.Budget, error) {
	p, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	b, err := s.database.FindApprovedBudget(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("finding approved budget: %w", err)
	}
	return b, nil
}

// BudgetSummary totals requested and approved amounts across all proposals.
func (s *Proposals) BudgetSummary(ctx context.Context, actor model.Actor) (*model.BudgetSummary, error) {
	if !Can(actor.Role, CapViewBudget) {
		return nil, ErrForbidden
	}
	sum, err := s.database.BudgetTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("computing budget totals: %w", err)
	}
	sum.Remaining = sum.Requested - sum.Approved
	return sum, nil
}
