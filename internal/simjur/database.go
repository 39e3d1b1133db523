package simjur

import (
	"context"
	"time"

	"simjur/internal/model"
)

// Database is the relational store behind the portal. Finder methods return
// (nil, nil) when nothing matches.
type Database interface {
	// Proposal operations

	// CreateProposal inserts p with both ladders Pending and sets p.ID.
	CreateProposal(ctx context.Context, p *model.Proposal) error

	FindProposal(ctx context.Context, id int64) (*model.Proposal, error)

	ListProposals(ctx context.Context, filter model.ProposalFilter) ([]*model.Proposal, error)

	// DeleteProposal removes the proposal and every row that references it.
	DeleteProposal(ctx context.Context, id int64) error

	// Approval operations

	// RecordDecision moves one slot from Pending to d.Status and stores d.Note
	// (if any) in a single transaction. Returns ErrSlotNotPending if the slot
	// was decided concurrently.
	RecordDecision(ctx context.Context, d model.Decision) error

	// ResetLadder sets every Revisi or Rejected slot of doc back to Pending
	// and forgets who reviewed the document. Returns the number of slots reset.
	ResetLadder(ctx context.Context, proposalID int64, doc model.DocType, at time.Time) (int, error)

	ListNotes(ctx context.Context, proposalID int64, doc model.DocType) ([]*model.Note, error)

	// MarkReviewed records that role has downloaded the document. Idempotent.
	MarkReviewed(ctx context.Context, proposalID int64, doc model.DocType, actor model.Actor, at time.Time) error

	HasReviewed(ctx context.Context, proposalID int64, doc model.DocType, role model.Role) (bool, error)

	// File metadata operations

	// SaveFileRecord inserts or replaces the display record of a document and
	// forgets who reviewed the previous payload.
	SaveFileRecord(ctx context.Context, rec *model.FileRecord) error

	FindFileRecord(ctx context.Context, proposalID int64, doc model.DocType) (*model.FileRecord, error)

	// DeleteFileRecord is idempotent.
	DeleteFileRecord(ctx context.Context, proposalID int64, doc model.DocType) error

	// Budget operations

	SetApprovedBudget(ctx context.Context, b *model.Budget) error

	FindApprovedBudget(ctx context.Context, proposalID int64) (*model.Budget, error)

	BudgetTotals(ctx context.Context) (*model.BudgetSummary, error)

	// User operations

	CreateUser(ctx context.Context, u *model.User) error

	FindUserByID(ctx context.Context, id string) (*model.User, error)

	FindUserByUsername(ctx context.Context, username string) (*model.User, error)

	// ListUsersByRoles returns active users holding any of roles; all active users if roles is empty.
	ListUsersByRoles(ctx context.Context, roles []model.Role) ([]*model.User, error)

	UpdateUserPassword(ctx context.Context, id string, hash []byte, at time.Time) error

	// Push subscription operations

	// SavePushSubscription upserts on (user, endpoint).
	SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error

	DeletePushSubscription(ctx context.Context, userID, endpoint string) error

	// ListPushSubscriptions returns the subscriptions of userID, or all when userID is empty.
	ListPushSubscriptions(ctx context.Context, userID string) ([]*model.PushSubscription, error)

	// CheckMigrations returns an error if the schema is not at the latest version.
	CheckMigrations() error

	Close() error
}
