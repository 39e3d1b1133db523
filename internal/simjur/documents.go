package simjur

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"simjur/internal/model"
)

// Documents manages the TOR and LPJ payloads of proposals. Payloads live in
// the vault; display names live in the database.
type Documents struct {
	database Database
	vault    Vault
	notifier Notifier
	logger   Logger
	clock    Clock
}

// NewDocuments creates a Documents service.
func NewDocuments(database Database, vault Vault, notifier Notifier, logger Logger, clock Clock) *Documents {
	return &Documents{
		database: database,
		vault:    vault,
		notifier: notifier,
		logger:   logger,
		clock:    clock,
	}
}

// Upload stores the document and its display name. Uploading again replaces
// the previous payload.
func (d *Documents) Upload(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType, name, contentType string, r io.Reader, size int64) (*model.FileRecord, error) {
	if !Can(actor.Role, CapUploadDocument) {
		return nil, ErrForbidden
	}
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, NewValidationError("invalid file", "file", "file name is required")
	}

	p, err := d.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}
	if !StageOpen(p, doc) {
		return nil, ErrStageLocked
	}

	key := model.FileKey(doc, proposalID)
	if err := d.vault.Put(ctx, key, r, size); err != nil {
		return nil, fmt.Errorf("storing %s: %w", key, err)
	}

	rec := &model.FileRecord{
		Key:         key,
		ProposalID:  proposalID,
		Doc:         doc,
		Name:        name,
		ContentType: contentType,
		Size:        size,
		UploadedBy:  actor.UserID,
		UploadedAt:  d.clock.Now(),
	}
	if err := d.database.SaveFileRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving file record: %w", err)
	}

	d.logger.Info("document uploaded", "key", key, "name", name, "size", size)
	d.notifier.Publish(model.Notification{
		Title:       fmt.Sprintf("New %s uploaded", doc),
		Message:     fmt.Sprintf("%q: %s", p.Judul, name),
		Severity:    model.SeverityInfo,
		TargetRoles: Approvers(),
		ProposalID:  proposalID,
	})
	return rec, nil
}

// Download writes the document to w and marks it reviewed for the actor's
// role. If the record exists but the payload does not, ErrFileMissing is
// returned and nothing is written.
func (d *Documents) Download(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType, w io.Writer) (*model.FileRecord, error) {
	if !Can(actor.Role, CapDownloadDocument) {
		return nil, ErrForbidden
	}
	p, err := d.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}

	rec, err := d.database.FindFileRecord(ctx, proposalID, doc)
	if err != nil {
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	found, err := d.vault.Get(ctx, rec.Key, w)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rec.Key, err)
	}
	if !found {
		d.logger.Warn("document payload missing", "key", rec.Key)
		return rec, ErrFileMissing
	}

	if SlotOf(actor.Role) != 0 {
		if err := d.database.MarkReviewed(ctx, proposalID, doc, actor, d.clock.Now()); err != nil {
			return nil, fmt.Errorf("marking reviewed: %w", err)
		}
	}
	return rec, nil
}

// Stat returns the display record without touching the vault, or nil if
// nothing was uploaded.
func (d *Documents) Stat(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType) (*model.FileRecord, error) {
	p, err := d.findProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(p, actor); err != nil {
		return nil, err
	}
	rec, err := d.database.FindFileRecord(ctx, proposalID, doc)
	if err != nil {
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	return rec, nil
}

// Delete removes the payload and its display name. Deleting a document that
// does not exist succeeds.
func (d *Documents) Delete(ctx context.Context, actor model.Actor, proposalID int64, doc model.DocType) error {
	if !Can(actor.Role, CapDeleteDocument) {
		return ErrForbidden
	}
	p, err := d.findProposal(ctx, proposalID)
	if err != nil {
		return err
	}
	if err := checkOwnership(p, actor); err != nil {
		return err
	}
	return d.purge(ctx, proposalID, doc)
}

// purge removes one document's payload and record without permission checks.
func (d *Documents) purge(ctx context.Context, proposalID int64, doc model.DocType) error {
	key := model.FileKey(doc, proposalID)
	if err := d.vault.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	if err := d.database.DeleteFileRecord(ctx, proposalID, doc); err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}
	d.logger.Info("document deleted", "key", key)
	return nil
}

func (d *Documents) findProposal(ctx context.Context, id int64) (*model.Proposal, error) {
	p, err := d.database.FindProposal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding proposal: %w", err)
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}
