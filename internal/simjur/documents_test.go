package simjur_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"simjur/internal/model"
	"simjur/internal/simjur"
	"simjur/internal/testutil"
)

func TestDocuments_UploadDownload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)

	content := "%PDF-1.4 term of reference"
	rec, err := h.documents.Upload(ctx, testutil.Pengaju, p.ID, model.DocTOR, "../../TOR Seminar.pdf", "application/pdf", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if rec.Key != "file-TOR-"+itoa(p.ID) {
		t.Errorf("Key = %q", rec.Key)
	}
	if rec.Name != "TOR Seminar.pdf" {
		t.Errorf("Name = %q, want path stripped", rec.Name)
	}
	if rec.UploadedAt != testutil.FixedClock().Now() {
		t.Errorf("UploadedAt = %v", rec.UploadedAt)
	}

	var buf bytes.Buffer
	got, err := h.documents.Download(ctx, testutil.Admin, p.ID, model.DocTOR, &buf)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != content {
		t.Errorf("Download() content = %q, want %q", buf.String(), content)
	}
	if got.Name != rec.Name {
		t.Errorf("Download() record name = %q, want %q", got.Name, rec.Name)
	}

	reviewed, err := h.db.HasReviewed(ctx, p.ID, model.DocTOR, model.RoleAdmin)
	if err != nil || !reviewed {
		t.Errorf("HasReviewed(admin) = %v, %v; want true", reviewed, err)
	}
	reviewed, _ = h.db.HasReviewed(ctx, p.ID, model.DocTOR, model.RoleSecretary)
	if reviewed {
		t.Error("download by admin marked sekjur as reviewed")
	}
}

func TestDocuments_UploadReplaces(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)

	h.upload(t, p.ID, model.DocTOR, "versi 1")
	h.upload(t, p.ID, model.DocTOR, "versi 2 lebih panjang")

	var buf bytes.Buffer
	if _, err := h.documents.Download(ctx, testutil.Pengaju, p.ID, model.DocTOR, &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != "versi 2 lebih panjang" {
		t.Errorf("content = %q, want latest upload", buf.String())
	}
	if keys := h.vault.Keys(); len(keys) != 1 {
		t.Errorf("vault keys = %v, want one", keys)
	}
}

func TestDocuments_UploadClearsReviews(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "versi pertama")
	h.review(t, testutil.Admin, p.ID, model.DocTOR)

	h.upload(t, p.ID, model.DocTOR, "versi kedua")
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); !errors.Is(err, simjur.ErrNotReviewed) {
		t.Fatalf("Approve() after re-upload error = %v, want ErrNotReviewed", err)
	}

	h.review(t, testutil.Admin, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
		t.Errorf("Approve() after reviewing the new upload error = %v", err)
	}
}

func TestDocuments_FileMissing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	// record survives, payload does not
	if err := h.vault.Delete(ctx, model.FileKey(model.DocTOR, p.ID)); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	rec, err := h.documents.Download(ctx, testutil.Admin, p.ID, model.DocTOR, &buf)
	if !errors.Is(err, simjur.ErrFileMissing) {
		t.Fatalf("Download() error = %v, want ErrFileMissing", err)
	}
	if rec == nil || rec.Name != "tor.pdf" {
		t.Errorf("Download() record = %+v, want display record", rec)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for missing file", buf.Len())
	}
	if reviewed, _ := h.db.HasReviewed(ctx, p.ID, model.DocTOR, model.RoleAdmin); reviewed {
		t.Error("missing file marked as reviewed")
	}
}

func TestDocuments_DownloadNothingUploaded(t *testing.T) {
	h := newHarness(t)
	p := h.newProposal(t)

	_, err := h.documents.Download(context.Background(), testutil.Admin, p.ID, model.DocTOR, &bytes.Buffer{})
	if !errors.Is(err, simjur.ErrNotFound) {
		t.Errorf("Download() error = %v, want ErrNotFound", err)
	}
}

func TestDocuments_Delete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	if err := h.documents.Delete(ctx, testutil.Pengaju, p.ID, model.DocTOR); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if keys := h.vault.Keys(); len(keys) != 0 {
		t.Errorf("vault keys after delete = %v", keys)
	}
	rec, err := h.documents.Stat(ctx, testutil.Pengaju, p.ID, model.DocTOR)
	if err != nil || rec != nil {
		t.Errorf("Stat() after delete = %+v, %v; want nil, nil", rec, err)
	}

	// second delete is a no-op
	if err := h.documents.Delete(ctx, testutil.Pengaju, p.ID, model.DocTOR); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestDocuments_Permissions(t *testing.T) {
	ctx := context.Background()
	stranger := model.Actor{UserID: "u-lain", Username: "lain", Role: model.RoleSubmitter}

	tests := []struct {
		name    string
		op      func(h *harness, id int64) error
		wantErr error
	}{
		{
			name: "approver cannot upload",
			op: func(h *harness, id int64) error {
				_, err := h.documents.Upload(ctx, testutil.Admin, id, model.DocTOR, "a.pdf", "", strings.NewReader("x"), 1)
				return err
			},
			wantErr: simjur.ErrForbidden,
		},
		{
			name: "other submitter cannot upload",
			op: func(h *harness, id int64) error {
				_, err := h.documents.Upload(ctx, stranger, id, model.DocTOR, "a.pdf", "", strings.NewReader("x"), 1)
				return err
			},
			wantErr: simjur.ErrForbidden,
		},
		{
			name: "other submitter cannot download",
			op: func(h *harness, id int64) error {
				_, err := h.documents.Download(ctx, stranger, id, model.DocTOR, &bytes.Buffer{})
				return err
			},
			wantErr: simjur.ErrForbidden,
		},
		{
			name: "approver cannot delete",
			op: func(h *harness, id int64) error {
				return h.documents.Delete(ctx, testutil.Kajur, id, model.DocTOR)
			},
			wantErr: simjur.ErrForbidden,
		},
		{
			name: "unknown proposal",
			op: func(h *harness, id int64) error {
				_, err := h.documents.Upload(ctx, testutil.Pengaju, id+100, model.DocTOR, "a.pdf", "", strings.NewReader("x"), 1)
				return err
			},
			wantErr: simjur.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.newProposal(t)
			if err := tt.op(h, p.ID); !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDocuments_UploadRequiresName(t *testing.T) {
	h := newHarness(t)
	p := h.newProposal(t)

	_, err := h.documents.Upload(context.Background(), testutil.Pengaju, p.ID, model.DocTOR, "  ", "", strings.NewReader("x"), 1)
	var verr *simjur.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Upload() error = %v, want ValidationError", err)
	}
}

func TestDocuments_UploadNotifiesApprovers(t *testing.T) {
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	sent := h.notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	if sent[0].VisibleTo(model.RoleSubmitter) || !sent[0].VisibleTo(model.RoleSecretary) {
		t.Errorf("TargetRoles = %v, want approvers only", sent[0].TargetRoles)
	}
}
