package simjur_test

import (
	"context"
	"errors"
	"testing"

	"simjur/internal/model"
	"simjur/internal/simjur"
	"simjur/internal/testutil"
)

func TestWorkflow_HeadApprovesAfterEarlierSlots(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	for _, actor := range []model.Actor{testutil.Admin, testutil.Sekjur} {
		h.review(t, actor, p.ID, model.DocTOR)
	}
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
		t.Fatalf("Approve(tor1) error = %v", err)
	}
	if _, err := h.workflow.Approve(ctx, testutil.Sekjur, p.ID, field("tor2")); err != nil {
		t.Fatalf("Approve(tor2) error = %v", err)
	}

	h.review(t, testutil.Kajur, p.ID, model.DocTOR)
	got, err := h.workflow.Approve(ctx, testutil.Kajur, p.ID, field("tor3"))
	if err != nil {
		t.Fatalf("Approve(tor3) error = %v", err)
	}
	if got.TOR.Slot(3) != model.StatusApproved {
		t.Errorf("tor3 = %s, want Approved", got.TOR.Slot(3))
	}

	stored, _ := h.db.FindProposal(ctx, p.ID)
	if !simjur.LadderApproved(stored.TOR) {
		t.Errorf("stored TOR = %v, want fully approved", stored.TOR)
	}
	if !simjur.StageOpen(stored, model.DocLPJ) {
		t.Error("LPJ stage still locked after TOR approval")
	}
}

func TestWorkflow_Preconditions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness, id int64)
		actor   model.Actor
		field   string
		wantErr error
	}{
		{
			name:    "submitter cannot decide",
			actor:   testutil.Pengaju,
			field:   "tor1",
			wantErr: simjur.ErrForbidden,
		},
		{
			name:    "wrong role for slot",
			actor:   testutil.Sekjur,
			field:   "tor1",
			wantErr: simjur.ErrForbidden,
		},
		{
			name:    "lpj locked before tor approval",
			actor:   testutil.Admin,
			field:   "lpj1",
			wantErr: simjur.ErrStageLocked,
		},
		{
			name: "slot 3 locked before slots 1 and 2",
			setup: func(t *testing.T, h *harness, id int64) {
				h.upload(t, id, model.DocTOR, "tor")
				h.review(t, testutil.Admin, id, model.DocTOR)
				if _, err := h.workflow.Approve(ctx, testutil.Admin, id, field("tor1")); err != nil {
					t.Fatal(err)
				}
				h.review(t, testutil.Kajur, id, model.DocTOR)
			},
			actor:   testutil.Kajur,
			field:   "tor3",
			wantErr: simjur.ErrSlotLocked,
		},
		{
			name: "ladder closed after rejection",
			setup: func(t *testing.T, h *harness, id int64) {
				h.upload(t, id, model.DocTOR, "tor")
				h.review(t, testutil.Sekjur, id, model.DocTOR)
				if _, err := h.workflow.Reject(ctx, testutil.Sekjur, id, field("tor2")); err != nil {
					t.Fatal(err)
				}
				h.review(t, testutil.Admin, id, model.DocTOR)
			},
			actor:   testutil.Admin,
			field:   "tor1",
			wantErr: simjur.ErrLadderClosed,
		},
		{
			name: "slot already decided",
			setup: func(t *testing.T, h *harness, id int64) {
				h.upload(t, id, model.DocTOR, "tor")
				h.review(t, testutil.Admin, id, model.DocTOR)
				if _, err := h.workflow.Approve(ctx, testutil.Admin, id, field("tor1")); err != nil {
					t.Fatal(err)
				}
			},
			actor:   testutil.Admin,
			field:   "tor1",
			wantErr: simjur.ErrSlotNotPending,
		},
		{
			name:    "document never uploaded",
			actor:   testutil.Admin,
			field:   "tor1",
			wantErr: simjur.ErrNotFound,
		},
		{
			name: "document not reviewed",
			setup: func(t *testing.T, h *harness, id int64) {
				h.upload(t, id, model.DocTOR, "tor")
			},
			actor:   testutil.Admin,
			field:   "tor1",
			wantErr: simjur.ErrNotReviewed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			p := h.newProposal(t)
			if tt.setup != nil {
				tt.setup(t, h, p.ID)
			}
			before, _ := h.db.FindProposal(ctx, p.ID)
			h.notifier.Reset()

			_, err := h.workflow.Approve(ctx, tt.actor, p.ID, field(tt.field))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Approve(%s) error = %v, want %v", tt.field, err, tt.wantErr)
			}

			after, _ := h.db.FindProposal(ctx, p.ID)
			if after.TOR != before.TOR || after.LPJ != before.LPJ {
				t.Errorf("ladders changed on error: %v/%v -> %v/%v", before.TOR, before.LPJ, after.TOR, after.LPJ)
			}
			if n := len(h.notifier.Sent()); n != 0 {
				t.Errorf("%d notifications published on error", n)
			}
		})
	}
}

func TestWorkflow_ProposalNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.workflow.Approve(context.Background(), testutil.Admin, 404, field("tor1"))
	if !errors.Is(err, simjur.ErrNotFound) {
		t.Errorf("Approve() error = %v, want ErrNotFound", err)
	}
}

func TestWorkflow_SlotsOneAndTwoUnordered(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	h.review(t, testutil.Sekjur, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Sekjur, p.ID, field("tor2")); err != nil {
		t.Fatalf("Approve(tor2) before tor1 error = %v", err)
	}
	h.review(t, testutil.Admin, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
		t.Fatalf("Approve(tor1) error = %v", err)
	}
}

func TestWorkflow_RequestRevision(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a note", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)
		h.upload(t, p.ID, model.DocTOR, "tor")
		h.review(t, testutil.Admin, p.ID, model.DocTOR)

		_, err := h.workflow.RequestRevision(ctx, testutil.Admin, p.ID, field("tor1"), "   ")
		var verr *simjur.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("RequestRevision() error = %v, want ValidationError", err)
		}
		if len(verr.Fields) != 1 || verr.Fields[0].Field != "note" {
			t.Errorf("Fields = %+v, want note", verr.Fields)
		}
	})

	t.Run("stores note visible to submitter", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)
		h.upload(t, p.ID, model.DocTOR, "tor")
		h.review(t, testutil.Sekjur, p.ID, model.DocTOR)

		got, err := h.workflow.RequestRevision(ctx, testutil.Sekjur, p.ID, field("tor2"), "Lengkapi jadwal kegiatan")
		if err != nil {
			t.Fatalf("RequestRevision() error = %v", err)
		}
		if got.TOR.Slot(2) != model.StatusRevisi {
			t.Errorf("tor2 = %s, want Revisi", got.TOR.Slot(2))
		}

		notes, err := h.workflow.Notes(ctx, testutil.Pengaju, p.ID, model.DocTOR)
		if err != nil {
			t.Fatalf("Notes() error = %v", err)
		}
		if len(notes) != 1 || notes[0].Role != model.RoleSecretary || notes[0].Body != "Lengkapi jadwal kegiatan" {
			t.Errorf("Notes() = %+v", notes)
		}

		sent := h.notifier.Sent()
		last := sent[len(sent)-1]
		if last.Severity != model.SeverityWarning || !last.VisibleTo(model.RoleSubmitter) {
			t.Errorf("last notification = %+v, want warning for pengaju", last)
		}
	})

	t.Run("other submitters cannot read notes", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)
		stranger := model.Actor{UserID: "u-lain", Username: "lain", Role: model.RoleSubmitter}

		if _, err := h.workflow.Notes(ctx, stranger, p.ID, model.DocTOR); !errors.Is(err, simjur.ErrForbidden) {
			t.Errorf("Notes() as stranger error = %v, want ErrForbidden", err)
		}
	})
}

func TestWorkflow_Notifications(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")

	h.review(t, testutil.Admin, p.ID, model.DocTOR)
	h.review(t, testutil.Sekjur, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
		t.Fatal(err)
	}
	h.notifier.Reset()

	if _, err := h.workflow.Approve(ctx, testutil.Sekjur, p.ID, field("tor2")); err != nil {
		t.Fatal(err)
	}
	sent := h.notifier.Sent()
	if len(sent) != 1 || !sent[0].VisibleTo(model.RoleHead) {
		t.Errorf("after tor2 got %+v, want one notification reaching kajur", sent)
	}

	h.notifier.Reset()
	h.review(t, testutil.Kajur, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Kajur, p.ID, field("tor3")); err != nil {
		t.Fatal(err)
	}
	sent = h.notifier.Sent()
	if len(sent) != 2 {
		t.Fatalf("after tor3 got %d notifications, want 2", len(sent))
	}
	if len(sent[1].TargetRoles) != 0 {
		t.Errorf("completion notification targets %v, want everyone", sent[1].TargetRoles)
	}
}

func TestWorkflow_MarkReviewed(t *testing.T) {
	ctx := context.Background()

	t.Run("unlocks approval", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)
		h.upload(t, p.ID, model.DocTOR, "tor")

		if err := h.workflow.MarkReviewed(ctx, testutil.Admin, p.ID, model.DocLPJ); !errors.Is(err, simjur.ErrStageLocked) {
			t.Errorf("MarkReviewed(LPJ) error = %v, want ErrStageLocked", err)
		}
		if err := h.workflow.MarkReviewed(ctx, testutil.Admin, p.ID, model.DocTOR); err != nil {
			t.Fatalf("MarkReviewed(TOR) error = %v", err)
		}
		if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
			t.Errorf("Approve() after MarkReviewed error = %v", err)
		}
	})

	t.Run("requires an uploaded document", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)

		if err := h.workflow.MarkReviewed(ctx, testutil.Admin, p.ID, model.DocTOR); !errors.Is(err, simjur.ErrNotFound) {
			t.Fatalf("MarkReviewed(TOR) without upload error = %v, want ErrNotFound", err)
		}
		if reviewed, _ := h.db.HasReviewed(ctx, p.ID, model.DocTOR, model.RoleAdmin); reviewed {
			t.Error("review recorded for a document that was never uploaded")
		}
	})

	t.Run("document deleted after review", func(t *testing.T) {
		h := newHarness(t)
		p := h.newProposal(t)
		h.upload(t, p.ID, model.DocTOR, "tor")
		if err := h.workflow.MarkReviewed(ctx, testutil.Admin, p.ID, model.DocTOR); err != nil {
			t.Fatalf("MarkReviewed(TOR) error = %v", err)
		}
		if err := h.documents.Delete(ctx, testutil.Pengaju, p.ID, model.DocTOR); err != nil {
			t.Fatalf("Delete(TOR) error = %v", err)
		}

		_, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1"))
		if !errors.Is(err, simjur.ErrNotFound) {
			t.Errorf("Approve() after delete error = %v, want ErrNotFound", err)
		}
		stored, _ := h.db.FindProposal(ctx, p.ID)
		if stored.TOR.Slot(1) != model.StatusPending {
			t.Errorf("tor1 = %s, want Pending", stored.TOR.Slot(1))
		}
	})
}

func TestWorkflow_RevisiLeavesOtherSlotsOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)
	h.upload(t, p.ID, model.DocTOR, "tor")
	h.review(t, testutil.Sekjur, p.ID, model.DocTOR)
	h.review(t, testutil.Admin, p.ID, model.DocTOR)

	if _, err := h.workflow.RequestRevision(ctx, testutil.Sekjur, p.ID, field("tor2"), "Perbaiki anggaran"); err != nil {
		t.Fatalf("RequestRevision(tor2) error = %v", err)
	}
	if _, err := h.workflow.Approve(ctx, testutil.Sekjur, p.ID, field("tor2")); !errors.Is(err, simjur.ErrSlotNotPending) {
		t.Errorf("Approve(tor2) after Revisi error = %v, want ErrSlotNotPending", err)
	}
	if _, err := h.workflow.Approve(ctx, testutil.Admin, p.ID, field("tor1")); err != nil {
		t.Errorf("Approve(tor1) next to a Revisi slot error = %v", err)
	}
	h.review(t, testutil.Kajur, p.ID, model.DocTOR)
	if _, err := h.workflow.Approve(ctx, testutil.Kajur, p.ID, field("tor3")); !errors.Is(err, simjur.ErrSlotLocked) {
		t.Errorf("Approve(tor3) error = %v, want ErrSlotLocked", err)
	}
}

func TestWorkflow_LPJAfterTOR(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	p := h.newProposal(t)

	_, err := h.documents.Upload(ctx, testutil.Pengaju, p.ID, model.DocLPJ, "lpj.pdf", "application/pdf", nil, 0)
	if !errors.Is(err, simjur.ErrStageLocked) {
		t.Fatalf("Upload(LPJ) before TOR error = %v, want ErrStageLocked", err)
	}

	h.approveAll(t, p.ID, model.DocTOR)
	h.approveAll(t, p.ID, model.DocLPJ)

	stored, _ := h.db.FindProposal(ctx, p.ID)
	if !simjur.LadderApproved(stored.LPJ) {
		t.Errorf("LPJ = %v, want fully approved", stored.LPJ)
	}
}

func TestWorkflow_Resubmit(t *testing.T) {
	ctx := context.Background()

	revise := func(t *testing.T, h *harness) int64 {
		t.Helper()
		p := h.newProposal(t)
		h.upload(t, p.ID, model.DocTOR, "tor")
		h.review(t, testutil.Admin, p.ID, model.DocTOR)
		if _, err := h.workflow.RequestRevision(ctx, testutil.Admin, p.ID, field("tor1"), "perbaiki anggaran"); err != nil {
			t.Fatal(err)
		}
		return p.ID
	}

	t.Run("disabled by default", func(t *testing.T) {
		h := newHarness(t)
		id := revise(t, h)
		if _, err := h.workflow.Resubmit(ctx, testutil.Pengaju, id, model.DocTOR); !errors.Is(err, simjur.ErrResubmitDisabled) {
			t.Errorf("Resubmit() error = %v, want ErrResubmitDisabled", err)
		}
	})

	t.Run("resets revised slot and review markers", func(t *testing.T) {
		h := newHarness(t, simjur.WithResubmission(true))
		id := revise(t, h)

		p, err := h.workflow.Resubmit(ctx, testutil.Pengaju, id, model.DocTOR)
		if err != nil {
			t.Fatalf("Resubmit() error = %v", err)
		}
		if p.TOR != model.NewLadder() {
			t.Errorf("TOR = %v, want all Pending", p.TOR)
		}
		// the fixed document must be looked at again
		if _, err := h.workflow.Approve(ctx, testutil.Admin, id, field("tor1")); !errors.Is(err, simjur.ErrNotReviewed) {
			t.Errorf("Approve() after resubmit error = %v, want ErrNotReviewed", err)
		}
	})

	t.Run("nothing to resubmit", func(t *testing.T) {
		h := newHarness(t, simjur.WithResubmission(true))
		p := h.newProposal(t)
		if _, err := h.workflow.Resubmit(ctx, testutil.Pengaju, p.ID, model.DocTOR); !errors.Is(err, simjur.ErrNothingToResubmit) {
			t.Errorf("Resubmit() error = %v, want ErrNothingToResubmit", err)
		}
	})

	t.Run("only the owner", func(t *testing.T) {
		h := newHarness(t, simjur.WithResubmission(true))
		id := revise(t, h)
		if _, err := h.workflow.Resubmit(ctx, testutil.Admin, id, model.DocTOR); !errors.Is(err, simjur.ErrForbidden) {
			t.Errorf("Resubmit() as admin error = %v, want ErrForbidden", err)
		}
	})
}
