package simjur_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"simjur/internal/database"
	"simjur/internal/model"
	"simjur/internal/simjur"
	"simjur/internal/testutil"
	"simjur/internal/vault"
)

type harness struct {
	db        *database.SQLDatabase
	vault     *vault.MemoryVault
	notifier  *testutil.RecordingNotifier
	clock     *testutil.StubClock
	workflow  *simjur.Workflow
	documents *simjur.Documents
	proposals *simjur.Proposals
}

func newHarness(t *testing.T, opts ...simjur.WorkflowOption) *harness {
	t.Helper()

	h := &harness{
		db:       testutil.NewTestDatabase(t),
		vault:    testutil.NewTestVault(),
		notifier: &testutil.RecordingNotifier{},
		clock:    testutil.FixedClock(),
	}
	logger := simjur.NewNopLogger()
	h.workflow = simjur.NewWorkflow(h.db, h.notifier, logger, h.clock, opts...)
	h.documents = simjur.NewDocuments(h.db, h.vault, h.notifier, logger, h.clock)
	h.proposals = simjur.NewProposals(h.db, h.documents, h.notifier, logger, h.clock)
	return h
}

// newProposal creates a proposal owned by the fixture submitter.
func (h *harness) newProposal(t *testing.T) *model.Proposal {
	t.Helper()
	return testutil.CreateTestProposal(t, h.db, testutil.Pengaju.UserID)
}

func (h *harness) upload(t *testing.T, id int64, doc model.DocType, content string) {
	t.Helper()
	_, err := h.documents.Upload(context.Background(), testutil.Pengaju, id, doc, strings.ToLower(string(doc))+".pdf", "application/pdf", strings.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Upload(%s) error = %v", doc, err)
	}
}

// review downloads doc as actor, which marks it reviewed for the actor's role.
func (h *harness) review(t *testing.T, actor model.Actor, id int64, doc model.DocType) {
	t.Helper()
	if _, err := h.documents.Download(context.Background(), actor, id, doc, &bytes.Buffer{}); err != nil {
		t.Fatalf("Download(%s) as %s error = %v", doc, actor.Role, err)
	}
}

// approveAll uploads doc and walks it through all three slots.
func (h *harness) approveAll(t *testing.T, id int64, doc model.DocType) {
	t.Helper()
	h.upload(t, id, doc, "isi "+string(doc))
	for n := 1; n <= model.SlotCount; n++ {
		actor := testutil.ActorFor(simjur.SlotRole(n))
		h.review(t, actor, id, doc)
		if _, err := h.workflow.Approve(context.Background(), actor, id, model.Field{Doc: doc, Slot: n}); err != nil {
			t.Fatalf("Approve(%s%d) error = %v", doc, n, err)
		}
	}
}

func field(s string) model.Field {
	f, err := model.ParseField(s)
	if err != nil {
		panic(err)
	}
	return f
}
