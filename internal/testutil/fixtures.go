package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"simjur/internal/model"
	"simjur/internal/simjur"
)

// Actors for the four portal roles, matching the users CreateTestUsers inserts.
var (
	Pengaju = model.Actor{UserID: "u-pengaju", Username: "pengaju", Role: model.RoleSubmitter}
	Admin   = model.Actor{UserID: "u-admin", Username: "admin", Role: model.RoleAdmin}
	Sekjur  = model.Actor{UserID: "u-sekjur", Username: "sekjur", Role: model.RoleSecretary}
	Kajur   = model.Actor{UserID: "u-kajur", Username: "kajur", Role: model.RoleHead}
)

// ActorFor returns the fixture actor holding role.
func ActorFor(role model.Role) model.Actor {
	switch role {
	case model.RoleAdmin:
		return Admin
	case model.RoleSecretary:
		return Sekjur
	case model.RoleHead:
		return Kajur
	default:
		return Pengaju
	}
}

// CreateTestUsers inserts one active user per fixture actor. passwordHash is
// stored as given.
func CreateTestUsers(t *testing.T, db simjur.Database, passwordHash []byte) {
	t.Helper()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, a := range []model.Actor{Pengaju, Admin, Sekjur, Kajur} {
		u := &model.User{
			ID:           a.UserID,
			Username:     a.Username,
			Name:         a.Username,
			Email:        a.Username + "@kampus.ac.id",
			Role:         a.Role,
			PasswordHash: passwordHash,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := db.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", a.Username, err)
		}
	}
}

// CreateTestProposal inserts a proposal owned by submitterID with both
// ladders Pending.
func CreateTestProposal(t *testing.T, db simjur.Database, submitterID string) *model.Proposal {
	t.Helper()

	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	p := &model.Proposal{
		Judul:       "Seminar Nasional Informatika",
		Tanggal:     now.AddDate(0, 2, 0),
		Dana:        5_000_000,
		SubmitterID: submitterID,
		TOR:         model.NewLadder(),
		LPJ:         model.NewLadder(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.CreateProposal(context.Background(), p); err != nil {
		t.Fatalf("CreateProposal() error = %v", err)
	}
	return p
}

// RecordingNotifier keeps every published notification. Safe for concurrent use.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (r *RecordingNotifier) Publish(n model.Notification) model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return n
}

// Sent returns a copy of the notifications published so far.
func (r *RecordingNotifier) Sent() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Notification(nil), r.sent...)
}

// Reset forgets recorded notifications.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

var _ simjur.Notifier = (*RecordingNotifier)(nil)
