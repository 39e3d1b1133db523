package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role is the single role a portal account holds.
type Role string

const (
	RoleSubmitter Role = "pengaju"
	RoleAdmin     Role = "admin"
	RoleSecretary Role = "sekjur"
	RoleHead      Role = "kajur"
)

// AllRoles lists every known role in approval order, submitter first.
var AllRoles = []Role{RoleSubmitter, RoleAdmin, RoleSecretary, RoleHead}

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role: %q", s)
}

// DocType distinguishes the proposal document (TOR) from the expense report (LPJ).
type DocType string

const (
	DocTOR DocType = "TOR"
	DocLPJ DocType = "LPJ"
)

// ParseDocType accepts "TOR"/"LPJ" in any case.
func ParseDocType(s string) (DocType, error) {
	switch DocType(strings.ToUpper(strings.TrimSpace(s))) {
	case DocTOR:
		return DocTOR, nil
	case DocLPJ:
		return DocLPJ, nil
	default:
		return "", fmt.Errorf("unknown document type: %q", s)
	}
}

// SlotStatus is the value held by one approval slot.
type SlotStatus string

const (
	StatusPending  SlotStatus = "Pending"
	StatusApproved SlotStatus = "Approved"
	StatusRejected SlotStatus = "Rejected"
	StatusRevisi   SlotStatus = "Revisi"
)

// SlotCount is the number of approval slots per ladder.
const SlotCount = 3

// Ladder holds the three slot statuses of one document type, indexed 0..2
// for slots 1..3.
type Ladder [SlotCount]SlotStatus

// NewLadder returns a ladder with every slot Pending.
func NewLadder() Ladder {
	return Ladder{StatusPending, StatusPending, StatusPending}
}

// Slot returns the stored status of slot n (1-based).
func (l Ladder) Slot(n int) SlotStatus {
	return l[n-1]
}

// Field addresses one slot of one ladder, e.g. tor3 or lpj1.
type Field struct {
	Doc  DocType
	Slot int
}

// ParseField parses "tor1".."lpj3".
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 {
		return Field{}, fmt.Errorf("invalid approval field: %q", s)
	}
	doc, err := ParseDocType(s[:3])
	if err != nil {
		return Field{}, fmt.Errorf("invalid approval field: %q", s)
	}
	n, err := strconv.Atoi(s[3:])
	if err != nil || n < 1 || n > SlotCount {
		return Field{}, fmt.Errorf("invalid approval field: %q", s)
	}
	return Field{Doc: doc, Slot: n}, nil
}

func (f Field) String() string {
	return strings.ToLower(string(f.Doc)) + strconv.Itoa(f.Slot)
}

// Proposal is one activity proposal together with both approval ladders.
type Proposal struct {
	ID          int64     `json:"id"`
	Judul       string    `json:"judul"`
	Tanggal     time.Time `json:"tanggal"`
	Dana        int64     `json:"dana"`
	SubmitterID string    `json:"submitter_id"`
	TOR         Ladder    `json:"tor"`
	LPJ         Ladder    `json:"lpj"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ladder returns the ladder for doc.
func (p *Proposal) Ladder(doc DocType) Ladder {
	if doc == DocLPJ {
		return p.LPJ
	}
	return p.TOR
}

// SetSlot updates the stored status addressed by f.
func (p *Proposal) SetSlot(f Field, status SlotStatus) {
	if f.Doc == DocLPJ {
		p.LPJ[f.Slot-1] = status
		return
	}
	p.TOR[f.Slot-1] = status
}

// Stage is where a proposal sits in the TOR then LPJ sequence.
type Stage string

const (
	StageTOR  Stage = "tor"  // TOR not yet fully approved
	StageLPJ  Stage = "lpj"  // TOR approved, LPJ in progress
	StageDone Stage = "done" // both ladders approved
)

// ParseStage validates a stage filter value.
func ParseStage(s string) (Stage, error) {
	switch st := Stage(strings.ToLower(strings.TrimSpace(s))); st {
	case StageTOR, StageLPJ, StageDone:
		return st, nil
	default:
		return "", fmt.Errorf("unknown stage: %q", s)
	}
}

// ProposalFilter narrows ListProposals. Zero values match everything.
type ProposalFilter struct {
	SubmitterID string
	Stage       Stage
	Limit       int
	Offset      int
}

// Actor identifies who is performing an operation.
type Actor struct {
	UserID   string
	Username string
	Role     Role
}

// Decision is a single slot transition plus the optional revision note.
type Decision struct {
	ProposalID int64
	Field      Field
	Status     SlotStatus
	Note       string
	Actor      Actor
	At         time.Time
}

// Note is the revision note left by one role on one document of a proposal.
type Note struct {
	ProposalID int64     `json:"proposal_id" db:"proposal_id"`
	Doc        DocType   `json:"doc" db:"doc_type"`
	Role       Role      `json:"role" db:"role"`
	Body       string    `json:"body" db:"body"`
	AuthorID   string    `json:"author_id" db:"author_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FileKey returns the vault key of a proposal document, e.g. file-TOR-42.
func FileKey(doc DocType, proposalID int64) string {
	return fmt.Sprintf("file-%s-%d", doc, proposalID)
}

// FileNameKey returns the key under which the display name is tracked.
func FileNameKey(doc DocType, proposalID int64) string {
	return fmt.Sprintf("file-name-%s-%d", doc, proposalID)
}

// FileRecord is the display metadata of an uploaded document. The payload
// itself lives in the vault under Key.
type FileRecord struct {
	Key         string    `json:"key" db:"vault_key"`
	ProposalID  int64     `json:"proposal_id" db:"proposal_id"`
	Doc         DocType   `json:"doc" db:"doc_type"`
	Name        string    `json:"name" db:"file_name"`
	ContentType string    `json:"content_type" db:"content_type"`
	Size        int64     `json:"size" db:"size"`
	UploadedBy  string    `json:"uploaded_by" db:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// Budget is the approved amount recorded for a proposal.
type Budget struct {
	ProposalID int64     `json:"proposal_id" db:"proposal_id"`
	Amount     int64     `json:"amount" db:"amount"`
	SetBy      string    `json:"set_by" db:"set_by"`
	SetAt      time.Time `json:"set_at" db:"set_at"`
}

// BudgetSummary aggregates requested and approved amounts across proposals.
type BudgetSummary struct {
	Proposals int   `json:"proposals" db:"proposals"`
	Requested int64 `json:"requested" db:"requested"`
	Approved  int64 `json:"approved" db:"approved"`
	Remaining int64 `json:"remaining"`
}

// User is a portal account.
type User struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Role         Role      `json:"role" db:"role"`
	PasswordHash []byte    `json:"-" db:"password_hash"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Actor returns the acting identity of u.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// PushKeys are the client keys of a web push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh" db:"p256dh"`
	Auth   string `json:"auth" db:"auth"`
}

// PushSubscription is one browser endpoint registered by a user.
type PushSubscription struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	Keys      PushKeys  `json:"keys" db:"-"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is an in-app message. An empty TargetRoles means every role
// may see it.
type Notification struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	TargetRoles []Role    `json:"target_roles,omitempty"`
	ProposalID  int64     `json:"proposal_id,omitempty"`
	Read        bool      `json:"read"`
}

// VisibleTo reports whether role may see n.
func (n Notification) VisibleTo(role Role) bool {
	if len(n.TargetRoles) == 0 {
		return true
	}
	for _, r := range n.TargetRoles {
		if r == role {
			return true
		}
	}
	return false
}
