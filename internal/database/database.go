package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"simjur/internal/database/migrations"
	"simjur/internal/model"
	"simjur/internal/simjur"
)

// SQLDatabase implements simjur.Database on SQLite or Postgres. Queries are
// written with ? placeholders and rebound for the active driver.
type SQLDatabase struct {
	db *sqlx.DB
}

var _ simjur.Database = (*SQLDatabase)(nil)

// NewSQLDatabase opens a connection with the given driver ("sqlite3" or "postgres").
func NewSQLDatabase(driver, dsn string) (*SQLDatabase, error) {
	db, err := OpenConnection(driver, dsn)
	if err != nil {
		return nil, err
	}
	return &SQLDatabase{db: db}, nil
}

// NewSQLDatabaseFromDB wraps an existing connection.
func NewSQLDatabaseFromDB(db *sqlx.DB) *SQLDatabase {
	return &SQLDatabase{db: db}
}

// OpenConnection opens and configures a connection.
// For sqlite3, dsn is a file path or ":memory:".
func OpenConnection(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case migrations.DialectSQLite:
		memory := dsn == ":memory:"
		// foreign keys are a per-connection setting, so they go in the DSN
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
		db, err := sqlx.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if memory {
			db.SetMaxOpenConns(1)
		}
		return db, nil
	case migrations.DialectPostgres:
		db, err := sqlx.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to reach database: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// DB exposes the underlying connection for migrations and tools.
func (s *SQLDatabase) DB() *sql.DB {
	return s.db.DB
}

// Dialect returns the migration dialect of the connection.
func (s *SQLDatabase) Dialect() string {
	return s.db.DriverName()
}

// Migrate applies pending schema migrations.
func (s *SQLDatabase) Migrate() error {
	return migrations.MigrateUp(s.db.DB, s.Dialect())
}

func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db.DB, s.Dialect())
}

func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

func (s *SQLDatabase) q(query string) string {
	return s.db.Rebind(query)
}

// Proposal operations

const proposalColumns = "id, judul, tanggal, dana, submitter_id, tor1, tor2, tor3, lpj1, lpj2, lpj3, created_at, updated_at"

type proposalRow struct {
	ID          int64     `db:"id"`
	Judul       string    `db:"judul"`
	Tanggal     time.Time `db:"tanggal"`
	Dana        int64     `db:"dana"`
	SubmitterID string    `db:"submitter_id"`
	TOR1        string    `db:"tor1"`
	TOR2        string    `db:"tor2"`
	TOR3        string    `db:"tor3"`
	LPJ1        string    `db:"lpj1"`
	LPJ2        string    `db:"lpj2"`
	LPJ3        string    `db:"lpj3"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *proposalRow) toModel() *model.Proposal {
	return &model.Proposal{
		ID:          r.ID,
		Judul:       r.Judul,
		Tanggal:     r.Tanggal,
		Dana:        r.Dana,
		SubmitterID: r.SubmitterID,
		TOR:         model.Ladder{model.SlotStatus(r.TOR1), model.SlotStatus(r.TOR2), model.SlotStatus(r.TOR3)},
		LPJ:         model.Ladder{model.SlotStatus(r.LPJ1), model.SlotStatus(r.LPJ2), model.SlotStatus(r.LPJ3)},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// slotColumn maps a field to its column name. The result is spliced into
// SQL, so only the six slot columns are accepted.
func slotColumn(f model.Field) (string, error) {
	if f.Slot < 1 || f.Slot > model.SlotCount || (f.Doc != model.DocTOR && f.Doc != model.DocLPJ) {
		return "", fmt.Errorf("invalid approval field: %+v", f)
	}
	return f.String(), nil
}

func (s *SQLDatabase) CreateProposal(ctx context.Context, p *model.Proposal) error {
	err := s.db.QueryRowxContext(ctx, s.q(`
		INSERT INTO proposals (judul, tanggal, dana, submitter_id, tor1, tor2, tor3, lpj1, lpj2, lpj3, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		p.Judul, p.Tanggal, p.Dana, p.SubmitterID,
		string(p.TOR[0]), string(p.TOR[1]), string(p.TOR[2]),
		string(p.LPJ[0]), string(p.LPJ[1]), string(p.LPJ[2]),
		p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("inserting proposal: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FindProposal(ctx context.Context, id int64) (*model.Proposal, error) {
	var row proposalRow
	err := s.db.GetContext(ctx, &row, s.q("SELECT "+proposalColumns+" FROM proposals WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding proposal %d: %w", id, err)
	}
	return row.toModel(), nil
}

func (s *SQLDatabase) ListProposals(ctx context.Context, filter model.ProposalFilter) ([]*model.Proposal, error) {
	query := "SELECT " + proposalColumns + " FROM proposals"
	var where []string
	var args []any
	if filter.SubmitterID != "" {
		where = append(where, "submitter_id = ?")
		args = append(args, filter.SubmitterID)
	}
	if filter.Stage != "" {
		cond, err := stageCondition(filter.Stage)
		if err != nil {
			return nil, err
		}
		where = append(where, cond)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	var rows []proposalRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing proposals: %w", err)
	}
	out := make([]*model.Proposal, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

const (
	torApproved = "(tor1 = 'Approved' AND tor2 = 'Approved' AND tor3 = 'Approved')"
	lpjApproved = "(lpj1 = 'Approved' AND lpj2 = 'Approved' AND lpj3 = 'Approved')"
)

func stageCondition(stage model.Stage) (string, error) {
	switch stage {
	case model.StageTOR:
		return "NOT " + torApproved, nil
	case model.StageLPJ:
		return torApproved + " AND NOT " + lpjApproved, nil
	case model.StageDone:
		return torApproved + " AND " + lpjApproved, nil
	default:
		return "", fmt.Errorf("unknown stage filter %q", stage)
	}
}

func (s *SQLDatabase) DeleteProposal(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.q("DELETE FROM proposals WHERE id = ?"), id); err != nil {
		return fmt.Errorf("deleting proposal %d: %w", id, err)
	}
	return nil
}

// Approval operations

func (s *SQLDatabase) RecordDecision(ctx context.Context, d model.Decision) error {
	col, err := slotColumn(d.Field)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		s.q(fmt.Sprintf("UPDATE proposals SET %s = ?, updated_at = ? WHERE id = ? AND %s = ?", col, col)),
		string(d.Status), d.At, d.ProposalID, string(model.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", col, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update of %s: %w", col, err)
	}
	if n == 0 {
		return simjur.ErrSlotNotPending
	}

	if d.Note != "" {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO notes (proposal_id, doc_type, role, body, author_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (proposal_id, doc_type, role)
			DO UPDATE SET body = excluded.body, author_id = excluded.author_id, created_at = excluded.created_at`),
			d.ProposalID, string(d.Field.Doc), string(d.Actor.Role), d.Note, d.Actor.UserID, d.At,
		)
		if err != nil {
			return fmt.Errorf("saving note: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing decision: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ResetLadder(ctx context.Context, proposalID int64, doc model.DocType, at time.Time) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var row proposalRow
	if err := tx.GetContext(ctx, &row, s.q("SELECT "+proposalColumns+" FROM proposals WHERE id = ?"), proposalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, simjur.ErrNotFound
		}
		return 0, fmt.Errorf("reading proposal %d: %w", proposalID, err)
	}

	ladder := row.toModel().Ladder(doc)
	var sets []string
	var args []any
	for n := 1; n <= model.SlotCount; n++ {
		st := ladder.Slot(n)
		if st != model.StatusRevisi && st != model.StatusRejected {
			continue
		}
		col, err := slotColumn(model.Field{Doc: doc, Slot: n})
		if err != nil {
			return 0, err
		}
		sets = append(sets, col+" = ?")
		args = append(args, string(model.StatusPending))
	}
	if len(sets) == 0 {
		return 0, nil
	}

	args = append(args, at, proposalID)
	query := "UPDATE proposals SET " + strings.Join(sets, ", ") + ", updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, s.q(query), args...); err != nil {
		return 0, fmt.Errorf("resetting ladder: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reviews WHERE proposal_id = ? AND doc_type = ?"), proposalID, string(doc)); err != nil {
		return 0, fmt.Errorf("clearing reviews: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reset: %w", err)
	}
	return len(sets), nil
}

func (s *SQLDatabase) ListNotes(ctx context.Context, proposalID int64, doc model.DocType) ([]*model.Note, error) {
	var notes []*model.Note
	err := s.db.SelectContext(ctx, &notes, s.q(`
		SELECT proposal_id, doc_type, role, body, author_id, created_at
		FROM notes WHERE proposal_id = ? AND doc_type = ?
		ORDER BY created_at`), proposalID, string(doc))
	if err != nil {
		return nil, fmt.Errorf("listing notes: %w", err)
	}
	return notes, nil
}

func (s *SQLDatabase) MarkReviewed(ctx context.Context, proposalID int64, doc model.DocType, actor model.Actor, at time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO reviews (proposal_id, doc_type, role, user_id, reviewed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (proposal_id, doc_type, role)
		DO UPDATE SET user_id = excluded.user_id, reviewed_at = excluded.reviewed_at`),
		proposalID, string(doc), string(actor.Role), actor.UserID, at,
	)
	if err != nil {
		return fmt.Errorf("marking reviewed: %w", err)
	}
	return nil
}

func (s *SQLDatabase) HasReviewed(ctx context.Context, proposalID int64, doc model.DocType, role model.Role) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.q(
		"SELECT COUNT(*) FROM reviews WHERE proposal_id = ? AND doc_type = ? AND role = ?"),
		proposalID, string(doc), string(role),
	)
	if err != nil {
		return false, fmt.Errorf("checking review: %w", err)
	}
	return count > 0, nil
}

// File metadata operations

const fileColumns = "vault_key, proposal_id, doc_type, file_name, content_type, size, uploaded_by, uploaded_at"

func (s *SQLDatabase) SaveFileRecord(ctx context.Context, rec *model.FileRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO file_records (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (proposal_id, doc_type)
		DO UPDATE SET vault_key = excluded.vault_key, file_name = excluded.file_name,
			content_type = excluded.content_type, size = excluded.size,
			uploaded_by = excluded.uploaded_by, uploaded_at = excluded.uploaded_at`),
		rec.Key, rec.ProposalID, string(rec.Doc), rec.Name, rec.ContentType, rec.Size, rec.UploadedBy, rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("saving file record %s: %w", rec.Key, err)
	}
	// reviews of the previous payload do not carry over
	if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reviews WHERE proposal_id = ? AND doc_type = ?"), rec.ProposalID, string(rec.Doc)); err != nil {
		return fmt.Errorf("clearing reviews: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing file record %s: %w", rec.Key, err)
	}
	return nil
}

func (s *SQLDatabase) FindFileRecord(ctx context.Context, proposalID int64, doc model.DocType) (*model.FileRecord, error) {
	var rec model.FileRecord
	err := s.db.GetContext(ctx, &rec, s.q("SELECT "+fileColumns+" FROM file_records WHERE proposal_id = ? AND doc_type = ?"),
		proposalID, string(doc))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding file record: %w", err)
	}
	return &rec, nil
}

func (s *SQLDatabase) DeleteFileRecord(ctx context.Context, proposalID int64, doc model.DocType) error {
	_, err := s.db.ExecContext(ctx, s.q("DELETE FROM file_records WHERE proposal_id = ? AND doc_type = ?"), proposalID, string(doc))
	if err != nil {
		return fmt.Errorf("deleting file record: %w", err)
	}
	return nil
}

// Budget operations

func (s *SQLDatabase) SetApprovedBudget(ctx context.Context, b *model.Budget) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO approved_budgets (proposal_id, amount, set_by, set_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (proposal_id)
		DO UPDATE SET amount = excluded.amount, set_by = excluded.set_by, set_at = excluded.set_at`),
		b.ProposalID, b.Amount, b.SetBy, b.SetAt,
	)
	if err != nil {
		return fmt.Errorf("setting approved budget: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FindApprovedBudget(ctx context.Context, proposalID int64) (*model.Budget, error) {
	var b model.Budget
	err := s.db.GetContext(ctx, &b, s.q("SELECT proposal_id, amount, set_by, set_at FROM approved_budgets WHERE proposal_id = ?"), proposalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding approved budget: %w", err)
	}
	return &b, nil
}

func (s *SQLDatabase) BudgetTotals(ctx context.Context) (*model.BudgetSummary, error) {
	var sum model.BudgetSummary
	err := s.db.GetContext(ctx, &sum, `
		SELECT COUNT(*) AS proposals,
			COALESCE(SUM(p.dana), 0) AS requested,
			COALESCE(SUM(b.amount), 0) AS approved
		FROM proposals p
		LEFT JOIN approved_budgets b ON b.proposal_id = p.id`)
	if err != nil {
		return nil, fmt.Errorf("computing budget totals: %w", err)
	}
	return &sum, nil
}

// User operations

const userColumns = "id, username, name, email, role, password_hash, active, created_at, updated_at"

func (s *SQLDatabase) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :username, :name, :email, :role, :password_hash, :active, :created_at, :updated_at)`, u)
	if err != nil {
		return fmt.Errorf("creating user %s: %w", u.Username, err)
	}
	return nil
}

func (s *SQLDatabase) findUser(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.q("SELECT "+userColumns+" FROM users WHERE "+where+" = ?"), arg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return &u, nil
}

func (s *SQLDatabase) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.findUser(ctx, "id", id)
}

func (s *SQLDatabase) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.findUser(ctx, "username", username)
}

func (s *SQLDatabase) ListUsersByRoles(ctx context.Context, roles []model.Role) ([]*model.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE active = ?"
	args := []any{true}
	if len(roles) > 0 {
		in, inArgs, err := sqlx.In(" AND role IN (?)", roles)
		if err != nil {
			return nil, fmt.Errorf("building role filter: %w", err)
		}
		query += in
		args = append(args, inArgs...)
	}
	query += " ORDER BY username"

	var users []*model.User
	if err := s.db.SelectContext(ctx, &users, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

func (s *SQLDatabase) UpdateUserPassword(ctx context.Context, id string, hash []byte, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.q("UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?"), hash, at, id)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return simjur.ErrNotFound
	}
	return nil
}

// Push subscription operations

type pushRow struct {
	UserID    string    `db:"user_id"`
	Endpoint  string    `db:"endpoint"`
	P256dh    string    `db:"p256dh"`
	Auth      string    `db:"auth"`
	CreatedAt time.Time `db:"created_at"`
}

func (s *SQLDatabase) SavePushSubscription(ctx context.Context, sub *model.PushSubscription) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint)
		DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth`),
		sub.UserID, sub.Endpoint, sub.Keys.P256dh, sub.Keys.Auth, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving push subscription: %w", err)
	}
	return nil
}

func (s *SQLDatabase) DeletePushSubscription(ctx context.Context, userID, endpoint string) error {
	_, err := s.db.ExecContext(ctx, s.q("DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?"), userID, endpoint)
	if err != nil {
		return fmt.Errorf("deleting push subscription: %w", err)
	}
	return nil
}

func (s *SQLDatabase) ListPushSubscriptions(ctx context.Context, userID string) ([]*model.PushSubscription, error) {
	query := "SELECT user_id, endpoint, p256dh, auth, created_at FROM push_subscriptions"
	var args []any
	if userID != "" {
		query += " WHERE user_id = ?"
		args = append(args, userID)
	}
	query += " ORDER BY created_at"

	var rows []pushRow
	if err := s.db.SelectContext(ctx, &rows, s.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing push subscriptions: %w", err)
	}
	subs := make([]*model.PushSubscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, &model.PushSubscription{
			UserID:    r.UserID,
			Endpoint:  r.Endpoint,
			Keys:      model.PushKeys{P256dh: r.P256dh, Auth: r.Auth},
			CreatedAt: r.CreatedAt,
		})
	}
	return subs, nil
}
