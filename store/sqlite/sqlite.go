/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists students, groups, memberships and payments in a single SQLite file.
  Relational invariants live in the schema so that no code path can bypass them.

KEY TABLES:
  students:    caller-numbered pupils with a join date (YYYY-MM-DD)
  study_groups: system-numbered, UNIQUE name
  memberships: (student_id, group_id) composite key, cascades from both sides
  payments:    UNIQUE(student_id, year, month), status CHECK, month CHECK,
               cascades from students

UPSERTS:
  Payments are written with INSERT ... ON CONFLICT(student_id, year, month)
  DO UPDATE, so repeating a write never creates a second row. Groups are
  get-or-created with one INSERT ... ON CONFLICT(name) ... RETURNING id.

CONSTRAINT MAPPING:
  go-sqlite3 extended codes are translated to the ledger error taxonomy:
  - UNIQUE / PRIMARY KEY -> ledger.DuplicateKeyError
  - FOREIGN KEY / CHECK  -> ledger.ConstraintError

CONCURRENCY:
  One pooled connection (required for ":memory:" databases and matching
  SQLite's single writer). WithTx is serialized with a mutex; code inside a
  transaction must only use the Store it was handed.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./school.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  roster := ledger.NewRoster(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/elnajah/school-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	ops
	db *sql.DB
	mu sync.Mutex
}

var _ ledger.TxStore = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops holds every ledger.Store method; Store runs them on the pool and
// WithTx runs them on a transaction.
type ops struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{ops: ops{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		join_date TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS study_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS memberships (
		student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		group_id INTEGER NOT NULL REFERENCES study_groups(id) ON DELETE CASCADE,
		PRIMARY KEY (student_id, group_id)
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_group
		ON memberships(group_id);

	-- At most one row per student and month; writes are upserts only
	CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		student_id INTEGER NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
		status TEXT NOT NULL CHECK (status IN ('paid', 'unpaid')),
		payment_date TEXT NOT NULL DEFAULT '',
		UNIQUE (student_id, year, month)
	);

	-- Month-wide reports (unpaid list, summary)
	CREATE INDEX IF NOT EXISTS idx_payments_period
		ON payments(year, month);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&ops{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// STUDENTS
// =============================================================================

func (o *ops) InsertStudent(ctx context.Context, st ledger.Student) error {
	_, err := o.q.ExecContext(ctx,
		"INSERT INTO students (id, name, join_date) VALUES (?, ?, ?)",
		int64(st.ID), st.Name, st.JoinDate.Format(ledger.DateLayout),
	)
	if err != nil {
		return mapError(err, ledger.KindStudent, st.ID.String(), "failed to insert student")
	}
	return nil
}

func (o *ops) GetStudent(ctx context.Context, id ledger.StudentID) (ledger.Student, error) {
	var (
		st       ledger.Student
		joinDate string
	)
	err := o.q.QueryRowContext(ctx,
		"SELECT id, name, join_date FROM students WHERE id = ?", int64(id),
	).Scan(&st.ID, &st.Name, &joinDate)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Student{}, &ledger.NotFoundError{Kind: ledger.KindStudent, Key: id.String()}
	}
	if err != nil {
		return ledger.Student{}, fmt.Errorf("failed to get student: %w", err)
	}
	if st.JoinDate, err = parseDate(joinDate); err != nil {
		return ledger.Student{}, err
	}

	groups, err := o.groupNames(ctx, "WHERE m.student_id = ?", int64(id))
	if err != nil {
		return ledger.Student{}, err
	}
	st.Groups = groups[id]
	if st.Groups == nil {
		st.Groups = []string{}
	}
	return st, nil
}

func (o *ops) RenameStudent(ctx context.Context, id ledger.StudentID, name string) error {
	res, err := o.q.ExecContext(ctx, "UPDATE students SET name = ? WHERE id = ?", name, int64(id))
	if err != nil {
		return fmt.Errorf("failed to rename student: %w", err)
	}
	return requireRow(res, ledger.KindStudent, id.String())
}

// DeleteStudent relies on ON DELETE CASCADE for memberships and payments.
func (o *ops) DeleteStudent(ctx context.Context, id ledger.StudentID) error {
	res, err := o.q.ExecContext(ctx, "DELETE FROM students WHERE id = ?", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	return requireRow(res, ledger.KindStudent, id.String())
}

func (o *ops) ListStudents(ctx context.Context, order ledger.StudentOrder) ([]ledger.Student, error) {
	query := "SELECT id, name, join_date FROM students ORDER BY id"
	if order == ledger.OrderByName {
		query = "SELECT id, name, join_date FROM students ORDER BY name COLLATE NOCASE, id"
	}

	rows, err := o.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []ledger.Student
	for rows.Next() {
		var (
			st       ledger.Student
			joinDate string
		)
		if err := rows.Scan(&st.ID, &st.Name, &joinDate); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		if st.JoinDate, err = parseDate(joinDate); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	groups, err := o.groupNames(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range students {
		students[i].Groups = groups[students[i].ID]
		if students[i].Groups == nil {
			students[i].Groups = []string{}
		}
	}
	return students, nil
}

// groupNames returns sorted group names per student, optionally filtered.
func (o *ops) groupNames(ctx context.Context, where string, args ...any) (map[ledger.StudentID][]string, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT m.student_id, g.name
		FROM memberships m
		JOIN study_groups g ON g.id = m.group_id
		`+where+`
		ORDER BY m.student_id, g.name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.StudentID][]string)
	for rows.Next() {
		var (
			id   ledger.StudentID
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

// =============================================================================
// GROUPS
// =============================================================================

func (o *ops) EnsureGroup(ctx context.Context, name string) (ledger.GroupID, error) {
	var id ledger.GroupID
	err := o.q.QueryRowContext(ctx, `
		INSERT INTO study_groups (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id`, name,
	).Scan(&id)
	if err != nil {
		return 0, mapError(err, ledger.KindGroup, name, "failed to ensure group")
	}
	return id, nil
}

func (o *ops) InsertGroup(ctx context.Context, name string) (ledger.GroupID, error) {
	res, err := o.q.ExecContext(ctx, "INSERT INTO study_groups (name) VALUES (?)", name)
	if err != nil {
		return 0, mapError(err, ledger.KindGroup, name, "failed to insert group")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read group id: %w", err)
	}
	return ledger.GroupID(id), nil
}

func (o *ops) GetGroup(ctx context.Context, name string) (ledger.Group, error) {
	var g ledger.Group
	err := o.q.QueryRowContext(ctx, `
		SELECT g.id, g.name, COUNT(m.student_id)
		FROM study_groups g
		LEFT JOIN memberships m ON m.group_id = g.id
		WHERE g.name = ?
		GROUP BY g.id`, name,
	).Scan(&g.ID, &g.Name, &g.Members)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Group{}, &ledger.NotFoundError{Kind: ledger.KindGroup, Key: name}
	}
	if err != nil {
		return ledger.Group{}, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

func (o *ops) ListGroups(ctx context.Context) ([]ledger.Group, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT g.id, g.name, COUNT(m.student_id)
		FROM study_groups g
		LEFT JOIN memberships m ON m.group_id = g.id
		GROUP BY g.id
		ORDER BY g.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []ledger.Group
	for rows.Next() {
		var g ledger.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Members); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteGroup relies on ON DELETE CASCADE for memberships.
func (o *ops) DeleteGroup(ctx context.Context, id ledger.GroupID) error {
	res, err := o.q.ExecContext(ctx, "DELETE FROM study_groups WHERE id = ?", int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return requireRow(res, ledger.KindGroup, fmt.Sprintf("#%d", id))
}

// =============================================================================
// MEMBERSHIPS
// =============================================================================

func (o *ops) ReplaceMemberships(ctx context.Context, id ledger.StudentID, groupIDs []ledger.GroupID) error {
	var exists int
	err := o.q.QueryRowContext(ctx, "SELECT 1 FROM students WHERE id = ?", int64(id)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.ConstraintError{Constraint: "memberships.student_id references students"}
	}
	if err != nil {
		return fmt.Errorf("failed to check student: %w", err)
	}

	if _, err := o.q.ExecContext(ctx, "DELETE FROM memberships WHERE student_id = ?", int64(id)); err != nil {
		return fmt.Errorf("failed to clear memberships: %w", err)
	}
	for _, gid := range groupIDs {
		_, err := o.q.ExecContext(ctx,
			"INSERT OR IGNORE INTO memberships (student_id, group_id) VALUES (?, ?)",
			int64(id), int64(gid),
		)
		if err != nil {
			return mapError(err, ledger.KindGroup, fmt.Sprintf("#%d", gid), "failed to insert membership")
		}
	}
	return nil
}

func (o *ops) RemoveMembership(ctx context.Context, id ledger.StudentID, groupID ledger.GroupID) error {
	_, err := o.q.ExecContext(ctx,
		"DELETE FROM memberships WHERE student_id = ? AND group_id = ?",
		int64(id), int64(groupID),
	)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return nil
}

func (o *ops) GroupMembers(ctx context.Context, groupID ledger.GroupID) ([]ledger.StudentID, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT student_id FROM memberships WHERE group_id = ? ORDER BY student_id",
		int64(groupID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var ids []ledger.StudentID
	for rows.Next() {
		var id ledger.StudentID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (o *ops) UpsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO payments (student_id, year, month, status, payment_date)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(student_id, year, month) DO UPDATE SET
			status = excluded.status,
			payment_date = excluded.payment_date`,
		int64(p.StudentID), p.Period.Year, int(p.Period.Month), string(p.Status), p.PaymentDate,
	)
	if err != nil {
		return mapError(err, ledger.KindPayment, paymentKey(p.StudentID, p.Period), "failed to upsert payment")
	}
	return nil
}

func (o *ops) GetPayment(ctx context.Context, id ledger.StudentID, period ledger.YearMonth) (ledger.Payment, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT student_id, year, month, status, payment_date
		FROM payments
		WHERE student_id = ? AND year = ? AND month = ?`,
		int64(id), period.Year, int(period.Month),
	)
	if err != nil {
		return ledger.Payment{}, fmt.Errorf("failed to get payment: %w", err)
	}
	payments, err := scanPayments(rows)
	if err != nil {
		return ledger.Payment{}, err
	}
	if len(payments) == 0 {
		return ledger.Payment{}, &ledger.NotFoundError{Kind: ledger.KindPayment, Key: paymentKey(id, period)}
	}
	return payments[0], nil
}

func (o *ops) ListPayments(ctx context.Context, id ledger.StudentID, from, to ledger.YearMonth) ([]ledger.Payment, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT student_id, year, month, status, payment_date
		FROM payments
		WHERE student_id = ? AND (year * 100 + month) BETWEEN ? AND ?
		ORDER BY year, month`,
		int64(id), periodKey(from), periodKey(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return scanPayments(rows)
}

func (o *ops) PaymentsForMonth(ctx context.Context, period ledger.YearMonth) (map[ledger.StudentID]ledger.Payment, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT student_id, year, month, status, payment_date
		FROM payments
		WHERE year = ? AND month = ?`,
		period.Year, int(period.Month),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load month payments: %w", err)
	}
	payments, err := scanPayments(rows)
	if err != nil {
		return nil, err
	}

	out := make(map[ledger.StudentID]ledger.Payment, len(payments))
	for _, p := range payments {
		out[p.StudentID] = p
	}
	return out, nil
}

func scanPayments(rows *sql.Rows) ([]ledger.Payment, error) {
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		var (
			p      ledger.Payment
			year   int
			month  int
			status string
		)
		if err := rows.Scan(&p.StudentID, &year, &month, &status, &p.PaymentDate); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Period = ledger.NewYearMonth(year, month)
		p.Status = ledger.Status(status)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// Helper functions

func periodKey(ym ledger.YearMonth) int {
	return ym.Year*100 + int(ym.Month)
}

func paymentKey(id ledger.StudentID, period ledger.YearMonth) string {
	return id.String() + "/" + period.String()
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(ledger.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt date %q: %w", s, err)
	}
	return t, nil
}

func requireRow(res sql.Result, kind, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &ledger.NotFoundError{Kind: kind, Key: key}
	}
	return nil
}

// mapError translates SQLite constraint failures into ledger errors.
func mapError(err error, kind, key, msg string) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return fmt.Errorf("%s: %w", msg, err)
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &ledger.DuplicateKeyError{Kind: kind, Key: key}
	default:
		return &ledger.ConstraintError{Constraint: sqliteErr.Error(), Err: err}
	}
}
