/*
store.go - Persistence interface for students, groups, memberships and payments

PURPOSE:
  Defines the boundary between ledger logic and the database. Components never
  hold a global handle: a Store (or TxStore) is injected into each of them.

KEY INTERFACES:
  Store:   primitive reads and writes on the four tables
  TxStore: Store plus WithTx for atomic multi-statement operations

CONTRACT:
  - InsertStudent fails with DuplicateKeyError when the id is taken.
  - EnsureGroup is one atomic get-or-create returning the group id.
  - ReplaceMemberships deletes the student's memberships and inserts the new set.
  - UpsertPayment writes at most one row per (student, year, month).
  - DeleteStudent removes memberships and payments with the student.
  - Lookups of missing rows return NotFoundError (never nil, nil).
  - Uniqueness/foreign-key failures surface as DuplicateKeyError or ConstraintError.

ATOMICITY:
  WithTx runs fn against a transactional view. A non-nil error from fn rolls
  back every write made through the view; nil commits. Code inside fn must
  only use the view it was given.

IMPLEMENTATIONS:
  - store/sqlite: SQLite via mattn/go-sqlite3
  - ledger/store: in-memory, for tests and database-less runs

SEE ALSO:
  - roster.go, payments.go, reconcile.go: Use TxStore
  - reports.go: Read-only, uses Store
*/
package ledger

import "context"

// Store handles persistence of the ledger tables.
type Store interface {
	// InsertStudent creates a student row. JoinDate must be set.
	InsertStudent(ctx context.Context, s Student) error

	// GetStudent returns the student with its sorted group names.
	GetStudent(ctx context.Context, id StudentID) (Student, error)

	// RenameStudent changes the display name.
	RenameStudent(ctx context.Context, id StudentID, name string) error

	// DeleteStudent removes the student, its memberships and its payments.
	DeleteStudent(ctx context.Context, id StudentID) error

	// ListStudents returns every student with group names in the given order.
	ListStudents(ctx context.Context, order StudentOrder) ([]Student, error)

	// EnsureGroup returns the id of the named group, creating it if needed.
	EnsureGroup(ctx context.Context, name string) (GroupID, error)

	// InsertGroup creates a group and fails with DuplicateKeyError if it exists.
	InsertGroup(ctx context.Context, name string) (GroupID, error)

	// GetGroup looks a group up by name.
	GetGroup(ctx context.Context, name string) (Group, error)

	// ListGroups returns all groups ordered by name, with member counts.
	ListGroups(ctx context.Context) ([]Group, error)

	// DeleteGroup removes a group and all of its memberships.
	DeleteGroup(ctx context.Context, id GroupID) error

	// ReplaceMemberships replaces the student's memberships with groupIDs.
	ReplaceMemberships(ctx context.Context, id StudentID, groupIDs []GroupID) error

	// RemoveMembership deletes one (student, group) pair if present.
	RemoveMembership(ctx context.Context, id StudentID, groupID GroupID) error

	// GroupMembers returns the ids of the group's students, ascending.
	GroupMembers(ctx context.Context, groupID GroupID) ([]StudentID, error)

	// UpsertPayment inserts or overwrites the row for (student, period).
	UpsertPayment(ctx context.Context, p Payment) error

	// GetPayment returns the row for (student, period).
	GetPayment(ctx context.Context, id StudentID, period YearMonth) (Payment, error)

	// ListPayments returns the student's rows in [from, to], ordered by period.
	ListPayments(ctx context.Context, id StudentID, from, to YearMonth) ([]Payment, error)

	// PaymentsForMonth returns every stored row for one month keyed by student.
	PaymentsForMonth(ctx context.Context, period YearMonth) (map[StudentID]Payment, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AllTime spans every representable payment period.
var (
	AllTimeFrom = YearMonth{Year: 1, Month: 1}
	AllTimeTo   = YearMonth{Year: 9999, Month: 12}
)
