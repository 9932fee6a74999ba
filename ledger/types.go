/*
Package ledger provides the Student-Group-Payment ledger of the school.

PURPOSE:
  This package holds the relational data model and every operation with real
  logic: academic-year windowing, idempotent payment upserts, duplicate-student
  merges, cascading group cleanup, and "as of this month" status derivation.
  Presentation, exports and backups live outside and consume this API.

KEY CONCEPTS IN THIS FILE (types.go):
  - Student: caller-numbered pupil with a join date
  - Group: uniquely named class/group
  - Payment: one row per (student, year, month), paid or unpaid
  - PaymentState: derived Paid / Unpaid / NoRecord, never stored
  - Snapshot: what DeleteStudent keeps for a single-level undo

COMPONENTS:
  - Roster (roster.go):       students, groups, memberships, undo
  - Payments (payments.go):   upserts, status derivation, academic years
  - Reconciler (reconcile.go): duplicate detection and merge
  - Reports (reports.go):     read-only projections for the UI

SEE ALSO:
  - store.go: Persistence interface
  - period.go: YearMonth and academic-year arithmetic
*/
package ledger

import (
	"strconv"
	"time"
)

// DateLayout is the ISO calendar date format used for join and payment dates.
const DateLayout = "2006-01-02"

// =============================================================================
// IDENTIFIERS
// =============================================================================

// StudentID is chosen by the caller (for example the number on an ID card).
type StudentID int64

func (id StudentID) String() string { return strconv.FormatInt(int64(id), 10) }

// GroupID is assigned by the store.
type GroupID int64

// =============================================================================
// ENTITIES
// =============================================================================

// Student is a pupil. Groups is populated by reads that join memberships and
// is always sorted.
type Student struct {
	ID       StudentID
	Name     string
	JoinDate time.Time
	Groups   []string
}

// JoinMonth is the first month the student can owe tuition for.
func (s Student) JoinMonth() YearMonth {
	return YearMonthOf(s.JoinDate)
}

// Group is a named class. Members is filled by ListGroups.
type Group struct {
	ID      GroupID
	Name    string
	Members int
}

// Status is the stored payment status.
type Status string

const (
	StatusPaid   Status = "paid"
	StatusUnpaid Status = "unpaid"
)

// Valid reports whether s is one of the stored statuses.
func (s Status) Valid() bool {
	return s == StatusPaid || s == StatusUnpaid
}

// Payment is the single stored record for a student and month.
type Payment struct {
	StudentID   StudentID
	Period      YearMonth
	Status      Status
	PaymentDate string // YYYY-MM-DD, empty when unpaid
}

// PaymentItem is one entry of a bulk upsert.
type PaymentItem struct {
	Period      YearMonth
	Status      Status
	PaymentDate string
}

// Item returns the payment as a bulk-upsert item.
func (p Payment) Item() PaymentItem {
	return PaymentItem{Period: p.Period, Status: p.Status, PaymentDate: p.PaymentDate}
}

// =============================================================================
// DERIVED STATE
// =============================================================================

// PaymentState is the status of a student for a month, derived on every query.
type PaymentState string

const (
	StatePaid     PaymentState = "Paid"
	StateUnpaid   PaymentState = "Unpaid"
	StateNoRecord PaymentState = "No record"
)

// DeriveState applies the join-date gate: months before the join month have
// no record whatever is stored; otherwise only a paid row counts as Paid.
func DeriveState(joinDate time.Time, period YearMonth, p *Payment) PaymentState {
	if period.Before(YearMonthOf(joinDate)) {
		return StateNoRecord
	}
	if p != nil && p.Status == StatusPaid {
		return StatePaid
	}
	return StateUnpaid
}

// =============================================================================
// UNDO SNAPSHOT
// =============================================================================

// Snapshot holds everything needed to recreate a deleted student.
type Snapshot struct {
	Student  Student
	Payments []Payment
}

// StudentOrder selects the ordering of ListStudents.
type StudentOrder string

const (
	OrderByID   StudentOrder = "id"
	OrderByName StudentOrder = "name"
)

// ParseStudentOrder maps a user-supplied order, defaulting to OrderByID.
func ParseStudentOrder(s string) (StudentOrder, error) {
	switch StudentOrder(s) {
	case "", OrderByID:
		return OrderByID, nil
	case OrderByName:
		return OrderByName, nil
	default:
		return "", invalid("order", "unknown ordering %q", s)
	}
}
