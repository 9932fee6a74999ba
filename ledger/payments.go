/*
payments.go - Per-student, per-month tuition records

PURPOSE:
  Payments owns the payment table: idempotent upserts (single and bulk), the
  join-date-gated status derivation, and academic-year reads.

CRITICAL INVARIANTS:
  1. AT MOST ONE ROW per (student, year, month). Writes are upserts only.
  2. UNPAID HAS NO DATE: an unpaid write always stores an empty date.
  3. PAID HAS A DATE: a missing date defaults to today; a malformed one is rejected.
  4. STATUS IS DERIVED: StatusAsOf is recomputed on every call and never cached.

STATUS RULE:
  target (year, month) <  join (year, month)  -> NoRecord (even if a row exists)
  otherwise, row exists with status paid      -> Paid
  otherwise                                   -> Unpaid

SEE ALSO:
  - period.go: YearMonth ordering and academic-year windows
  - reconcile.go: Uses upsertItems for merges
*/
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Payments is the payment ledger component.
type Payments struct {
	store TxStore
	now   func() time.Time
	log   *slog.Logger
}

// NewPayments creates the payment ledger over store.
func NewPayments(store TxStore, opts ...Option) *Payments {
	o := buildOptions(opts)
	return &Payments{store: store, now: o.now, log: o.logger}
}

// =============================================================================
// WRITES
// =============================================================================

// UpsertPayment records the status of one month for a student.
func (p *Payments) UpsertPayment(ctx context.Context, id StudentID, year, month int, status Status, paymentDate string) (Payment, error) {
	item, err := normalizeItem(PaymentItem{
		Period:      NewYearMonth(year, month),
		Status:      status,
		PaymentDate: paymentDate,
	}, p.now)
	if err != nil {
		return Payment{}, err
	}

	var stored []Payment
	err = p.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetStudent(ctx, id); err != nil {
			return err
		}
		stored, err = upsertItems(ctx, s, id, []PaymentItem{item})
		return err
	})
	if err != nil {
		return Payment{}, err
	}

	p.log.Info("Payment recorded",
		"student_id", id,
		"period", item.Period.String(),
		"status", item.Status,
	)
	return stored[0], nil
}

// UpsertPaymentsBulk applies items as one atomic batch. Every item is
// validated before anything is written; two items for the same month are
// rejected.
func (p *Payments) UpsertPaymentsBulk(ctx context.Context, id StudentID, items []PaymentItem) ([]Payment, error) {
	normalized, err := normalizeItems(items, p.now)
	if err != nil {
		return nil, err
	}

	var stored []Payment
	err = p.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetStudent(ctx, id); err != nil {
			return err
		}
		stored, err = upsertItems(ctx, s, id, normalized)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.log.Info("Payments saved", "student_id", id, "count", len(stored))
	return stored, nil
}

// normalizeItems validates a batch and checks for repeated months.
func normalizeItems(items []PaymentItem, now func() time.Time) ([]PaymentItem, error) {
	seen := make(map[YearMonth]bool, len(items))
	out := make([]PaymentItem, 0, len(items))
	for _, item := range items {
		n, err := normalizeItem(item, now)
		if err != nil {
			return nil, err
		}
		if seen[n.Period] {
			return nil, invalid("items", "month %s appears more than once", n.Period)
		}
		seen[n.Period] = true
		out = append(out, n)
	}
	return out, nil
}

// normalizeItem enforces the status/date invariants on one item.
func normalizeItem(item PaymentItem, now func() time.Time) (PaymentItem, error) {
	if err := item.Period.Validate(); err != nil {
		return PaymentItem{}, err
	}
	item.Status = Status(strings.ToLower(strings.TrimSpace(string(item.Status))))
	if !item.Status.Valid() {
		return PaymentItem{}, invalid("status", "must be %q or %q, got %q", StatusPaid, StatusUnpaid, item.Status)
	}

	if item.Status == StatusUnpaid {
		item.PaymentDate = ""
		return item, nil
	}

	date := strings.TrimSpace(item.PaymentDate)
	if date == "" {
		item.PaymentDate = now().Format(DateLayout)
		return item, nil
	}
	parsed, err := ParseDate("payment_date", date)
	if err != nil {
		return PaymentItem{}, err
	}
	item.PaymentDate = parsed.Format(DateLayout)
	return item, nil
}

// upsertItems writes already-normalized items through s.
func upsertItems(ctx context.Context, s Store, id StudentID, items []PaymentItem) ([]Payment, error) {
	stored := make([]Payment, 0, len(items))
	for _, item := range items {
		payment := Payment{
			StudentID:   id,
			Period:      item.Period,
			Status:      item.Status,
			PaymentDate: item.PaymentDate,
		}
		if err := s.UpsertPayment(ctx, payment); err != nil {
			return nil, err
		}
		stored = append(stored, payment)
	}
	return stored, nil
}

// =============================================================================
// READS
// =============================================================================

// StatusAsOf derives the student's state for one month.
func (p *Payments) StatusAsOf(ctx context.Context, id StudentID, year, month int) (PaymentState, error) {
	period := NewYearMonth(year, month)
	if err := period.Validate(); err != nil {
		return "", err
	}

	student, err := p.store.GetStudent(ctx, id)
	if err != nil {
		return "", err
	}

	payment, err := p.store.GetPayment(ctx, id, period)
	switch {
	case errors.Is(err, ErrNotFound):
		return DeriveState(student.JoinDate, period, nil), nil
	case err != nil:
		return "", err
	}
	return DeriveState(student.JoinDate, period, &payment), nil
}

// PaymentsForAcademicYear returns the stored rows of one academic year.
// Months without a row are absent from the map.
func (p *Payments) PaymentsForAcademicYear(ctx context.Context, id StudentID, startYear int) (map[YearMonth]Payment, error) {
	if err := ValidateStartYear(startYear); err != nil {
		return nil, err
	}
	if _, err := p.store.GetStudent(ctx, id); err != nil {
		return nil, err
	}

	from, to := AcademicYearRange(startYear)
	rows, err := p.store.ListPayments(ctx, id, from, to)
	if err != nil {
		return nil, err
	}

	out := make(map[YearMonth]Payment, len(rows))
	for _, row := range rows {
		out[row.Period] = row
	}
	return out, nil
}

// PaymentHistory returns every row of the student ordered by month.
func (p *Payments) PaymentHistory(ctx context.Context, id StudentID) ([]Payment, error) {
	if _, err := p.store.GetStudent(ctx, id); err != nil {
		return nil, err
	}
	return p.store.ListPayments(ctx, id, AllTimeFrom, AllTimeTo)
}

// CurrentAcademicYear returns the start year of today's academic year.
func (p *Payments) CurrentAcademicYear() int {
	return AcademicYearOf(p.now())
}
