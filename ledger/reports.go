package ledger

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Reports builds read-only projections. Every state shown goes through
// DeriveState, so months before a student's join month read as NoRecord.
type Reports struct {
	store Store
}

// NewReports creates the reporting views over store.
func NewReports(store Store) *Reports {
	return &Reports{store: store}
}

// StudentStatus is one student with its derived state for a month.
type StudentStatus struct {
	Student     Student
	State       PaymentState
	PaymentDate string
}

// GroupCounts is the member count per group plus the number of distinct
// students in at least one group.
type GroupCounts struct {
	Groups []Group
	Total  int
}

// MonthSummary counts derived states for one month.
type MonthSummary struct {
	Period   YearMonth
	Paid     int
	Unpaid   int
	NoRecord int

	// CollectionRate is Paid / (Paid + Unpaid), zero when nobody is billable.
	CollectionRate decimal.Decimal
}

// GridCell is one month of an academic-year grid.
type GridCell struct {
	Period      YearMonth
	State       PaymentState
	PaymentDate string
}

// YearGrid is a student's twelve months of one academic year.
type YearGrid struct {
	Student   Student
	StartYear int
	Cells     []GridCell
}

// =============================================================================
// MONTH VIEWS
// =============================================================================

// MonthStatus lists every student with its state for ym, unpaid first, then
// no record, then paid; ties by id.
func (r *Reports) MonthStatus(ctx context.Context, ym YearMonth) ([]StudentStatus, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	students, err := r.store.ListStudents(ctx, OrderByID)
	if err != nil {
		return nil, err
	}
	statuses, err := r.derive(ctx, students, ym)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		ri, rj := stateRank(statuses[i].State), stateRank(statuses[j].State)
		if ri != rj {
			return ri < rj
		}
		return statuses[i].Student.ID < statuses[j].Student.ID
	})
	return statuses, nil
}

// UnpaidForMonth lists students whose state for ym is Unpaid, optionally
// limited to one group.
func (r *Reports) UnpaidForMonth(ctx context.Context, ym YearMonth, group string) ([]StudentStatus, error) {
	if group != "" {
		if _, err := r.store.GetGroup(ctx, group); err != nil {
			return nil, err
		}
	}
	all, err := r.MonthStatus(ctx, ym)
	if err != nil {
		return nil, err
	}

	var out []StudentStatus
	for _, st := range all {
		if st.State != StateUnpaid {
			continue
		}
		if group != "" && !hasGroup(st.Student, group) {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// MonthSummary counts Paid, Unpaid and NoRecord for ym.
func (r *Reports) MonthSummary(ctx context.Context, ym YearMonth) (MonthSummary, error) {
	all, err := r.MonthStatus(ctx, ym)
	if err != nil {
		return MonthSummary{}, err
	}

	summary := MonthSummary{Period: ym, CollectionRate: decimal.Zero}
	for _, st := range all {
		switch st.State {
		case StatePaid:
			summary.Paid++
		case StateUnpaid:
			summary.Unpaid++
		default:
			summary.NoRecord++
		}
	}
	if billable := summary.Paid + summary.Unpaid; billable > 0 {
		summary.CollectionRate = decimal.NewFromInt(int64(summary.Paid)).
			DivRound(decimal.NewFromInt(int64(billable)), 4)
	}
	return summary, nil
}

// =============================================================================
// GROUP VIEWS
// =============================================================================

// GroupRoster lists the group's members with their state for ym, ordered by
// name case-insensitively.
func (r *Reports) GroupRoster(ctx context.Context, group string, ym YearMonth) ([]StudentStatus, error) {
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.store.GetGroup(ctx, group); err != nil {
		return nil, err
	}
	students, err := r.store.ListStudents(ctx, OrderByName)
	if err != nil {
		return nil, err
	}

	var members []Student
	for _, st := range students {
		if hasGroup(st, group) {
			members = append(members, st)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		a, b := strings.ToLower(members[i].Name), strings.ToLower(members[j].Name)
		if a != b {
			return a < b
		}
		return members[i].ID < members[j].ID
	})
	return r.derive(ctx, members, ym)
}

// StudentCountsByGroup returns member counts per group.
func (r *Reports) StudentCountsByGroup(ctx context.Context) (GroupCounts, error) {
	groups, err := r.store.ListGroups(ctx)
	if err != nil {
		return GroupCounts{}, err
	}
	students, err := r.store.ListStudents(ctx, OrderByID)
	if err != nil {
		return GroupCounts{}, err
	}

	counts := GroupCounts{Groups: groups}
	for _, st := range students {
		if len(st.Groups) > 0 {
			counts.Total++
		}
	}
	return counts, nil
}

// =============================================================================
// STUDENT VIEWS
// =============================================================================

// SearchStudents matches query against ids exactly and names as a
// case-insensitive substring.
func (r *Reports) SearchStudents(ctx context.Context, query string, ym YearMonth) ([]StudentStatus, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("q", "search text must not be blank")
	}
	if err := ym.Validate(); err != nil {
		return nil, err
	}
	students, err := r.store.ListStudents(ctx, OrderByName)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	id, idErr := strconv.ParseInt(query, 10, 64)
	var matches []Student
	for _, st := range students {
		if (idErr == nil && StudentID(id) == st.ID) || strings.Contains(strings.ToLower(st.Name), needle) {
			matches = append(matches, st)
		}
	}
	return r.derive(ctx, matches, ym)
}

// AcademicYearGrid returns the twelve cells Aug..Jul of one academic year.
func (r *Reports) AcademicYearGrid(ctx context.Context, id StudentID, startYear int) (YearGrid, error) {
	if err := ValidateStartYear(startYear); err != nil {
		return YearGrid{}, err
	}
	st, err := r.store.GetStudent(ctx, id)
	if err != nil {
		return YearGrid{}, err
	}
	from, to := AcademicYearRange(startYear)
	rows, err := r.store.ListPayments(ctx, id, from, to)
	if err != nil {
		return YearGrid{}, err
	}
	byPeriod := make(map[YearMonth]Payment, len(rows))
	for _, p := range rows {
		byPeriod[p.Period] = p
	}

	grid := YearGrid{Student: st, StartYear: startYear}
	for _, ym := range AcademicYearWindow(startYear) {
		cell := GridCell{Period: ym}
		if p, ok := byPeriod[ym]; ok {
			cell.State = DeriveState(st.JoinDate, ym, &p)
			if cell.State == StatePaid {
				cell.PaymentDate = p.PaymentDate
			}
		} else {
			cell.State = DeriveState(st.JoinDate, ym, nil)
		}
		grid.Cells = append(grid.Cells, cell)
	}
	return grid, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *Reports) derive(ctx context.Context, students []Student, ym YearMonth) ([]StudentStatus, error) {
	payments, err := r.store.PaymentsForMonth(ctx, ym)
	if err != nil {
		return nil, err
	}

	out := make([]StudentStatus, 0, len(students))
	for _, st := range students {
		status := StudentStatus{Student: st}
		if p, ok := payments[st.ID]; ok {
			status.State = DeriveState(st.JoinDate, ym, &p)
			if status.State == StatePaid {
				status.PaymentDate = p.PaymentDate
			}
		} else {
			status.State = DeriveState(st.JoinDate, ym, nil)
		}
		out = append(out, status)
	}
	return out, nil
}

func stateRank(s PaymentState) int {
	switch s {
	case StateUnpaid:
		return 0
	case StateNoRecord:
		return 1
	default:
		return 2
	}
}

func hasGroup(st Student, group string) bool {
	for _, g := range st.Groups {
		if g == group {
			return true
		}
	}
	return false
}
