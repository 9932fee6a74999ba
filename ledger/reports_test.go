package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elnajah/school-ledger/ledger"
)

// seedMonth builds a small school for October 2024:
//
//	1 Yusuf  Quran          paid
//	2 Maryam Quran, Arabic  unpaid row
//	3 Bilal  Arabic         no row
//	4 Hafsa  Quran          joined November, paid row for October (gated)
func seedMonth(t *testing.T, f *fixture) {
	t.Helper()
	f.addStudent(t, 1, "Yusuf", date(2024, time.August, 20), "Quran")
	f.addStudent(t, 2, "maryam", date(2024, time.September, 1), "Quran", "Arabic")
	f.addStudent(t, 3, "Bilal", date(2024, time.October, 31), "Arabic")
	f.addStudent(t, 4, "Hafsa", date(2024, time.November, 3), "Quran")

	f.pay(t, 1, 2024, 10, ledger.StatusPaid, "2024-10-02")
	f.pay(t, 2, 2024, 10, ledger.StatusUnpaid, "")
	f.pay(t, 4, 2024, 10, ledger.StatusPaid, "2024-10-05")
}

func TestMonthStatus_JoinGatedAndOrdered(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		seedMonth(t, f)

		statuses, err := f.reports.MonthStatus(context.Background(), ym(2024, 10))
		require.NoError(t, err)

		// Unpaid first, then no record, then paid
		assert.Equal(t, []ledger.StudentID{2, 3, 4, 1}, statusIDs(statuses))
		assert.Equal(t, ledger.StateUnpaid, statuses[0].State)
		assert.Equal(t, ledger.StateUnpaid, statuses[1].State, "joined this month, no row")
		assert.Equal(t, ledger.StateNoRecord, statuses[2].State, "paid row before join month is ignored")
		assert.Equal(t, ledger.StatePaid, statuses[3].State)
		assert.Equal(t, "2024-10-02", statuses[3].PaymentDate)
		assert.Empty(t, statuses[2].PaymentDate)
	})
}

func TestUnpaidForMonth_GroupFilter(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		seedMonth(t, f)

		all, err := f.reports.UnpaidForMonth(ctx, ym(2024, 10), "")
		require.NoError(t, err)
		assert.Equal(t, []ledger.StudentID{2, 3}, statusIDs(all))

		quran, err := f.reports.UnpaidForMonth(ctx, ym(2024, 10), "Quran")
		require.NoError(t, err)
		assert.Equal(t, []ledger.StudentID{2}, statusIDs(quran), "Hafsa had not joined yet")

		_, err = f.reports.UnpaidForMonth(ctx, ym(2024, 10), "Nope")
		assert.True(t, ledger.IsNotFound(err))
	})
}

func TestMonthSummary_CollectionRate(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		seedMonth(t, f)

		summary, err := f.reports.MonthSummary(context.Background(), ym(2024, 10))
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Paid)
		assert.Equal(t, 2, summary.Unpaid)
		assert.Equal(t, 1, summary.NoRecord)
		assert.Equal(t, "0.3333", summary.CollectionRate.String())
	})
}

func TestMonthSummary_NobodyBillable(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		f.addStudent(t, 1, "Yusuf", date(2025, time.March, 1))

		summary, err := f.reports.MonthSummary(context.Background(), ym(2024, 10))
		require.NoError(t, err)
		assert.Equal(t, 1, summary.NoRecord)
		assert.True(t, summary.CollectionRate.IsZero())
	})
}

func TestGroupRoster_OrderedByNameCaseInsensitive(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		seedMonth(t, f)

		roster, err := f.reports.GroupRoster(ctx, "Quran", ym(2024, 10))
		require.NoError(t, err)
		assert.Equal(t, []ledger.StudentID{4, 2, 1}, statusIDs(roster), "Hafsa, maryam, Yusuf")
		assert.Equal(t, ledger.StateNoRecord, roster[0].State)

		_, err = f.reports.GroupRoster(ctx, "Nope", ym(2024, 10))
		assert.True(t, ledger.IsNotFound(err))
	})
}

func TestSearchStudents_ByIDOrName(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		seedMonth(t, f)
		f.addStudent(t, 14, "Abdullah", date(2024, time.August, 1))

		byName, err := f.reports.SearchStudents(ctx, "MAR", ym(2024, 10))
		require.NoError(t, err)
		assert.Equal(t, []ledger.StudentID{2}, statusIDs(byName))

		byID, err := f.reports.SearchStudents(ctx, "4", ym(2024, 10))
		require.NoError(t, err)
		assert.Equal(t, []ledger.StudentID{4}, statusIDs(byID), "exact id, not 14")

		_, err = f.reports.SearchStudents(ctx, "  ", ym(2024, 10))
		assert.True(t, errors.Is(err, ledger.ErrValidation))
	})
}

func TestStudentCountsByGroup(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		seedMonth(t, f)
		f.addStudent(t, 9, "Groupless", today)

		counts, err := f.reports.StudentCountsByGroup(context.Background())
		require.NoError(t, err)

		require.Len(t, counts.Groups, 2)
		assert.Equal(t, "Arabic", counts.Groups[0].Name)
		assert.Equal(t, 2, counts.Groups[0].Members)
		assert.Equal(t, "Quran", counts.Groups[1].Name)
		assert.Equal(t, 3, counts.Groups[1].Members)
		assert.Equal(t, 4, counts.Total, "distinct students with a group")
	})
}

func TestAcademicYearGrid(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", date(2024, time.September, 20))
		f.pay(t, 1, 2024, 8, ledger.StatusPaid, "2024-08-01")
		f.pay(t, 1, 2024, 9, ledger.StatusPaid, "2024-09-21")
		f.pay(t, 1, 2024, 10, ledger.StatusUnpaid, "")

		grid, err := f.reports.AcademicYearGrid(ctx, 1, 2024)
		require.NoError(t, err)
		require.Len(t, grid.Cells, 12)

		assert.Equal(t, ym(2024, 8), grid.Cells[0].Period)
		assert.Equal(t, ledger.StateNoRecord, grid.Cells[0].State)
		assert.Empty(t, grid.Cells[0].PaymentDate)

		assert.Equal(t, ledger.StatePaid, grid.Cells[1].State)
		assert.Equal(t, "2024-09-21", grid.Cells[1].PaymentDate)

		assert.Equal(t, ledger.StateUnpaid, grid.Cells[2].State)
		assert.Equal(t, ledger.StateUnpaid, grid.Cells[11].State)
		assert.Equal(t, ym(2025, 7), grid.Cells[11].Period)

		_, err = f.reports.AcademicYearGrid(ctx, 99, 2024)
		assert.True(t, ledger.IsNotFound(err))

		_, err = f.reports.AcademicYearGrid(ctx, 1, 0)
		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "start_year", verr.Field)
	})
}
