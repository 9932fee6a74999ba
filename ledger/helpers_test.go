package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elnajah/school-ledger/ledger"
	"github.com/elnajah/school-ledger/ledger/store"
	"github.com/elnajah/school-ledger/store/sqlite"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

// today is the fixed clock of every test: 15 Oct 2024, inside academic year 2024-2025.
var today = time.Date(2024, time.October, 15, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return today }

type fixture struct {
	store      ledger.TxStore
	roster     *ledger.Roster
	payments   *ledger.Payments
	reconciler *ledger.Reconciler
	reports    *ledger.Reports
}

type backend struct {
	name string
	open func(t *testing.T) ledger.TxStore
}

var backends = []backend{
	{
		name: "memory",
		open: func(t *testing.T) ledger.TxStore { return store.NewMemory() },
	},
	{
		name: "sqlite",
		open: func(t *testing.T) ledger.TxStore {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	},
}

// eachStore runs fn once per store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	t.Helper()
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			fn(t, &fixture{
				store:      s,
				roster:     ledger.NewRoster(s, ledger.WithClock(fixedClock)),
				payments:   ledger.NewPayments(s, ledger.WithClock(fixedClock)),
				reconciler: ledger.NewReconciler(s),
				reports:    ledger.NewReports(s),
			})
		})
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ym(y, m int) ledger.YearMonth {
	return ledger.NewYearMonth(y, m)
}

func (f *fixture) addStudent(t *testing.T, id ledger.StudentID, name string, joined time.Time, groups ...string) ledger.Student {
	t.Helper()
	st, err := f.roster.CreateStudent(context.Background(), id, name, joined, groups)
	require.NoError(t, err)
	return st
}

func (f *fixture) pay(t *testing.T, id ledger.StudentID, y, m int, status ledger.Status, paidOn string) {
	t.Helper()
	_, err := f.payments.UpsertPayment(context.Background(), id, y, m, status, paidOn)
	require.NoError(t, err)
}

func (f *fixture) payment(t *testing.T, id ledger.StudentID, y, m int) ledger.Payment {
	t.Helper()
	p, err := f.store.GetPayment(context.Background(), id, ym(y, m))
	require.NoError(t, err)
	return p
}

func groupNames(groups []ledger.Group) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func statusIDs(statuses []ledger.StudentStatus) []ledger.StudentID {
	ids := make([]ledger.StudentID, 0, len(statuses))
	for _, s := range statuses {
		ids = append(ids, s.Student.ID)
	}
	return ids
}
