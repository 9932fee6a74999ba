package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elnajah/school-ledger/ledger"
	"github.com/elnajah/school-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var joined = time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func insertStudent(t *testing.T, s *sqlite.Store, id ledger.StudentID, name string) {
	t.Helper()
	require.NoError(t, s.InsertStudent(context.Background(), ledger.Student{ID: id, Name: name, JoinDate: joined}))
}

// =============================================================================
// CONSTRAINTS
// =============================================================================

func TestStore_DuplicateStudentID(t *testing.T) {
	s := newTestStore(t)
	insertStudent(t, s, 1, "Yusuf")

	err := s.InsertStudent(context.Background(), ledger.Student{ID: 1, Name: "Other", JoinDate: joined})

	var dup *ledger.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, ledger.KindStudent, dup.Kind)
	assert.Equal(t, "1", dup.Key)
}

func TestStore_DuplicateGroupName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertGroup(ctx, "Quran")
	require.NoError(t, err)
	_, err = s.InsertGroup(ctx, "Quran")
	assert.True(t, errors.Is(err, ledger.ErrDuplicateKey))

	_, err = s.InsertGroup(ctx, "quran")
	assert.NoError(t, err, "names are case-sensitive")
}

func TestStore_PaymentForeignKeyAndChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertPayment(ctx, ledger.Payment{StudentID: 9, Period: ledger.NewYearMonth(2024, 9), Status: ledger.StatusPaid})
	assert.True(t, errors.Is(err, ledger.ErrConstraintViolation), "unknown student")

	insertStudent(t, s, 1, "Yusuf")
	err = s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: ledger.NewYearMonth(2024, 13), Status: ledger.StatusPaid})
	assert.True(t, errors.Is(err, ledger.ErrConstraintViolation), "month check")

	err = s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: ledger.NewYearMonth(2024, 9), Status: "late"})
	assert.True(t, errors.Is(err, ledger.ErrConstraintViolation), "status check")
}

func TestStore_MembershipForeignKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.ReplaceMemberships(ctx, 9, nil)
	assert.True(t, errors.Is(err, ledger.ErrConstraintViolation))

	insertStudent(t, s, 1, "Yusuf")
	err = s.ReplaceMemberships(ctx, 1, []ledger.GroupID{77})
	assert.True(t, errors.Is(err, ledger.ErrConstraintViolation))
}

// =============================================================================
// UPSERTS AND CASCADES
// =============================================================================

func TestStore_EnsureGroupReturnsSameID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.EnsureGroup(ctx, "Quran")
	require.NoError(t, err)
	b, err := s.EnsureGroup(ctx, "Quran")
	require.NoError(t, err)
	c, err := s.EnsureGroup(ctx, "Arabic")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStore_UpsertPaymentKeepsOneRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertStudent(t, s, 1, "Yusuf")
	sep := ledger.NewYearMonth(2024, 9)

	require.NoError(t, s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: sep, Status: ledger.StatusUnpaid}))
	require.NoError(t, s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: sep, Status: ledger.StatusPaid, PaymentDate: "2024-09-04"}))

	rows, err := s.ListPayments(ctx, 1, ledger.AllTimeFrom, ledger.AllTimeTo)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ledger.StatusPaid, rows[0].Status)
	assert.Equal(t, "2024-09-04", rows[0].PaymentDate)
}

func TestStore_DeleteStudentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertStudent(t, s, 1, "Yusuf")
	gid, err := s.EnsureGroup(ctx, "Quran")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceMemberships(ctx, 1, []ledger.GroupID{gid}))
	require.NoError(t, s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: ledger.NewYearMonth(2024, 9), Status: ledger.StatusUnpaid}))

	require.NoError(t, s.DeleteStudent(ctx, 1))

	members, err := s.GroupMembers(ctx, gid)
	require.NoError(t, err)
	assert.Empty(t, members)
	month, err := s.PaymentsForMonth(ctx, ledger.NewYearMonth(2024, 9))
	require.NoError(t, err)
	assert.Empty(t, month)

	assert.True(t, ledger.IsNotFound(s.DeleteStudent(ctx, 1)))
}

func TestStore_ListPaymentsRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertStudent(t, s, 1, "Yusuf")
	for _, p := range []ledger.YearMonth{
		ledger.NewYearMonth(2024, 7),
		ledger.NewYearMonth(2024, 12),
		ledger.NewYearMonth(2025, 1),
		ledger.NewYearMonth(2025, 8),
	} {
		require.NoError(t, s.UpsertPayment(ctx, ledger.Payment{StudentID: 1, Period: p, Status: ledger.StatusUnpaid}))
	}

	from, to := ledger.AcademicYearRange(2024)
	rows, err := s.ListPayments(ctx, 1, from, to)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ledger.NewYearMonth(2024, 12), rows[0].Period)
	assert.Equal(t, ledger.NewYearMonth(2025, 1), rows[1].Period)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.InsertStudent(ctx, ledger.Student{ID: 1, Name: "Yusuf", JoinDate: joined}))
		_, err := tx.EnsureGroup(ctx, "Quran")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetStudent(ctx, 1)
	assert.True(t, ledger.IsNotFound(err))
	groups, err := s.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "school.db")
	ctx := context.Background()

	s, err := sqlite.New(path)
	require.NoError(t, err)
	insertStudent(t, s, 1, "Yusuf")
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	st, err := reopened.GetStudent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Yusuf", st.Name)
	assert.Equal(t, joined, st.JoinDate)
}
