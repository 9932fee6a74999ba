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

// =============================================================================
// CREATE
// =============================================================================

func TestCreateStudent_CreatesMissingGroups(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		st := f.addStudent(t, 12, "  Yusuf ", date(2024, time.September, 2), "Quran", "Arabic", "Quran")

		assert.Equal(t, "Yusuf", st.Name, "name is trimmed")
		assert.Equal(t, []string{"Arabic", "Quran"}, st.Groups)
		assert.Equal(t, date(2024, time.September, 2), st.JoinDate)

		groups, err := f.roster.ListGroups(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Arabic", "Quran"}, groupNames(groups))
	})
}

func TestCreateStudent_ReusesExistingGroup(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", date(2024, time.September, 2), "Quran")
		f.addStudent(t, 2, "Maryam", date(2024, time.September, 2), "Quran")

		groups, err := f.roster.ListGroups(ctx)
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, 2, groups[0].Members)
	})
}

func TestCreateStudent_JoinDateDefaultsToToday(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		st := f.addStudent(t, 1, "Yusuf", time.Time{})
		assert.Equal(t, date(2024, time.October, 15), st.JoinDate)
	})
}

func TestCreateStudent_Rejections(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", date(2024, time.September, 2), "Quran")

		_, err := f.roster.CreateStudent(ctx, 1, "Someone Else", today, []string{"Tajweed"})
		assert.True(t, errors.Is(err, ledger.ErrDuplicateKey), "duplicate id")

		_, err = f.roster.CreateStudent(ctx, 2, "   ", today, nil)
		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "name", verr.Field)

		_, err = f.roster.CreateStudent(ctx, 0, "Zero", today, nil)
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "id", verr.Field)

		// The failed duplicate must not have created its group
		groups, err := f.roster.ListGroups(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"Quran"}, groupNames(groups))
	})
}

func TestEnroll_WritesInitialPayment(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.roster.Enroll(ctx, ledger.NewStudent{
			ID:       5,
			Name:     "Hafsa",
			JoinDate: date(2024, time.October, 1),
			Groups:   []string{"Quran"},
			Initial:  &ledger.PaymentItem{Period: ym(2024, 10), Status: ledger.StatusPaid},
		})
		require.NoError(t, err)

		p := f.payment(t, 5, 2024, 10)
		assert.Equal(t, ledger.StatusPaid, p.Status)
		assert.Equal(t, "2024-10-15", p.PaymentDate)
	})
}

func TestEnroll_BadInitialPaymentCreatesNothing(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		_, err := f.roster.Enroll(ctx, ledger.NewStudent{
			ID:      5,
			Name:    "Hafsa",
			Initial: &ledger.PaymentItem{Period: ym(2024, 10), Status: ledger.StatusPaid, PaymentDate: "yesterday"},
		})
		require.True(t, errors.Is(err, ledger.ErrValidation))

		_, err = f.roster.StudentDetail(ctx, 5)
		assert.True(t, ledger.IsNotFound(err))
	})
}

// =============================================================================
// MEMBERSHIPS
// =============================================================================

func TestSetStudentGroups_FullReplacementIsIdempotent(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", today, "Quran", "Arabic")

		st, err := f.roster.SetStudentGroups(ctx, 1, []string{"Tajweed", "Arabic"})
		require.NoError(t, err)
		assert.Equal(t, []string{"Arabic", "Tajweed"}, st.Groups)

		again, err := f.roster.SetStudentGroups(ctx, 1, []string{"Tajweed", "Arabic"})
		require.NoError(t, err)
		assert.Equal(t, st, again)

		// Replaced group still exists, with no members
		g, err := f.store.GetGroup(ctx, "Quran")
		require.NoError(t, err)
		assert.Zero(t, g.Members)
	})
}

func TestSetStudentGroups_UnknownStudent(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		_, err := f.roster.SetStudentGroups(context.Background(), 42, []string{"Quran"})
		assert.True(t, ledger.IsNotFound(err))

		groups, err := f.roster.ListGroups(context.Background())
		require.NoError(t, err)
		assert.Empty(t, groups, "rolled back before creating groups")
	})
}

func TestUpdateStudent_RenamesAndRegroups(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusef", today, "Quran")

		st, err := f.roster.UpdateStudent(ctx, 1, "Yusuf", []string{"Arabic"})
		require.NoError(t, err)
		assert.Equal(t, "Yusuf", st.Name)
		assert.Equal(t, []string{"Arabic"}, st.Groups)

		_, err = f.roster.UpdateStudent(ctx, 2, "Nobody", nil)
		assert.True(t, ledger.IsNotFound(err))
	})
}

// =============================================================================
// GROUPS
// =============================================================================

func TestCreateGroup(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		g, err := f.roster.CreateGroup(ctx, "Quran")
		require.NoError(t, err)
		assert.Equal(t, "Quran", g.Name)

		_, err = f.roster.CreateGroup(ctx, "Quran")
		assert.True(t, errors.Is(err, ledger.ErrDuplicateKey))

		_, err = f.roster.CreateGroup(ctx, "quran")
		assert.NoError(t, err, "names are case-sensitive")

		_, err = f.roster.CreateGroup(ctx, " ")
		assert.True(t, errors.Is(err, ledger.ErrValidation))
	})
}

func TestDeleteGroup_CascadesMembershipsOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		// GIVEN: three students in Quran, two of them in other groups too
		f.addStudent(t, 1, "Yusuf", today, "Quran", "Arabic")
		f.addStudent(t, 2, "Maryam", today, "Quran")
		f.addStudent(t, 3, "Bilal", today, "Quran", "Tajweed", "Arabic")
		f.pay(t, 2, 2024, 10, ledger.StatusPaid, "2024-10-02")

		// WHEN: Quran is deleted
		require.NoError(t, f.roster.DeleteGroup(ctx, "Quran"))

		// THEN: each member lost exactly one membership
		for id, want := range map[ledger.StudentID][]string{
			1: {"Arabic"},
			2: {},
			3: {"Arabic", "Tajweed"},
		} {
			st, err := f.roster.StudentDetail(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, st.Groups, "student %d", id)
		}

		groups, err := f.roster.ListGroups(ctx)
		require.NoError(t, err)
		assert.NotContains(t, groupNames(groups), "Quran")

		// AND: payments are untouched
		assert.Equal(t, ledger.StatusPaid, f.payment(t, 2, 2024, 10).Status)
	})
}

func TestDeleteGroup_Unknown(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		err := f.roster.DeleteGroup(context.Background(), "Nope")
		assert.True(t, ledger.IsNotFound(err))
	})
}

func TestRemoveGroupIfSoleMembership(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		// GIVEN: one student only in A, one in A and B
		f.addStudent(t, 1, "Yusuf", today, "A")
		f.addStudent(t, 2, "Maryam", today, "A", "B")

		changed, err := f.roster.RemoveGroupIfSoleMembership(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		// THEN: sole member is groupless, the other is unaffected, A survives
		solo, err := f.roster.StudentDetail(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, solo.Groups)

		both, err := f.roster.StudentDetail(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, both.Groups)

		_, err = f.store.GetGroup(ctx, "A")
		assert.NoError(t, err)
	})
}

func TestRemoveGroupIfSoleMembership_DeletesEmptiedGroup(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()

		// GIVEN: A has exactly one member, whose only group is A
		f.addStudent(t, 1, "Yusuf", today, "A")

		changed, err := f.roster.RemoveGroupIfSoleMembership(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 1, changed)

		// THEN: A is gone but the student is not
		_, err = f.store.GetGroup(ctx, "A")
		assert.True(t, ledger.IsNotFound(err))
		_, err = f.roster.StudentDetail(ctx, 1)
		assert.NoError(t, err)

		_, err = f.roster.RemoveGroupIfSoleMembership(ctx, "A")
		assert.True(t, ledger.IsNotFound(err))

		// A group that was already empty also ends with zero members
		_, err = f.roster.CreateGroup(ctx, "Empty")
		require.NoError(t, err)
		changed, err = f.roster.RemoveGroupIfSoleMembership(ctx, "Empty")
		require.NoError(t, err)
		assert.Equal(t, 0, changed)
		_, err = f.store.GetGroup(ctx, "Empty")
		assert.True(t, ledger.IsNotFound(err))
	})
}

// =============================================================================
// DELETE & UNDO
// =============================================================================

func TestDeleteStudent_UndoRoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		before := f.addStudent(t, 1, "Yusuf", date(2024, time.August, 20), "Quran", "Arabic")
		f.pay(t, 1, 2024, 9, ledger.StatusPaid, "2024-09-01")
		f.pay(t, 1, 2024, 10, ledger.StatusUnpaid, "")

		snap, err := f.roster.DeleteStudent(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, before, snap.Student)
		assert.Len(t, snap.Payments, 2)

		_, err = f.roster.StudentDetail(ctx, 1)
		require.True(t, ledger.IsNotFound(err))
		_, err = f.store.GetPayment(ctx, 1, ym(2024, 9))
		require.True(t, ledger.IsNotFound(err), "payments cascade")

		held, ok := f.roster.LastDeleted()
		require.True(t, ok)
		assert.Equal(t, snap, held)

		restored, err := f.roster.UndoDelete(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, restored)
		assert.Equal(t, "2024-09-01", f.payment(t, 1, 2024, 9).PaymentDate)

		_, ok = f.roster.LastDeleted()
		assert.False(t, ok, "snapshot consumed")
		_, err = f.roster.UndoDelete(ctx)
		assert.True(t, errors.Is(err, ledger.ErrNothingToUndo))
	})
}

func TestDeleteStudent_SecondDeleteOverwritesSnapshot(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", today)
		f.addStudent(t, 2, "Maryam", today)

		_, err := f.roster.DeleteStudent(ctx, 1)
		require.NoError(t, err)
		_, err = f.roster.DeleteStudent(ctx, 2)
		require.NoError(t, err)

		restored, err := f.roster.UndoDelete(ctx)
		require.NoError(t, err)
		assert.Equal(t, ledger.StudentID(2), restored.ID)

		_, err = f.roster.StudentDetail(ctx, 1)
		assert.True(t, ledger.IsNotFound(err), "single-level undo only")
	})
}

func TestRestoreStudent_IDTaken(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", today)

		snap, err := f.roster.DeleteStudent(ctx, 1)
		require.NoError(t, err)
		f.addStudent(t, 1, "Reused", today)

		_, err = f.roster.RestoreStudent(ctx, snap)
		assert.True(t, errors.Is(err, ledger.ErrDuplicateKey))

		_, err = f.roster.UndoDelete(ctx)
		assert.True(t, errors.Is(err, ledger.ErrDuplicateKey))
		_, ok := f.roster.LastDeleted()
		assert.True(t, ok, "failed undo keeps the snapshot")
	})
}

func TestDeleteStudent_Unknown(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		_, err := f.roster.DeleteStudent(context.Background(), 9)
		assert.True(t, ledger.IsNotFound(err))
		_, ok := f.roster.LastDeleted()
		assert.False(t, ok)
	})
}

// =============================================================================
// GROUPLESS CLEANUP
// =============================================================================

func TestFindGrouplessStudents_ThenDeleteStudents(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", today, "Quran")
		f.addStudent(t, 2, "Maryam", today)
		f.addStudent(t, 3, "Bilal", today)

		groupless, err := f.roster.FindGrouplessStudents(ctx)
		require.NoError(t, err)
		require.Len(t, groupless, 2)
		assert.Equal(t, ledger.StudentID(2), groupless[0].ID)
		assert.Equal(t, ledger.StudentID(3), groupless[1].ID)

		n, err := f.roster.DeleteStudents(ctx, []ledger.StudentID{3, 2, 3})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		students, err := f.roster.ListStudents(ctx, ledger.OrderByID)
		require.NoError(t, err)
		require.Len(t, students, 1)
		assert.Equal(t, ledger.StudentID(1), students[0].ID)
	})
}

func TestDeleteStudents_MissingIDAbortsBatch(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 1, "Yusuf", today)

		_, err := f.roster.DeleteStudents(ctx, []ledger.StudentID{1, 2})
		assert.True(t, ledger.IsNotFound(err))

		_, err = f.roster.StudentDetail(ctx, 1)
		assert.NoError(t, err, "rolled back")
	})
}

func TestListStudents_Ordering(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.addStudent(t, 3, "bilal", today)
		f.addStudent(t, 1, "Yusuf", today)
		f.addStudent(t, 2, "Amina", today)

		byID, err := f.roster.ListStudents(ctx, ledger.OrderByID)
		require.NoError(t, err)
		byName, err := f.roster.ListStudents(ctx, ledger.OrderByName)
		require.NoError(t, err)

		var ids, names []string
		for _, s := range byID {
			ids = append(ids, s.ID.String())
		}
		for _, s := range byName {
			names = append(names, s.Name)
		}
		assert.Equal(t, []string{"1", "2", "3"}, ids)
		assert.Equal(t, []string{"Amina", "bilal", "Yusuf"}, names)
	})
}

func TestListStudents_NameOrderFoldsASCIIOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, f *fixture) {
		f.addStudent(t, 1, "élodie", today)
		f.addStudent(t, 2, "Émile", today)
		f.addStudent(t, 3, "Eve", today)

		byName, err := f.roster.ListStudents(context.Background(), ledger.OrderByName)
		require.NoError(t, err)

		var names []string
		for _, s := range byName {
			names = append(names, s.Name)
		}
		// Accented capitals are not folded, so É sorts before é
		assert.Equal(t, []string{"Eve", "Émile", "élodie"}, names)
	})
}
