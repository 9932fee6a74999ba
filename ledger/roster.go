/*
roster.go - Students, groups and memberships

PURPOSE:
  Roster is the only writer of students, groups and memberships. Every
  multi-statement operation runs in one store transaction, so a failure leaves
  no partial state.

KEY OPERATIONS:
  Enroll / CreateStudent       insert student, get-or-create groups, link
  SetStudentGroups             full replacement of the membership set
  DeleteStudent / UndoDelete   single-level undo through a held Snapshot
  RemoveGroupIfSoleMembership  strip a group from students who have nothing else

UNDO:
  Exactly one snapshot is retained. A second delete overwrites it; a
  successful UndoDelete clears it. Bulk deletes do not touch it.

SEE ALSO:
  - payments.go: Payment writes (Enroll can carry one initial item)
  - reconcile.go: Merges delete donors through the store directly
*/
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Roster manages students, groups and memberships.
type Roster struct {
	store TxStore
	now   func() time.Time
	log   *slog.Logger

	mu          sync.Mutex
	lastDeleted *Snapshot
}

// NewRoster creates a roster manager over store.
func NewRoster(store TxStore, opts ...Option) *Roster {
	o := buildOptions(opts)
	return &Roster{store: store, now: o.now, log: o.logger}
}

// NewStudent is the input of Enroll.
type NewStudent struct {
	ID       StudentID
	Name     string
	JoinDate time.Time // zero means today
	Groups   []string

	// Initial is an optional first payment written with the student.
	Initial *PaymentItem
}

// =============================================================================
// STUDENTS
// =============================================================================

// CreateStudent inserts a student and links it to groupNames, creating
// unknown groups.
func (r *Roster) CreateStudent(ctx context.Context, id StudentID, name string, joinDate time.Time, groupNames []string) (Student, error) {
	return r.Enroll(ctx, NewStudent{ID: id, Name: name, JoinDate: joinDate, Groups: groupNames})
}

// Enroll is CreateStudent plus an optional initial payment in the same
// transaction.
func (r *Roster) Enroll(ctx context.Context, in NewStudent) (Student, error) {
	name, err := validateStudent(in.ID, in.Name)
	if err != nil {
		return Student{}, err
	}
	joinDate := in.JoinDate
	if joinDate.IsZero() {
		joinDate = r.now()
	}

	var initial []PaymentItem
	if in.Initial != nil {
		item, err := normalizeItem(*in.Initial, r.now)
		if err != nil {
			return Student{}, err
		}
		initial = append(initial, item)
	}

	var created Student
	err = r.store.WithTx(ctx, func(s Store) error {
		if err := s.InsertStudent(ctx, Student{ID: in.ID, Name: name, JoinDate: DateOnly(joinDate)}); err != nil {
			return err
		}
		if err := replaceGroups(ctx, s, in.ID, in.Groups); err != nil {
			return err
		}
		if _, err := upsertItems(ctx, s, in.ID, initial); err != nil {
			return err
		}
		created, err = s.GetStudent(ctx, in.ID)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	r.log.Info("Student created",
		"student_id", created.ID,
		"join_date", created.JoinDate.Format(DateLayout),
		"groups", created.Groups,
	)
	return created, nil
}

// UpdateStudent renames the student and replaces its groups atomically.
func (r *Roster) UpdateStudent(ctx context.Context, id StudentID, name string, groupNames []string) (Student, error) {
	name, err := validateStudent(id, name)
	if err != nil {
		return Student{}, err
	}

	var updated Student
	err = r.store.WithTx(ctx, func(s Store) error {
		if err := s.RenameStudent(ctx, id, name); err != nil {
			return err
		}
		if err := replaceGroups(ctx, s, id, groupNames); err != nil {
			return err
		}
		updated, err = s.GetStudent(ctx, id)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	r.log.Info("Student updated", "student_id", id, "groups", updated.Groups)
	return updated, nil
}

// SetStudentGroups replaces the student's memberships with groupNames.
// Calling it twice with the same names is a no-op.
func (r *Roster) SetStudentGroups(ctx context.Context, id StudentID, groupNames []string) (Student, error) {
	var updated Student
	err := r.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetStudent(ctx, id); err != nil {
			return err
		}
		if err := replaceGroups(ctx, s, id, groupNames); err != nil {
			return err
		}
		var err error
		updated, err = s.GetStudent(ctx, id)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	r.log.Info("Student groups replaced", "student_id", id, "groups", updated.Groups)
	return updated, nil
}

// DeleteStudent removes the student with its memberships and payments, and
// keeps the returned snapshot for UndoDelete.
func (r *Roster) DeleteStudent(ctx context.Context, id StudentID) (Snapshot, error) {
	var snap Snapshot
	err := r.store.WithTx(ctx, func(s Store) error {
		var err error
		if snap, err = takeSnapshot(ctx, s, id); err != nil {
			return err
		}
		return s.DeleteStudent(ctx, id)
	})
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.Lock()
	r.lastDeleted = &snap
	r.mu.Unlock()

	r.log.Info("Student deleted", "student_id", id, "payments", len(snap.Payments))
	return snap, nil
}

// RestoreStudent recreates a deleted student from snap. It fails with
// DuplicateKeyError if the id has been reused meanwhile.
func (r *Roster) RestoreStudent(ctx context.Context, snap Snapshot) (Student, error) {
	var restored Student
	err := r.store.WithTx(ctx, func(s Store) error {
		st := snap.Student
		if err := s.InsertStudent(ctx, Student{ID: st.ID, Name: st.Name, JoinDate: st.JoinDate}); err != nil {
			return err
		}
		if err := replaceGroups(ctx, s, st.ID, st.Groups); err != nil {
			return err
		}
		for _, p := range snap.Payments {
			p.StudentID = st.ID
			if err := s.UpsertPayment(ctx, p); err != nil {
				return err
			}
		}
		var err error
		restored, err = s.GetStudent(ctx, st.ID)
		return err
	})
	if err != nil {
		return Student{}, err
	}

	r.log.Info("Student restored", "student_id", restored.ID)
	return restored, nil
}

// UndoDelete restores the held snapshot and clears it.
func (r *Roster) UndoDelete(ctx context.Context) (Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lastDeleted == nil {
		return Student{}, ErrNothingToUndo
	}
	restored, err := r.RestoreStudent(ctx, *r.lastDeleted)
	if err != nil {
		return Student{}, err
	}
	r.lastDeleted = nil
	return restored, nil
}

// LastDeleted returns the held snapshot, if any.
func (r *Roster) LastDeleted() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastDeleted == nil {
		return Snapshot{}, false
	}
	return *r.lastDeleted, true
}

// DeleteStudents removes every listed student in one transaction. Any
// unknown id aborts the whole batch. The undo snapshot is left alone.
func (r *Roster) DeleteStudents(ctx context.Context, ids []StudentID) (int, error) {
	unique := dedupeIDs(ids)
	err := r.store.WithTx(ctx, func(s Store) error {
		for _, id := range unique {
			if err := s.DeleteStudent(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info("Students deleted", "count", len(unique))
	return len(unique), nil
}

// FindGrouplessStudents lists students without any membership. Nothing is
// deleted.
func (r *Roster) FindGrouplessStudents(ctx context.Context) ([]Student, error) {
	students, err := r.store.ListStudents(ctx, OrderByID)
	if err != nil {
		return nil, err
	}
	var out []Student
	for _, st := range students {
		if len(st.Groups) == 0 {
			out = append(out, st)
		}
	}
	return out, nil
}

// =============================================================================
// GROUPS
// =============================================================================

// CreateGroup creates an empty group.
func (r *Roster) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, invalid("name", "group name must not be blank")
	}
	id, err := r.store.InsertGroup(ctx, name)
	if err != nil {
		return Group{}, err
	}
	r.log.Info("Group created", "group", name)
	return Group{ID: id, Name: name}, nil
}

// DeleteGroup removes the group and its memberships. Students keep their
// other groups and payments.
func (r *Roster) DeleteGroup(ctx context.Context, name string) error {
	err := r.store.WithTx(ctx, func(s Store) error {
		g, err := s.GetGroup(ctx, name)
		if err != nil {
			return err
		}
		return s.DeleteGroup(ctx, g.ID)
	})
	if err != nil {
		return err
	}
	r.log.Info("Group deleted", "group", name)
	return nil
}

// RemoveGroupIfSoleMembership removes the group from every student whose
// only group it is, and deletes the group when no members remain. It
// returns the number of students that became groupless.
func (r *Roster) RemoveGroupIfSoleMembership(ctx context.Context, name string) (int, error) {
	var (
		changed      int
		groupRemoved bool
	)
	err := r.store.WithTx(ctx, func(s Store) error {
		g, err := s.GetGroup(ctx, name)
		if err != nil {
			return err
		}
		members, err := s.GroupMembers(ctx, g.ID)
		if err != nil {
			return err
		}

		remaining := len(members)
		for _, id := range members {
			st, err := s.GetStudent(ctx, id)
			if err != nil {
				return err
			}
			if len(st.Groups) != 1 {
				continue
			}
			if err := s.RemoveMembership(ctx, id, g.ID); err != nil {
				return err
			}
			changed++
			remaining--
		}

		if remaining == 0 {
			groupRemoved = true
			return s.DeleteGroup(ctx, g.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info("Sole memberships removed",
		"group", name,
		"students", changed,
		"group_deleted", groupRemoved,
	)
	return changed, nil
}

// =============================================================================
// COLLABORATOR READS
// =============================================================================

// ListStudents returns every student with its groups.
func (r *Roster) ListStudents(ctx context.Context, order StudentOrder) ([]Student, error) {
	return r.store.ListStudents(ctx, order)
}

// ListGroups returns every group with its member count, ordered by name.
func (r *Roster) ListGroups(ctx context.Context) ([]Group, error) {
	return r.store.ListGroups(ctx)
}

// StudentDetail returns id, name, groups and join date of one student.
func (r *Roster) StudentDetail(ctx context.Context, id StudentID) (Student, error) {
	return r.store.GetStudent(ctx, id)
}

// =============================================================================
// HELPERS
// =============================================================================

func validateStudent(id StudentID, name string) (string, error) {
	if id <= 0 {
		return "", invalid("id", "student id must be a positive integer, got %d", id)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("name", "student name must not be blank")
	}
	return name, nil
}

// normalizeGroupNames trims, drops blanks and removes repeats. Case is kept.
func normalizeGroupNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// replaceGroups get-or-creates every named group and replaces the
// student's memberships with them.
func replaceGroups(ctx context.Context, s Store, id StudentID, names []string) error {
	names = normalizeGroupNames(names)
	ids := make([]GroupID, 0, len(names))
	for _, name := range names {
		gid, err := s.EnsureGroup(ctx, name)
		if err != nil {
			return err
		}
		ids = append(ids, gid)
	}
	return s.ReplaceMemberships(ctx, id, ids)
}

func takeSnapshot(ctx context.Context, s Store, id StudentID) (Snapshot, error) {
	st, err := s.GetStudent(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	payments, err := s.ListPayments(ctx, id, AllTimeFrom, AllTimeTo)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Student: st, Payments: payments}, nil
}

func dedupeIDs(ids []StudentID) []StudentID {
	seen := make(map[StudentID]bool, len(ids))
	out := make([]StudentID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
