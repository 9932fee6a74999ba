// Package store provides an in-memory ledger.TxStore.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elnajah/school-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the four ledger tables in maps. It enforces the same keys,
// foreign keys and cascades as the SQLite schema.
type Memory struct {
	mu sync.RWMutex
	t  *tables
}

type paymentKey struct {
	StudentID ledger.StudentID
	Period    ledger.YearMonth
}

type studentRow struct {
	name     string
	joinDate time.Time
}

type tables struct {
	students    map[ledger.StudentID]studentRow
	groups      map[ledger.GroupID]string
	groupByName map[string]ledger.GroupID
	nextGroupID ledger.GroupID
	members     map[ledger.StudentID]map[ledger.GroupID]bool
	payments    map[paymentKey]ledger.Payment
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

func newTables() *tables {
	return &tables{
		students:    make(map[ledger.StudentID]studentRow),
		groups:      make(map[ledger.GroupID]string),
		groupByName: make(map[string]ledger.GroupID),
		nextGroupID: 1,
		members:     make(map[ledger.StudentID]map[ledger.GroupID]bool),
		payments:    make(map[paymentKey]ledger.Payment),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

// =============================================================================
// PUBLIC METHODS - Take the lock, delegate to tables
// =============================================================================

func (m *Memory) InsertStudent(_ context.Context, s ledger.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertStudent(s)
}

func (m *Memory) GetStudent(_ context.Context, id ledger.StudentID) (ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getStudent(id)
}

func (m *Memory) RenameStudent(_ context.Context, id ledger.StudentID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.renameStudent(id, name)
}

func (m *Memory) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.deleteStudent(id)
}

func (m *Memory) ListStudents(_ context.Context, order ledger.StudentOrder) ([]ledger.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listStudents(order), nil
}

func (m *Memory) EnsureGroup(_ context.Context, name string) (ledger.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.ensureGroup(name), nil
}

func (m *Memory) InsertGroup(_ context.Context, name string) (ledger.GroupID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.insertGroup(name)
}

func (m *Memory) GetGroup(_ context.Context, name string) (ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getGroup(name)
}

func (m *Memory) ListGroups(_ context.Context) ([]ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listGroups(), nil
}

func (m *Memory) DeleteGroup(_ context.Context, id ledger.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.deleteGroup(id)
}

func (m *Memory) ReplaceMemberships(_ context.Context, id ledger.StudentID, groupIDs []ledger.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.replaceMemberships(id, groupIDs)
}

func (m *Memory) RemoveMembership(_ context.Context, id ledger.StudentID, groupID ledger.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.removeMembership(id, groupID)
	return nil
}

func (m *Memory) GroupMembers(_ context.Context, groupID ledger.GroupID) ([]ledger.StudentID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.groupMembers(groupID), nil
}

func (m *Memory) UpsertPayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.upsertPayment(p)
}

func (m *Memory) GetPayment(_ context.Context, id ledger.StudentID, period ledger.YearMonth) (ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.getPayment(id, period)
}

func (m *Memory) ListPayments(_ context.Context, id ledger.StudentID, from, to ledger.YearMonth) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.listPayments(id, from, to), nil
}

func (m *Memory) PaymentsForMonth(_ context.Context, period ledger.YearMonth) (map[ledger.StudentID]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.paymentsForMonth(period), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.t.clone()
	if err := fn(&txView{t: m.t}); err != nil {
		m.t = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

// txView writes straight into the tables; WithTx holds the lock and keeps the
// snapshot to restore on failure.
type txView struct {
	t *tables
}

func (v *txView) InsertStudent(_ context.Context, s ledger.Student) error {
	return v.t.insertStudent(s)
}

func (v *txView) GetStudent(_ context.Context, id ledger.StudentID) (ledger.Student, error) {
	return v.t.getStudent(id)
}

func (v *txView) RenameStudent(_ context.Context, id ledger.StudentID, name string) error {
	return v.t.renameStudent(id, name)
}

func (v *txView) DeleteStudent(_ context.Context, id ledger.StudentID) error {
	return v.t.deleteStudent(id)
}

func (v *txView) ListStudents(_ context.Context, order ledger.StudentOrder) ([]ledger.Student, error) {
	return v.t.listStudents(order), nil
}

func (v *txView) EnsureGroup(_ context.Context, name string) (ledger.GroupID, error) {
	return v.t.ensureGroup(name), nil
}

func (v *txView) InsertGroup(_ context.Context, name string) (ledger.GroupID, error) {
	return v.t.insertGroup(name)
}

func (v *txView) GetGroup(_ context.Context, name string) (ledger.Group, error) {
	return v.t.getGroup(name)
}

func (v *txView) ListGroups(_ context.Context) ([]ledger.Group, error) {
	return v.t.listGroups(), nil
}

func (v *txView) DeleteGroup(_ context.Context, id ledger.GroupID) error {
	return v.t.deleteGroup(id)
}

func (v *txView) ReplaceMemberships(_ context.Context, id ledger.StudentID, groupIDs []ledger.GroupID) error {
	return v.t.replaceMemberships(id, groupIDs)
}

func (v *txView) RemoveMembership(_ context.Context, id ledger.StudentID, groupID ledger.GroupID) error {
	v.t.removeMembership(id, groupID)
	return nil
}

func (v *txView) GroupMembers(_ context.Context, groupID ledger.GroupID) ([]ledger.StudentID, error) {
	return v.t.groupMembers(groupID), nil
}

func (v *txView) UpsertPayment(_ context.Context, p ledger.Payment) error {
	return v.t.upsertPayment(p)
}

func (v *txView) GetPayment(_ context.Context, id ledger.StudentID, period ledger.YearMonth) (ledger.Payment, error) {
	return v.t.getPayment(id, period)
}

func (v *txView) ListPayments(_ context.Context, id ledger.StudentID, from, to ledger.YearMonth) ([]ledger.Payment, error) {
	return v.t.listPayments(id, from, to), nil
}

func (v *txView) PaymentsForMonth(_ context.Context, period ledger.YearMonth) (map[ledger.StudentID]ledger.Payment, error) {
	return v.t.paymentsForMonth(period), nil
}

// =============================================================================
// TABLES - Callers hold the lock
// =============================================================================

func (t *tables) clone() *tables {
	c := &tables{
		students:    make(map[ledger.StudentID]studentRow, len(t.students)),
		groups:      make(map[ledger.GroupID]string, len(t.groups)),
		groupByName: make(map[string]ledger.GroupID, len(t.groupByName)),
		nextGroupID: t.nextGroupID,
		members:     make(map[ledger.StudentID]map[ledger.GroupID]bool, len(t.members)),
		payments:    make(map[paymentKey]ledger.Payment, len(t.payments)),
	}
	for k, v := range t.students {
		c.students[k] = v
	}
	for k, v := range t.groups {
		c.groups[k] = v
	}
	for k, v := range t.groupByName {
		c.groupByName[k] = v
	}
	for sid, set := range t.members {
		cs := make(map[ledger.GroupID]bool, len(set))
		for gid := range set {
			cs[gid] = true
		}
		c.members[sid] = cs
	}
	for k, v := range t.payments {
		c.payments[k] = v
	}
	return c
}

func (t *tables) insertStudent(s ledger.Student) error {
	if _, ok := t.students[s.ID]; ok {
		return &ledger.DuplicateKeyError{Kind: ledger.KindStudent, Key: s.ID.String()}
	}
	t.students[s.ID] = studentRow{name: s.Name, joinDate: ledger.DateOnly(s.JoinDate)}
	return nil
}

func (t *tables) getStudent(id ledger.StudentID) (ledger.Student, error) {
	row, ok := t.students[id]
	if !ok {
		return ledger.Student{}, &ledger.NotFoundError{Kind: ledger.KindStudent, Key: id.String()}
	}
	return t.studentFrom(id, row), nil
}

func (t *tables) studentFrom(id ledger.StudentID, row studentRow) ledger.Student {
	groups := make([]string, 0, len(t.members[id]))
	for gid := range t.members[id] {
		groups = append(groups, t.groups[gid])
	}
	sort.Strings(groups)
	return ledger.Student{ID: id, Name: row.name, JoinDate: row.joinDate, Groups: groups}
}

func (t *tables) renameStudent(id ledger.StudentID, name string) error {
	row, ok := t.students[id]
	if !ok {
		return &ledger.NotFoundError{Kind: ledger.KindStudent, Key: id.String()}
	}
	row.name = name
	t.students[id] = row
	return nil
}

func (t *tables) deleteStudent(id ledger.StudentID) error {
	if _, ok := t.students[id]; !ok {
		return &ledger.NotFoundError{Kind: ledger.KindStudent, Key: id.String()}
	}
	delete(t.members, id)
	for k := range t.payments {
		if k.StudentID == id {
			delete(t.payments, k)
		}
	}
	delete(t.students, id)
	return nil
}

// foldASCII lowercases A-Z only, matching SQLite's NOCASE collation so both
// stores order non-ASCII names the same way.
func foldASCII(s string) string {
	return strings.Map(func(r rune) rune {
		if 'A' <= r && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, s)
}

func (t *tables) listStudents(order ledger.StudentOrder) []ledger.Student {
	out := make([]ledger.Student, 0, len(t.students))
	for id, row := range t.students {
		out = append(out, t.studentFrom(id, row))
	}
	sort.Slice(out, func(i, j int) bool {
		if order == ledger.OrderByName {
			a, b := foldASCII(out[i].Name), foldASCII(out[j].Name)
			if a != b {
				return a < b
			}
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (t *tables) ensureGroup(name string) ledger.GroupID {
	if id, ok := t.groupByName[name]; ok {
		return id
	}
	id := t.nextGroupID
	t.nextGroupID++
	t.groups[id] = name
	t.groupByName[name] = id
	return id
}

func (t *tables) insertGroup(name string) (ledger.GroupID, error) {
	if _, ok := t.groupByName[name]; ok {
		return 0, &ledger.DuplicateKeyError{Kind: ledger.KindGroup, Key: name}
	}
	return t.ensureGroup(name), nil
}

func (t *tables) getGroup(name string) (ledger.Group, error) {
	id, ok := t.groupByName[name]
	if !ok {
		return ledger.Group{}, &ledger.NotFoundError{Kind: ledger.KindGroup, Key: name}
	}
	return ledger.Group{ID: id, Name: name, Members: t.memberCount(id)}, nil
}

func (t *tables) memberCount(gid ledger.GroupID) int {
	n := 0
	for _, set := range t.members {
		if set[gid] {
			n++
		}
	}
	return n
}

func (t *tables) listGroups() []ledger.Group {
	out := make([]ledger.Group, 0, len(t.groups))
	for id, name := range t.groups {
		out = append(out, ledger.Group{ID: id, Name: name, Members: t.memberCount(id)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *tables) deleteGroup(id ledger.GroupID) error {
	name, ok := t.groups[id]
	if !ok {
		return &ledger.NotFoundError{Kind: ledger.KindGroup, Key: fmt.Sprintf("#%d", id)}
	}
	for _, set := range t.members {
		delete(set, id)
	}
	delete(t.groups, id)
	delete(t.groupByName, name)
	return nil
}

func (t *tables) replaceMemberships(id ledger.StudentID, groupIDs []ledger.GroupID) error {
	if _, ok := t.students[id]; !ok {
		return &ledger.ConstraintError{Constraint: "memberships.student_id references students"}
	}
	set := make(map[ledger.GroupID]bool, len(groupIDs))
	for _, gid := range groupIDs {
		if _, ok := t.groups[gid]; !ok {
			return &ledger.ConstraintError{Constraint: "memberships.group_id references groups"}
		}
		set[gid] = true
	}
	t.members[id] = set
	return nil
}

func (t *tables) removeMembership(id ledger.StudentID, gid ledger.GroupID) {
	delete(t.members[id], gid)
}

func (t *tables) groupMembers(gid ledger.GroupID) []ledger.StudentID {
	var ids []ledger.StudentID
	for sid, set := range t.members {
		if set[gid] {
			ids = append(ids, sid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t *tables) upsertPayment(p ledger.Payment) error {
	if _, ok := t.students[p.StudentID]; !ok {
		return &ledger.ConstraintError{Constraint: "payments.student_id references students"}
	}
	if !p.Period.Valid() {
		return &ledger.ConstraintError{Constraint: "payments.month between 1 and 12"}
	}
	if !p.Status.Valid() {
		return &ledger.ConstraintError{Constraint: "payments.status in (paid, unpaid)"}
	}
	t.payments[paymentKey{StudentID: p.StudentID, Period: p.Period}] = p
	return nil
}

func (t *tables) getPayment(id ledger.StudentID, period ledger.YearMonth) (ledger.Payment, error) {
	p, ok := t.payments[paymentKey{StudentID: id, Period: period}]
	if !ok {
		return ledger.Payment{}, &ledger.NotFoundError{Kind: ledger.KindPayment, Key: id.String() + "/" + period.String()}
	}
	return p, nil
}

func (t *tables) listPayments(id ledger.StudentID, from, to ledger.YearMonth) []ledger.Payment {
	var out []ledger.Payment
	for k, p := range t.payments {
		if k.StudentID == id && !k.Period.Before(from) && !k.Period.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

func (t *tables) paymentsForMonth(period ledger.YearMonth) map[ledger.StudentID]ledger.Payment {
	out := make(map[ledger.StudentID]ledger.Payment)
	for k, p := range t.payments {
		if k.Period == period {
			out[k.StudentID] = p
		}
	}
	return out
}
