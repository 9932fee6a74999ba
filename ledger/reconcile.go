/*
reconcile.go - Duplicate-student detection and merge

PURPOSE:
  The same pupil is sometimes entered twice. The Reconciler folds donor
  records into a master record: groups are united, payments reduced, and the
  donor deleted.

POLICIES:
  Automatic:   cluster by lower(trim(name)); the smallest id is the master.
  Interactive: the operator picks the master; every same-name student donates.

PER-DONOR TRANSACTION (ascending donor id):
  1. master groups = master groups ∪ donor groups
  2. for each donor payment month:
       master has no row  -> copy donor row
       otherwise          -> ReducePayment(master, donor)
  3. delete donor (memberships and payments cascade)
  A failure rolls back that donor only; earlier donors stay merged and the
  run stops.

PAYMENT REDUCTION:
  paid beats unpaid; paid vs paid keeps the earlier date. The reduction is
  commutative and associative, so the outcome does not depend on donor order.

SEE ALSO:
  - roster.go: replaceGroups, normalizeGroupNames
  - payments.go: Row shapes written here match normalized items
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Reconciler merges duplicate students.
type Reconciler struct {
	store TxStore
	log   *slog.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store TxStore, opts ...Option) *Reconciler {
	o := buildOptions(opts)
	return &Reconciler{store: store, log: o.logger}
}

// MergeCluster is a set of students sharing one normalized name.
type MergeCluster struct {
	Key    string
	Master Student
	Donors []Student
}

// MergePair records one donor folded into a master.
type MergePair struct {
	MasterID         StudentID
	DonorID          StudentID
	GroupsAdded      int
	PaymentsCopied   int
	PaymentsUpgraded int
}

// MergeReport is the outcome of a merge run. On failure it lists the pairs
// that were committed before the failing donor.
type MergeReport struct {
	RunID string
	Pairs []MergePair
}

// NameKey is the normalized name used to cluster duplicates.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// =============================================================================
// DETECTION
// =============================================================================

// MergeCandidates lists every cluster with more than one student, ordered
// by key. Within a cluster the master has the smallest id and donors are
// ascending.
func (r *Reconciler) MergeCandidates(ctx context.Context) ([]MergeCluster, error) {
	students, err := r.store.ListStudents(ctx, OrderByID)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string][]Student)
	for _, st := range students {
		key := NameKey(st.Name)
		byKey[key] = append(byKey[key], st)
	}

	var clusters []MergeCluster
	for key, members := range byKey {
		if len(members) < 2 {
			continue
		}
		clusters = append(clusters, MergeCluster{
			Key:    key,
			Master: members[0],
			Donors: members[1:],
		})
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Key < clusters[j].Key })
	return clusters, nil
}

// =============================================================================
// MERGE
// =============================================================================

// ApplyMerge folds donorIDs into masterID, one transaction per donor.
func (r *Reconciler) ApplyMerge(ctx context.Context, masterID StudentID, donorIDs []StudentID) (MergeReport, error) {
	report := MergeReport{RunID: uuid.NewString()}
	err := r.apply(ctx, &report, masterID, donorIDs)
	return report, err
}

// MergeInto merges every other student sharing the master's normalized name.
func (r *Reconciler) MergeInto(ctx context.Context, masterID StudentID) (MergeReport, error) {
	report := MergeReport{RunID: uuid.NewString()}

	master, err := r.store.GetStudent(ctx, masterID)
	if err != nil {
		return report, err
	}
	students, err := r.store.ListStudents(ctx, OrderByID)
	if err != nil {
		return report, err
	}

	key := NameKey(master.Name)
	var donors []StudentID
	for _, st := range students {
		if st.ID != masterID && NameKey(st.Name) == key {
			donors = append(donors, st.ID)
		}
	}
	if len(donors) == 0 {
		return report, nil
	}

	err = r.apply(ctx, &report, masterID, donors)
	return report, err
}

// MergeAllDuplicates applies the automatic policy to every cluster. The run
// stops at the first failing donor.
func (r *Reconciler) MergeAllDuplicates(ctx context.Context) (MergeReport, error) {
	report := MergeReport{RunID: uuid.NewString()}

	clusters, err := r.MergeCandidates(ctx)
	if err != nil {
		return report, err
	}
	for _, c := range clusters {
		donors := make([]StudentID, 0, len(c.Donors))
		for _, d := range c.Donors {
			donors = append(donors, d.ID)
		}
		if err := r.apply(ctx, &report, c.Master.ID, donors); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Reconciler) apply(ctx context.Context, report *MergeReport, masterID StudentID, donorIDs []StudentID) error {
	if len(donorIDs) == 0 {
		return invalid("donor_ids", "at least one donor is required")
	}
	donors := dedupeIDs(donorIDs)
	for _, id := range donors {
		if id == masterID {
			return invalid("donor_ids", "student %d cannot be merged into itself", id)
		}
	}
	if _, err := r.store.GetStudent(ctx, masterID); err != nil {
		return err
	}

	for _, donorID := range donors {
		var pair MergePair
		err := r.store.WithTx(ctx, func(s Store) error {
			var err error
			pair, err = mergeDonor(ctx, s, masterID, donorID)
			return err
		})
		if err != nil {
			r.log.Error("Merge failed",
				"run_id", report.RunID,
				"master_id", masterID,
				"donor_id", donorID,
				"error", err,
			)
			return fmt.Errorf("merge student %d into %d: %w", donorID, masterID, err)
		}

		report.Pairs = append(report.Pairs, pair)
		r.log.Info("Student merged",
			"run_id", report.RunID,
			"master_id", masterID,
			"donor_id", donorID,
			"groups_added", pair.GroupsAdded,
			"payments_copied", pair.PaymentsCopied,
			"payments_upgraded", pair.PaymentsUpgraded,
		)
	}
	return nil
}

// mergeDonor runs the three merge steps for one donor through s.
func mergeDonor(ctx context.Context, s Store, masterID, donorID StudentID) (MergePair, error) {
	pair := MergePair{MasterID: masterID, DonorID: donorID}

	master, err := s.GetStudent(ctx, masterID)
	if err != nil {
		return pair, err
	}
	donor, err := s.GetStudent(ctx, donorID)
	if err != nil {
		return pair, err
	}

	union := normalizeGroupNames(append(append([]string{}, master.Groups...), donor.Groups...))
	pair.GroupsAdded = len(union) - len(master.Groups)
	if err := replaceGroups(ctx, s, masterID, union); err != nil {
		return pair, err
	}

	donorPayments, err := s.ListPayments(ctx, donorID, AllTimeFrom, AllTimeTo)
	if err != nil {
		return pair, err
	}
	for _, dp := range donorPayments {
		existing, err := s.GetPayment(ctx, masterID, dp.Period)
		switch {
		case errors.Is(err, ErrNotFound):
			dp.StudentID = masterID
			if err := s.UpsertPayment(ctx, dp); err != nil {
				return pair, err
			}
			pair.PaymentsCopied++
			continue
		case err != nil:
			return pair, err
		}

		reduced := ReducePayment(existing, dp)
		if reduced == existing {
			continue
		}
		if err := s.UpsertPayment(ctx, reduced); err != nil {
			return pair, err
		}
		pair.PaymentsUpgraded++
	}

	if err := s.DeleteStudent(ctx, donorID); err != nil {
		return pair, err
	}
	return pair, nil
}

// ReducePayment combines two rows for the same month. Paid beats unpaid;
// between two paid rows the earlier date wins. The result keeps a's
// StudentID and Period, and its status and date do not depend on argument
// order.
func ReducePayment(a, b Payment) Payment {
	out := a
	switch {
	case a.Status == StatusPaid && b.Status == StatusPaid:
		out.PaymentDate = earlierDate(a.PaymentDate, b.PaymentDate)
	case b.Status == StatusPaid:
		out.Status = StatusPaid
		out.PaymentDate = b.PaymentDate
	case a.Status == StatusPaid:
		// master row already wins
	default:
		out.Status = StatusUnpaid
		out.PaymentDate = ""
	}
	return out
}

// earlierDate compares ISO dates as strings. A missing date loses.
func earlierDate(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case b < a:
		return b
	default:
		return a
	}
}
