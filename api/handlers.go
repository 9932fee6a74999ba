/*
handlers.go - HTTP handlers for the local bridge

PURPOSE:
  Exposes the ledger to the desktop front-end over loopback HTTP. Handles
  request/response, JSON serialization, and delegates to the ledger
  components.

ENDPOINTS:
  Students:
    GET    /api/students?order=id|name     List students
    POST   /api/students                   Enroll (optional initial payment)
    GET    /api/students/groupless         Students with no group
    GET    /api/students/undo              Peek the held delete snapshot
    POST   /api/students/undo              Restore the last deleted student
    POST   /api/students/bulk-delete       Delete several students
    GET    /api/students/{id}              Student detail
    PUT    /api/students/{id}              Rename and replace groups
    DELETE /api/students/{id}              Delete (returns the undo snapshot)
    PUT    /api/students/{id}/groups       Replace groups

  Payments:
    GET    /api/students/{id}/status       Derived state for a month
    GET    /api/students/{id}/payments     Academic year or full history
    PUT    /api/students/{id}/payments     Bulk upsert
    GET    /api/students/{id}/grid         Twelve-month grid

  Groups:
    GET    /api/groups                     List with member counts
    POST   /api/groups                     Create
    GET    /api/groups/counts              Dashboard counts
    DELETE /api/groups/{name}              Delete group and memberships
    POST   /api/groups/{name}/remove-sole  Strip from single-group students
    GET    /api/groups/{name}/roster       Members with state for a month

  Reports and merge:
    GET    /api/reports/{month,unpaid,summary,search}
    GET    /api/merge/candidates
    POST   /api/merge                      Explicit or name-matched donors
    POST   /api/merge/auto                 Merge every duplicate cluster
    GET    /api/academic-years             Selector options

QUERY DEFAULTS:
  year/month default to the current month of the handler clock.
  start_year (or academic_year="2024-2025") defaults to the current
  academic year, except on /payments where no selector means full history.

ERROR HANDLING:
  Errors are returned as JSON with an HTTP status from statusFor:
  - 400: Validation errors, malformed input
  - 404: Student or group not found, nothing to undo
  - 409: Duplicate student id or group name
  - 422: Constraint violation
  - 500: Store failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/elnajah/school-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	roster     *ledger.Roster
	payments   *ledger.Payments
	reconciler *ledger.Reconciler
	reports    *ledger.Reports

	now      func() time.Time
	log      *slog.Logger
	metrics  *Metrics
	validate *requestValidator
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used by the handler and the ledger components.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// WithClock sets the clock used for defaults and paid-without-date writes.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithMetrics shares a Metrics instance with the router.
func WithMetrics(m *Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler wires the ledger components over store.
func NewHandler(store ledger.TxStore, opts ...Option) *Handler {
	h := &Handler{
		now:      time.Now,
		log:      slog.Default(),
		validate: newRequestValidator(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}

	lopts := []ledger.Option{ledger.WithClock(h.now), ledger.WithLogger(h.log)}
	h.roster = ledger.NewRoster(store, lopts...)
	h.payments = ledger.NewPayments(store, lopts...)
	h.reconciler = ledger.NewReconciler(store, lopts...)
	h.reports = ledger.NewReports(store)
	return h
}

// Metrics returns the collectors the handler reports to.
func (h *Handler) Metrics() *Metrics {
	return h.metrics
}

// =============================================================================
// STUDENT HANDLERS
// =============================================================================

// ListStudents returns all students.
// GET /api/students?order=id|name
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	order, err := ledger.ParseStudentOrder(r.URL.Query().Get("order"))
	if err != nil {
		h.fail(w, r, "Invalid order", err)
		return
	}
	students, err := h.roster.ListStudents(r.Context(), order)
	if err != nil {
		h.fail(w, r, "Failed to list students", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTOs(students))
}

// GetStudent returns one student with its groups.
// GET /api/students/{id}
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	st, err := h.roster.StudentDetail(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to get student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// CreateStudent enrolls a student.
// POST /api/students
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	in := ledger.NewStudent{ID: ledger.StudentID(req.ID), Name: req.Name, Groups: req.Groups}
	if req.JoinDate != "" {
		joinDate, err := ledger.ParseDate("join_date", req.JoinDate)
		if err != nil {
			h.fail(w, r, "Invalid join_date", err)
			return
		}
		in.JoinDate = joinDate
	}
	if req.Initial != nil {
		item := req.Initial.item()
		in.Initial = &item
	}

	st, err := h.roster.Enroll(r.Context(), in)
	if err != nil {
		h.fail(w, r, "Failed to create student", err)
		return
	}
	if in.Initial != nil {
		h.metrics.paymentWritten(string(in.Initial.Status))
	}
	writeJSON(w, http.StatusCreated, toStudentDTO(st))
}

// UpdateStudent renames a student and replaces its groups.
// PUT /api/students/{id}
func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	var req UpdateStudentRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	st, err := h.roster.UpdateStudent(r.Context(), id, req.Name, req.Groups)
	if err != nil {
		h.fail(w, r, "Failed to update student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// SetStudentGroups replaces a student's memberships.
// PUT /api/students/{id}/groups
func (h *Handler) SetStudentGroups(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	var req SetGroupsRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	st, err := h.roster.SetStudentGroups(r.Context(), id, req.Groups)
	if err != nil {
		h.fail(w, r, "Failed to set groups", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// DeleteStudent deletes a student and returns the undo snapshot.
// DELETE /api/students/{id}
func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	snap, err := h.roster.DeleteStudent(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to delete student", err)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// LastDeleted returns the snapshot UndoDelete would restore.
// GET /api/students/undo
func (h *Handler) LastDeleted(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.roster.LastDeleted()
	if !ok {
		h.fail(w, r, "Nothing to undo", ledger.ErrNothingToUndo)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotDTO(snap))
}

// UndoDelete restores the last deleted student.
// POST /api/students/undo
func (h *Handler) UndoDelete(w http.ResponseWriter, r *http.Request) {
	st, err := h.roster.UndoDelete(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to undo delete", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// BulkDeleteStudents deletes the given students in one transaction.
// POST /api/students/bulk-delete
func (h *Handler) BulkDeleteStudents(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	ids := make([]ledger.StudentID, len(req.IDs))
	for i, id := range req.IDs {
		ids[i] = ledger.StudentID(id)
	}
	n, err := h.roster.DeleteStudents(r.Context(), ids)
	if err != nil {
		h.fail(w, r, "Failed to delete students", err)
		return
	}
	writeJSON(w, http.StatusOK, BulkDeleteDTO{Deleted: n})
}

// ListGroupless returns students with no group.
// GET /api/students/groupless
func (h *Handler) ListGroupless(w http.ResponseWriter, r *http.Request) {
	students, err := h.roster.FindGrouplessStudents(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list groupless students", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTOs(students))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// GetStatus returns the derived state of a student for one month.
// GET /api/students/{id}/status?year=&month=
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	state, err := h.payments.StatusAsOf(r.Context(), id, ym.Year, int(ym.Month))
	if err != nil {
		h.fail(w, r, "Failed to get status", err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{
		StudentID: int64(id),
		Year:      ym.Year,
		Month:     int(ym.Month),
		State:     string(state),
	})
}

// GetPayments returns stored rows for one academic year, or the full
// history when no year is selected.
// GET /api/students/{id}/payments?start_year=
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}

	q := r.URL.Query()
	if q.Get("start_year") == "" && q.Get("academic_year") == "" {
		history, err := h.payments.PaymentHistory(ctx, id)
		if err != nil {
			h.fail(w, r, "Failed to get payments", err)
			return
		}
		writeJSON(w, http.StatusOK, toPaymentDTOs(history))
		return
	}

	startYear, err := h.startYearParam(r)
	if err != nil {
		h.fail(w, r, "Invalid academic year", err)
		return
	}
	byMonth, err := h.payments.PaymentsForAcademicYear(ctx, id, startYear)
	if err != nil {
		h.fail(w, r, "Failed to get payments", err)
		return
	}
	out := []PaymentDTO{}
	for _, ym := range ledger.AcademicYearWindow(startYear) {
		if p, ok := byMonth[ym]; ok {
			out = append(out, toPaymentDTO(p))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// UpsertPayments writes several months for one student atomically.
// PUT /api/students/{id}/payments
func (h *Handler) UpsertPayments(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	var req BulkPaymentsRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	items := make([]ledger.PaymentItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = it.item()
	}
	written, err := h.payments.UpsertPaymentsBulk(r.Context(), id, items)
	if err != nil {
		h.fail(w, r, "Failed to save payments", err)
		return
	}
	for _, p := range written {
		h.metrics.paymentWritten(string(p.Status))
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(written))
}

// GetGrid returns the twelve-month payment grid.
// GET /api/students/{id}/grid?start_year=
func (h *Handler) GetGrid(w http.ResponseWriter, r *http.Request) {
	id, err := studentID(r)
	if err != nil {
		h.fail(w, r, "Invalid student id", err)
		return
	}
	startYear, err := h.startYearParam(r)
	if err != nil {
		h.fail(w, r, "Invalid academic year", err)
		return
	}
	grid, err := h.reports.AcademicYearGrid(r.Context(), id, startYear)
	if err != nil {
		h.fail(w, r, "Failed to build grid", err)
		return
	}

	cells := make([]GridCellDTO, len(grid.Cells))
	for i, c := range grid.Cells {
		cells[i] = GridCellDTO{
			Period:      c.Period.String(),
			Label:       c.Period.Label(),
			State:       string(c.State),
			PaymentDate: c.PaymentDate,
		}
	}
	writeJSON(w, http.StatusOK, YearGridDTO{
		Student:      toStudentDTO(grid.Student),
		AcademicYear: ledger.AcademicYearLabel(grid.StartYear),
		Cells:        cells,
	})
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// ListGroups returns all groups with member counts.
// GET /api/groups
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.roster.ListGroups(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupDTOs(groups))
}

// CreateGroup creates an empty group.
// POST /api/groups
func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}
	g, err := h.roster.CreateGroup(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, "Failed to create group", err)
		return
	}
	writeJSON(w, http.StatusCreated, GroupDTO{ID: int64(g.ID), Name: g.Name, Members: g.Members})
}

// DeleteGroup removes a group and its memberships.
// DELETE /api/groups/{name}
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		h.fail(w, r, "Invalid group name", err)
		return
	}
	if err := h.roster.DeleteGroup(r.Context(), name); err != nil {
		h.fail(w, r, "Failed to delete group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveSole strips the group from students whose only group it is.
// POST /api/groups/{name}/remove-sole
func (h *Handler) RemoveSole(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		h.fail(w, r, "Invalid group name", err)
		return
	}
	n, err := h.roster.RemoveGroupIfSoleMembership(r.Context(), name)
	if err != nil {
		h.fail(w, r, "Failed to remove group", err)
		return
	}
	writeJSON(w, http.StatusOK, RemoveSoleDTO{Group: name, Removed: n})
}

// GroupRoster lists a group's members with their state for a month.
// GET /api/groups/{name}/roster?year=&month=
func (h *Handler) GroupRoster(w http.ResponseWriter, r *http.Request) {
	name, err := groupName(r)
	if err != nil {
		h.fail(w, r, "Invalid group name", err)
		return
	}
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	statuses, err := h.reports.GroupRoster(r.Context(), name, ym)
	if err != nil {
		h.fail(w, r, "Failed to build roster", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// GroupCounts returns member counts for the dashboard.
// GET /api/groups/counts
func (h *Handler) GroupCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.reports.StudentCountsByGroup(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to count students", err)
		return
	}
	writeJSON(w, http.StatusOK, GroupCountsDTO{Groups: toGroupDTOs(counts.Groups), Total: counts.Total})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// MonthReport lists every student with its state for a month.
// GET /api/reports/month?year=&month=
func (h *Handler) MonthReport(w http.ResponseWriter, r *http.Request) {
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	statuses, err := h.reports.MonthStatus(r.Context(), ym)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// UnpaidReport lists unpaid students, optionally for one group.
// GET /api/reports/unpaid?year=&month=&group=
func (h *Handler) UnpaidReport(w http.ResponseWriter, r *http.Request) {
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	statuses, err := h.reports.UnpaidForMonth(r.Context(), ym, group)
	if err != nil {
		h.fail(w, r, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// SummaryReport counts derived states for a month.
// GET /api/reports/summary?year=&month=
func (h *Handler) SummaryReport(w http.ResponseWriter, r *http.Request) {
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	s, err := h.reports.MonthSummary(r.Context(), ym)
	if err != nil {
		h.fail(w, r, "Failed to build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, MonthSummaryDTO{
		Period:         s.Period.String(),
		Label:          s.Period.Label(),
		Paid:           s.Paid,
		Unpaid:         s.Unpaid,
		NoRecord:       s.NoRecord,
		CollectionRate: s.CollectionRate,
	})
}

// SearchStudents matches by exact id or name substring.
// GET /api/reports/search?q=&year=&month=
func (h *Handler) SearchStudents(w http.ResponseWriter, r *http.Request) {
	ym, err := h.monthParam(r)
	if err != nil {
		h.fail(w, r, "Invalid month", err)
		return
	}
	statuses, err := h.reports.SearchStudents(r.Context(), r.URL.Query().Get("q"), ym)
	if err != nil {
		h.fail(w, r, "Failed to search", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTOs(statuses))
}

// AcademicYears returns the year selector around the current academic year.
// GET /api/academic-years
func (h *Handler) AcademicYears(w http.ResponseWriter, r *http.Request) {
	current := h.payments.CurrentAcademicYear()
	writeJSON(w, http.StatusOK, AcademicYearsDTO{
		Current: ledger.AcademicYearLabel(current),
		Options: ledger.AcademicYearOptions(current, 2),
	})
}

// =============================================================================
// MERGE HANDLERS
// =============================================================================

// MergeCandidates lists clusters of same-named students.
// GET /api/merge/candidates
func (h *Handler) MergeCandidates(w http.ResponseWriter, r *http.Request) {
	clusters, err := h.reconciler.MergeCandidates(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to find duplicates", err)
		return
	}
	out := make([]MergeClusterDTO, len(clusters))
	for i, c := range clusters {
		out[i] = MergeClusterDTO{Key: c.Key, Master: toStudentDTO(c.Master), Donors: toStudentDTOs(c.Donors)}
	}
	writeJSON(w, http.StatusOK, out)
}

// Merge folds donors into a master. Without donor_ids the donors are the
// other students sharing the master's name.
// POST /api/merge
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := h.validate.decode(r, &req); err != nil {
		h.fail(w, r, "Invalid request body", err)
		return
	}

	master := ledger.StudentID(req.MasterID)
	var (
		report ledger.MergeReport
		err    error
	)
	if len(req.DonorIDs) == 0 {
		report, err = h.reconciler.MergeInto(r.Context(), master)
	} else {
		donors := make([]ledger.StudentID, len(req.DonorIDs))
		for i, id := range req.DonorIDs {
			donors[i] = ledger.StudentID(id)
		}
		report, err = h.reconciler.ApplyMerge(r.Context(), master, donors)
	}
	h.writeMerge(w, r, report, err)
}

// MergeAll merges every duplicate cluster into its smallest id.
// POST /api/merge/auto
func (h *Handler) MergeAll(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.MergeAllDuplicates(r.Context())
	h.writeMerge(w, r, report, err)
}

// writeMerge reports partial progress alongside the failure so the operator
// can see which donors were already folded in.
func (h *Handler) writeMerge(w http.ResponseWriter, r *http.Request, report ledger.MergeReport, err error) {
	h.metrics.merged(len(report.Pairs), err != nil)
	dto := toMergeReportDTO(report)
	if err == nil {
		writeJSON(w, http.StatusOK, dto)
		return
	}
	if len(report.Pairs) == 0 {
		h.fail(w, r, "Merge failed", err)
		return
	}
	dto.Error = err.Error()
	writeJSON(w, statusFor(err), dto)
}

// Healthz reports liveness.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// PARAMETERS
// =============================================================================

func studentID(r *http.Request) (ledger.StudentID, error) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, &ledger.ValidationError{Field: "id", Message: "must be a positive integer, got " + strconv.Quote(raw)}
	}
	return ledger.StudentID(n), nil
}

func groupName(r *http.Request) (string, error) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		return "", &ledger.ValidationError{Field: "name", Message: err.Error()}
	}
	return name, nil
}

// monthParam reads year and month, each defaulting to the current clock.
func (h *Handler) monthParam(r *http.Request) (ledger.YearMonth, error) {
	current := ledger.YearMonthOf(h.now())
	q := r.URL.Query()

	year, err := intParam(q, "year", current.Year)
	if err != nil {
		return ledger.YearMonth{}, err
	}
	month, err := intParam(q, "month", int(current.Month))
	if err != nil {
		return ledger.YearMonth{}, err
	}
	ym := ledger.NewYearMonth(year, month)
	return ym, ym.Validate()
}

// startYearParam reads start_year or an academic_year label such as
// "2024-2025", defaulting to the current academic year.
func (h *Handler) startYearParam(r *http.Request) (int, error) {
	q := r.URL.Query()
	if label := q.Get("academic_year"); label != "" {
		return ledger.ParseAcademicLabel(label)
	}
	return intParam(q, "start_year", ledger.AcademicYearOf(h.now()))
}

func intParam(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &ledger.ValidationError{Field: name, Message: "must be an integer, got " + strconv.Quote(raw)}
	}
	return n, nil
}

// =============================================================================
// RESPONSES
// =============================================================================

// statusFor maps ledger errors to HTTP status codes.
func statusFor(err error) int {
	var (
		fields fieldErrors
		body   *bodyError
	)
	switch {
	case errors.As(err, &fields), errors.As(err, &body), errors.Is(err, ledger.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrConstraintViolation):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// fail writes the error response. Server errors are logged with the request
// id; client errors are the operator's to fix and are not.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(message,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID(r),
			"error", err,
		)
	}

	resp := ErrorResponse{Error: message, Details: err.Error()}
	var fields fieldErrors
	if errors.As(err, &fields) {
		resp.Fields = fields
	}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = map[string]string{verr.Field: verr.Message}
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func toSnapshotDTO(s ledger.Snapshot) SnapshotDTO {
	return SnapshotDTO{Student: toStudentDTO(s.Student), Payments: toPaymentDTOs(s.Payments)}
}
