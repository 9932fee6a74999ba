/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for the local bridge. These types decouple the
  ledger model from the wire contract the desktop front-end consumes.

NAMING CONVENTION:
  - *DTO:      Response types returned to clients
  - *Request:  Request body types from clients

VALIDATION:
  Request types carry `validate` tags checked by validate.go before any
  ledger call. The ledger still validates everything itself; tags give the
  front-end field-level messages.

SEE ALSO:
  - handlers.go: Uses these types
  - validate.go: Tag checks and translations
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/elnajah/school-ledger/ledger"
)

// =============================================================================
// STUDENTS AND GROUPS
// =============================================================================

// StudentDTO represents a student in API responses.
type StudentDTO struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	JoinDate string   `json:"join_date"`
	Groups   []string `json:"groups"`
}

// CreateStudentRequest enrolls a student, optionally with a first payment.
type CreateStudentRequest struct {
	ID       int64           `json:"id" validate:"required,gt=0"`
	Name     string          `json:"name" validate:"required"`
	JoinDate string          `json:"join_date" validate:"omitempty,datetime=2006-01-02"`
	Groups   []string        `json:"groups" validate:"omitempty,dive,required"`
	Initial  *PaymentItemDTO `json:"initial_payment" validate:"omitempty"`
}

// UpdateStudentRequest renames a student and replaces its groups.
type UpdateStudentRequest struct {
	Name   string   `json:"name" validate:"required"`
	Groups []string `json:"groups" validate:"omitempty,dive,required"`
}

// SetGroupsRequest replaces a student's memberships.
type SetGroupsRequest struct {
	Groups []string `json:"groups" validate:"omitempty,dive,required"`
}

// BulkDeleteRequest deletes several students at once.
type BulkDeleteRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,dive,gt=0"`
}

// BulkDeleteDTO reports how many students were removed.
type BulkDeleteDTO struct {
	Deleted int `json:"deleted"`
}

// SnapshotDTO is the undo record returned by a delete.
type SnapshotDTO struct {
	Student  StudentDTO   `json:"student"`
	Payments []PaymentDTO `json:"payments"`
}

// GroupDTO represents a group in API responses.
type GroupDTO struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// CreateGroupRequest creates an empty group.
type CreateGroupRequest struct {
	Name string `json:"name" validate:"required"`
}

// GroupCountsDTO is the dashboard count per group.
type GroupCountsDTO struct {
	Groups []GroupDTO `json:"groups"`
	Total  int        `json:"total"`
}

// RemoveSoleDTO reports the effect of RemoveGroupIfSoleMembership.
type RemoveSoleDTO struct {
	Group   string `json:"group"`
	Removed int    `json:"removed"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentItemDTO is one month of a payment write. payment_date is only
// checked for paid items; unpaid items drop it (see validatePaymentItem).
type PaymentItemDTO struct {
	Year        int    `json:"year" validate:"required,min=1"`
	Month       int    `json:"month" validate:"required,min=1,max=12"`
	Status      string `json:"status" validate:"required,oneof=paid unpaid"`
	PaymentDate string `json:"payment_date"`
}

// BulkPaymentsRequest upserts several months for one student atomically.
type BulkPaymentsRequest struct {
	Items []PaymentItemDTO `json:"items" validate:"required,min=1,dive"`
}

// PaymentDTO represents a stored payment row.
type PaymentDTO struct {
	StudentID   int64  `json:"student_id"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	Period      string `json:"period"`
	Status      string `json:"status"`
	PaymentDate string `json:"payment_date,omitempty"`
}

// StatusDTO is the derived state of one student for one month.
type StatusDTO struct {
	StudentID int64  `json:"student_id"`
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	State     string `json:"state"`
}

// StudentStatusDTO is a report row.
type StudentStatusDTO struct {
	Student     StudentDTO `json:"student"`
	State       string     `json:"state"`
	PaymentDate string     `json:"payment_date,omitempty"`
}

// MonthSummaryDTO counts derived states for a month.
type MonthSummaryDTO struct {
	Period         string          `json:"period"`
	Label          string          `json:"label"`
	Paid           int             `json:"paid"`
	Unpaid         int             `json:"unpaid"`
	NoRecord       int             `json:"no_record"`
	CollectionRate decimal.Decimal `json:"collection_rate"`
}

// GridCellDTO is one month of the payment grid.
type GridCellDTO struct {
	Period      string `json:"period"`
	Label       string `json:"label"`
	State       string `json:"state"`
	PaymentDate string `json:"payment_date,omitempty"`
}

// YearGridDTO is the twelve-month payment grid of a student.
type YearGridDTO struct {
	Student      StudentDTO    `json:"student"`
	AcademicYear string        `json:"academic_year"`
	Cells        []GridCellDTO `json:"cells"`
}

// AcademicYearsDTO lists selectable academic years around the current one.
type AcademicYearsDTO struct {
	Current string   `json:"current"`
	Options []string `json:"options"`
}

// =============================================================================
// MERGE
// =============================================================================

// MergeClusterDTO is one group of same-named students.
type MergeClusterDTO struct {
	Key    string       `json:"key"`
	Master StudentDTO   `json:"master"`
	Donors []StudentDTO `json:"donors"`
}

// MergeRequest merges donors into master. With no donor_ids every other
// student sharing the master's name is merged.
type MergeRequest struct {
	MasterID int64   `json:"master_id" validate:"required,gt=0"`
	DonorIDs []int64 `json:"donor_ids" validate:"omitempty,dive,gt=0"`
}

// MergePairDTO is the outcome of one donor.
type MergePairDTO struct {
	MasterID         int64 `json:"master_id"`
	DonorID          int64 `json:"donor_id"`
	GroupsAdded      int   `json:"groups_added"`
	PaymentsCopied   int   `json:"payments_copied"`
	PaymentsUpgraded int   `json:"payments_upgraded"`
}

// MergeReportDTO is the result of a merge run. Error is set when the run
// stopped early; Pairs then lists the donors merged before the failure.
type MergeReportDTO struct {
	RunID string         `json:"run_id,omitempty"`
	Pairs []MergePairDTO `json:"pairs"`
	Error string         `json:"error,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStudentDTO(s ledger.Student) StudentDTO {
	groups := s.Groups
	if groups == nil {
		groups = []string{}
	}
	return StudentDTO{
		ID:       int64(s.ID),
		Name:     s.Name,
		JoinDate: s.JoinDate.Format(ledger.DateLayout),
		Groups:   groups,
	}
}

func toStudentDTOs(students []ledger.Student) []StudentDTO {
	out := make([]StudentDTO, len(students))
	for i, s := range students {
		out[i] = toStudentDTO(s)
	}
	return out
}

func toGroupDTOs(groups []ledger.Group) []GroupDTO {
	out := make([]GroupDTO, len(groups))
	for i, g := range groups {
		out[i] = GroupDTO{ID: int64(g.ID), Name: g.Name, Members: g.Members}
	}
	return out
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		StudentID:   int64(p.StudentID),
		Year:        p.Period.Year,
		Month:       int(p.Period.Month),
		Period:      p.Period.String(),
		Status:      string(p.Status),
		PaymentDate: p.PaymentDate,
	}
}

func toPaymentDTOs(payments []ledger.Payment) []PaymentDTO {
	out := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = toPaymentDTO(p)
	}
	return out
}

func toStatusDTOs(statuses []ledger.StudentStatus) []StudentStatusDTO {
	out := make([]StudentStatusDTO, len(statuses))
	for i, st := range statuses {
		out[i] = StudentStatusDTO{
			Student:     toStudentDTO(st.Student),
			State:       string(st.State),
			PaymentDate: st.PaymentDate,
		}
	}
	return out
}

func toMergeReportDTO(r ledger.MergeReport) MergeReportDTO {
	pairs := make([]MergePairDTO, len(r.Pairs))
	for i, p := range r.Pairs {
		pairs[i] = MergePairDTO{
			MasterID:         int64(p.MasterID),
			DonorID:          int64(p.DonorID),
			GroupsAdded:      p.GroupsAdded,
			PaymentsCopied:   p.PaymentsCopied,
			PaymentsUpgraded: p.PaymentsUpgraded,
		}
	}
	return MergeReportDTO{RunID: r.RunID, Pairs: pairs}
}

func (d PaymentItemDTO) item() ledger.PaymentItem {
	return ledger.PaymentItem{
		Period:      ledger.NewYearMonth(d.Year, d.Month),
		Status:      ledger.Status(d.Status),
		PaymentDate: d.PaymentDate,
	}
}
