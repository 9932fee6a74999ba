package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AcademicYearStartMonth is the first month of every academic year.
const AcademicYearStartMonth = time.August

// =============================================================================
// YEAR-MONTH - The key of every payment record
// =============================================================================

// YearMonth is a calendar month. Ordering is lexicographic on (Year, Month);
// the day of month never matters for tuition.
type YearMonth struct {
	Year  int
	Month time.Month
}

// NewYearMonth builds a YearMonth from plain integers.
func NewYearMonth(year, month int) YearMonth {
	return YearMonth{Year: year, Month: time.Month(month)}
}

// YearMonthOf returns the month containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Valid reports whether the month is 1-12 and the year positive.
func (ym YearMonth) Valid() bool {
	return ym.Year > 0 && ym.Month >= time.January && ym.Month <= time.December
}

// Validate returns a ValidationError for an unusable period.
func (ym YearMonth) Validate() error {
	if ym.Month < time.January || ym.Month > time.December {
		return invalid("month", "month must be between 1 and 12, got %d", int(ym.Month))
	}
	if ym.Year <= 0 {
		return invalid("year", "year must be positive, got %d", ym.Year)
	}
	return nil
}

// Compare returns -1, 0 or 1.
func (ym YearMonth) Compare(other YearMonth) int {
	switch {
	case ym.Year < other.Year:
		return -1
	case ym.Year > other.Year:
		return 1
	case ym.Month < other.Month:
		return -1
	case ym.Month > other.Month:
		return 1
	default:
		return 0
	}
}

func (ym YearMonth) Before(other YearMonth) bool { return ym.Compare(other) < 0 }
func (ym YearMonth) After(other YearMonth) bool  { return ym.Compare(other) > 0 }

// Next returns the following month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// Label is the short display form used by grids ("Aug 2024").
func (ym YearMonth) Label() string {
	return ym.Month.String()[:3] + " " + strconv.Itoa(ym.Year)
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// =============================================================================
// ACADEMIC YEAR - August of start year through July of the next
// =============================================================================

// AcademicYearOf returns the start year of the academic year containing t.
func AcademicYearOf(t time.Time) int {
	if t.Month() >= AcademicYearStartMonth {
		return t.Year()
	}
	return t.Year() - 1
}

// AcademicYearWindow returns the 12 months Aug startYear .. Jul startYear+1
// in chronological order.
func AcademicYearWindow(startYear int) []YearMonth {
	window := make([]YearMonth, 0, 12)
	ym := YearMonth{Year: startYear, Month: AcademicYearStartMonth}
	for i := 0; i < 12; i++ {
		window = append(window, ym)
		ym = ym.Next()
	}
	return window
}

// AcademicYearRange returns the first and last month of the academic year.
func AcademicYearRange(startYear int) (from, to YearMonth) {
	return YearMonth{Year: startYear, Month: AcademicYearStartMonth},
		YearMonth{Year: startYear + 1, Month: AcademicYearStartMonth - 1}
}

// ValidateStartYear rejects academic years that would start before year 1.
func ValidateStartYear(startYear int) error {
	if startYear <= 0 {
		return invalid("start_year", "start year must be positive, got %d", startYear)
	}
	return nil
}

// AcademicYearLabel formats a start year as "2024-2025".
func AcademicYearLabel(startYear int) string {
	return fmt.Sprintf("%d-%d", startYear, startYear+1)
}

// AcademicYearOptions lists the labels of the academic years within radius
// of center, oldest first. The year picker uses radius 2.
func AcademicYearOptions(center, radius int) []string {
	if radius < 0 {
		radius = 0
	}
	options := make([]string, 0, 2*radius+1)
	for delta := -radius; delta <= radius; delta++ {
		options = append(options, AcademicYearLabel(center+delta))
	}
	return options
}

// ParseAcademicLabel parses "2024-2025" (hyphen or en dash) into its start year.
func ParseAcademicLabel(label string) (int, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(label), "–", "-")
	parts := strings.Split(normalized, "-")
	if len(parts) != 2 {
		return 0, invalid("academic_year", "expected START-END, got %q", label)
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, invalid("academic_year", "bad start year in %q", label)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, invalid("academic_year", "bad end year in %q", label)
	}
	if end != start+1 {
		return 0, invalid("academic_year", "end year must follow start year in %q", label)
	}
	return start, nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, invalid(field, "expected YYYY-MM-DD, got %q", s)
	}
	return t, nil
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
