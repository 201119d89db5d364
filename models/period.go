package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/mmdatafocus/finreport_backend/utils"
)

var periodPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// Period is a reporting month, written YYYY-MM.
// The zero value is not a valid period; build one with ParsePeriod or NewPeriod.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod validates s as four digits, a dash, two digits, month 01-12.
func ParsePeriod(s string) (Period, error) {
	m := periodPattern.FindStringSubmatch(s)
	if m == nil {
		return Period{}, utils.NewValidationError("period", "%q is not a valid period, expected YYYY-MM", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return NewPeriod(year, time.Month(month))
}

func NewPeriod(year int, month time.Month) (Period, error) {
	if year < 1 || year > 9999 {
		return Period{}, utils.NewValidationError("period", "year %d out of range", year)
	}
	if month < time.January || month > time.December {
		return Period{}, utils.NewValidationError("period", "month %02d out of range", int(month))
	}
	return Period{Year: year, Month: month}, nil
}

// MustParsePeriod panics on a malformed period. Tests and constants only.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Previous steps back one month; January rolls back to the prior December.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// YearStart is January of the same year.
func (p Period) YearStart() Period {
	return Period{Year: p.Year, Month: time.January}
}

// MonthsFromYearStart lists Year-01 .. p inclusive, ascending.
func (p Period) MonthsFromYearStart() []Period {
	out := make([]Period, 0, int(p.Month))
	for m := time.January; m <= p.Month; m++ {
		out = append(out, Period{Year: p.Year, Month: m})
	}
	return out
}

// YearPeriods lists the twelve months of year.
func YearPeriods(year int) ([]Period, error) {
	dec, err := NewPeriod(year, time.December)
	if err != nil {
		return nil, err
	}
	return dec.MonthsFromYearStart(), nil
}

// Compare returns -1, 0 or +1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Year < o.Year:
		return -1
	case p.Year > o.Year:
		return 1
	case p.Month < o.Month:
		return -1
	case p.Month > o.Month:
		return 1
	}
	return 0
}

func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }

func (p Period) After(o Period) bool { return p.Compare(o) > 0 }

func (p Period) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Period) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return utils.NewValidationError("period", "must be a string")
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Value stores the period as CHAR(7).
func (p Period) Value() (driver.Value, error) {
	return p.String(), nil
}

func (p *Period) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into Period", value)
	}
	parsed, err := ParsePeriod(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// GormDataType pins the column type regardless of dialect.
func (Period) GormDataType() string {
	return "char(7)"
}
