package reports

import (
	"github.com/lzyats/airship-go/pkg/airship"
)

// Precision is the bucket width of a per-push series.
type Precision string

const (
	Hourly  Precision = "HOURLY"
	Daily   Precision = "DAILY"
	Monthly Precision = "MONTHLY"
)

func (p Precision) String() string { return string(p) }

func (p Precision) Valid() bool {
	switch p {
	case Hourly, Daily, Monthly:
		return true
	}
	return false
}

// ParsePrecision accepts only the exact wire literals.
func ParsePrecision(s string) (Precision, error) {
	p := Precision(s)
	if !p.Valid() {
		return "", airship.ValidationError("parse_precision", "precision must be HOURLY, DAILY or MONTHLY, got %q", s)
	}
	return p, nil
}
