package machine

import (
	"time"

	"github.com/google/uuid"
)

type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "info"
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Diagnostic is a structured report of something the device told us.
type Diagnostic struct {
	ID       string
	Time     time.Time
	Severity Severity
	Title    string
	Detail   string
	Message  string

	// Raw is the device line that triggered the diagnostic.
	Raw string
	// Line is the rendered instruction the error refers to, if known.
	Line string
	// Paused is set when the run was paused as a consequence.
	Paused bool
}

// NewDiagnostic stamps a diagnostic with a fresh id and the current time.
func NewDiagnostic(sev Severity, title, detail, message string) Diagnostic {
	return Diagnostic{
		ID:       uuid.New().String(),
		Time:     time.Now(),
		Severity: sev,
		Title:    title,
		Detail:   detail,
		Message:  message,
	}
}
