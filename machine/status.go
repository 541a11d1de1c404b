package machine

import "github.com/mastercactapus/grblctl/coord"

// Status is a single parsed device status report.
//
// The Has* flags mark which optional fields the report carried.
type Status struct {
	State State
	Mode  string

	MPos, WPos, WCO          coord.Point
	HasMPos, HasWPos, HasWCO bool

	PlannerUsed int
	HasPlanner  bool

	RXUsed int
	HasRX  bool

	Feed    float64
	HasFeed bool
}

// Scale multiplies every position in the status by f.
func (s Status) Scale(f float64) Status {
	s.MPos = s.MPos.Mul(f)
	s.WPos = s.WPos.Mul(f)
	s.WCO = s.WCO.Mul(f)
	return s
}
