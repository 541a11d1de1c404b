package grbl

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

// Kind classifies a line received from the controller.
type Kind int

const (
	KindUnknown Kind = iota
	KindEmpty
	KindOK
	KindError
	KindStatus
	KindSetting
	KindProbe
	KindParserState
	KindParameter
	KindWelcome
	KindAlarm
	KindMessage
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	KindEmpty:       "empty",
	KindOK:          "ok",
	KindError:       "error",
	KindStatus:      "status",
	KindSetting:     "setting",
	KindProbe:       "probe",
	KindParserState: "parser-state",
	KindParameter:   "parameter",
	KindWelcome:     "welcome",
	KindAlarm:       "alarm",
	KindMessage:     "message",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Parameter is a stored offset or position reported by "$#".
type Parameter struct {
	Name  string
	Point coord.Point
}

// Response is a classified line. Only the fields matching Kind are set.
type Response struct {
	Kind Kind
	Raw  string

	Status      machine.Status
	Probe       machine.ProbeResult
	Parameter   Parameter
	ParserState []gcode.Word

	SettingID    string
	SettingValue string

	// ErrorCode is the numeric code of an error or alarm, zero if textual.
	ErrorCode int
	Message   string
}

var parameterNames = map[string]bool{
	"G54": true, "G55": true, "G56": true, "G57": true, "G58": true, "G59": true,
	"G28": true, "G30": true, "G92": true, "TLO": true,
}

var rxErrorCode = regexp.MustCompile(`^(?:Invalid gcode ID:)?\s*([0-9]+)$`)

// Classify parses one line received from the controller. Unparsable
// lines return an error together with a KindUnknown response.
func Classify(line string, plannerSlots int) (Response, error) {
	line = strings.TrimSpace(line)
	resp := Response{Raw: line}

	switch {
	case line == "":
		resp.Kind = KindEmpty
	case line == "ok":
		resp.Kind = KindOK
	case strings.HasPrefix(line, "error:"):
		resp.Kind = KindError
		resp.Message = strings.TrimSpace(strings.TrimPrefix(line, "error:"))
		if m := rxErrorCode.FindStringSubmatch(resp.Message); m != nil {
			resp.ErrorCode, _ = strconv.Atoi(m[1])
		}
	case strings.HasPrefix(line, "ALARM:"):
		resp.Kind = KindAlarm
		resp.Message = strings.TrimSpace(strings.TrimPrefix(line, "ALARM:"))
		resp.ErrorCode, _ = strconv.Atoi(resp.Message)
	case strings.HasPrefix(line, "Grbl "):
		resp.Kind = KindWelcome
		resp.Message = line
	case strings.HasPrefix(line, "<"):
		stat, err := parseStatus(line, plannerSlots)
		if err != nil {
			return Response{Raw: line}, err
		}
		resp.Kind = KindStatus
		resp.Status = stat
	case strings.HasPrefix(line, "$") && strings.Contains(line, "="):
		id, value, err := parseSetting(line)
		if err != nil {
			return Response{Raw: line}, err
		}
		resp.Kind = KindSetting
		resp.SettingID, resp.SettingValue = id, value
	case strings.HasPrefix(line, "["):
		return classifyBracket(resp)
	}

	return resp, nil
}

func classifyBracket(resp Response) (Response, error) {
	body := trimBrackets(resp.Raw)
	name, rest, hasColon := strings.Cut(body, ":")

	var err error
	switch {
	case name == "PRB":
		resp.Kind = KindProbe
		resp.Probe, err = parseProbe(resp.Raw)
	case parameterNames[name]:
		resp.Kind = KindParameter
		resp.Parameter, err = parseParameter(resp.Raw)
	case name == "GC" || (!hasColon && strings.HasPrefix(body, "G") && strings.Contains(body, " ")):
		resp.Kind = KindParserState
		resp.ParserState, err = parseParserState(resp.Raw)
	case hasColon:
		resp.Kind = KindMessage
		resp.Message = rest
	default:
		resp.Kind = KindMessage
		resp.Message = body
	}
	if err != nil {
		return Response{Raw: resp.Raw}, err
	}
	return resp, nil
}
