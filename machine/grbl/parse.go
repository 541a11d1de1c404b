package grbl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/grblctl/coord"
	"github.com/mastercactapus/grblctl/gcode"
	"github.com/mastercactapus/grblctl/machine"
)

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

func trimBrackets(data string) string {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	return strings.TrimSuffix(data, "]")
}

// parseProbe parses "[PRB:x,y,z:1]".
func parseProbe(data string) (machine.ProbeResult, error) {
	var res machine.ProbeResult
	parts := strings.Split(trimBrackets(data), ":")
	if len(parts) < 2 || parts[0] != "PRB" {
		return res, errors.New("not a probe report: " + data)
	}
	var err error
	res.Point, err = parseCoords(parts[1])
	if err != nil {
		return res, fmt.Errorf("probe report: %w", err)
	}
	res.Valid = len(parts) < 3 || parts[2] == "1"
	return res, nil
}

// parseParameter parses "[G54:x,y,z]" style parameter reports.
func parseParameter(data string) (Parameter, error) {
	name, value, ok := strings.Cut(trimBrackets(data), ":")
	if !ok {
		return Parameter{}, errors.New("invalid parameter report: " + data)
	}
	p := Parameter{Name: name}
	if name == "TLO" {
		z, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, fmt.Errorf("parameter %s: %w", name, err)
		}
		p.Point.Z = z
		return p, nil
	}
	var err error
	p.Point, err = parseCoords(value)
	if err != nil {
		return p, fmt.Errorf("parameter %s: %w", name, err)
	}
	return p, nil
}

// parseParserState parses "[G0 G54 G17 G21 G90 G94 M0 M5 M9 T0 F0. S0.]",
// optionally with the "GC:" prefix used by later firmware.
func parseParserState(data string) ([]gcode.Word, error) {
	data = strings.TrimPrefix(trimBrackets(data), "GC:")
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return nil, errors.New("empty parser state")
	}
	words := make([]gcode.Word, 0, len(fields))
	for _, f := range fields {
		w, err := gcode.ParseWord(f)
		if err != nil {
			return nil, fmt.Errorf("parser state: %w", err)
		}
		words = append(words, w)
	}
	return words, nil
}

// parseSetting parses "$100=250.000 (x, step/mm)". The value ends at the
// first "(".
func parseSetting(data string) (id, value string, err error) {
	id, rest, ok := strings.Cut(strings.TrimSpace(data), "=")
	if !ok || len(id) < 2 || id[0] != '$' {
		return "", "", errors.New("invalid setting line: " + data)
	}
	value, _, _ = strings.Cut(rest, "(")
	return id, strings.TrimSpace(value), nil
}

var stateByMode = map[string]machine.State{
	"Idle":  machine.StateReady,
	"Queue": machine.StateMotionHolding,
	"Run":   machine.StateMotionRunning,
	"Jog":   machine.StateMotionRunning,
	"Home":  machine.StateHoming,
	"Check": machine.StateCheck,
	"Hold":  machine.StateHold,
	"Alarm": machine.StateAlarm,
}

// parseMode maps the firmware mode name (e.g. "Hold:0") to a State.
func parseMode(mode string) machine.State {
	name, _, _ := strings.Cut(mode, ":")
	if s, ok := stateByMode[name]; ok {
		return s
	}
	return machine.StateUndefined
}

// parseStatus parses both report formats:
//
//	<Idle,MPos:0.000,0.000,0.000,WPos:0.000,0.000,0.000,Buf:0,RX:0>
//	<Idle|MPos:0.000,0.000,0.000|Bf:15,128|FS:0,0|WCO:0.000,0.000,0.000>
func parseStatus(data string, plannerSlots int) (machine.Status, error) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "<") || !strings.HasSuffix(data, ">") {
		return machine.Status{}, errors.New("invalid status report: " + data)
	}
	data = data[1 : len(data)-1]

	var fields []string
	if strings.Contains(data, "|") {
		fields = strings.Split(data, "|")
	} else {
		fields = splitLegacyStatus(data)
	}
	if len(fields) == 0 || fields[0] == "" {
		return machine.Status{}, errors.New("empty status report")
	}

	stat := machine.Status{Mode: fields[0], State: parseMode(fields[0])}
	for _, f := range fields[1:] {
		key, val, ok := strings.Cut(f, ":")
		if !ok {
			continue
		}
		var err error
		switch key {
		case "MPos":
			stat.MPos, err = parseCoords(val)
			stat.HasMPos = err == nil
		case "WPos":
			stat.WPos, err = parseCoords(val)
			stat.HasWPos = err == nil
		case "WCO":
			stat.WCO, err = parseCoords(val)
			stat.HasWCO = err == nil
		case "Buf":
			stat.PlannerUsed, err = strconv.Atoi(val)
			stat.HasPlanner = err == nil
		case "Bf":
			free, _, _ := strings.Cut(val, ",")
			var n int
			n, err = strconv.Atoi(free)
			if err == nil && plannerSlots > 0 {
				stat.PlannerUsed = max(plannerSlots-n, 0)
				stat.HasPlanner = true
			}
		case "RX":
			stat.RXUsed, err = strconv.Atoi(val)
			stat.HasRX = err == nil
		case "F", "FS":
			feed, _, _ := strings.Cut(val, ",")
			stat.Feed, err = strconv.ParseFloat(feed, 64)
			stat.HasFeed = err == nil
		}
		if err != nil {
			return machine.Status{}, fmt.Errorf("status field %s: %w", key, err)
		}
	}
	return stat, nil
}

// splitLegacyStatus regroups "Idle,MPos:1,2,3,Buf:0" into
// ["Idle", "MPos:1,2,3", "Buf:0"].
func splitLegacyStatus(data string) []string {
	var res []string
	for _, tok := range strings.Split(data, ",") {
		if len(res) == 0 || strings.Contains(tok, ":") {
			res = append(res, tok)
			continue
		}
		res[len(res)-1] += "," + tok
	}
	return res
}
