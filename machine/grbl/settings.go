package grbl

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Setting is a typed controller setting such as "$110".
type Setting[T any] struct {
	ID       string
	Value    T
	ReadOnly bool
	Assigned bool

	parse  func(string) (T, error)
	format func(T) string
}

func (s *Setting[T]) Identifier() string { return s.ID }
func (s *Setting[T]) IsReadOnly() bool   { return s.ReadOnly }
func (s *Setting[T]) IsAssigned() bool   { return s.Assigned }

// Text returns the value as sent to the device.
func (s *Setting[T]) Text() string { return s.format(s.Value) }

// Set parses and assigns a value.
func (s *Setting[T]) Set(text string) error {
	v, err := s.parse(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("setting %s: %w", s.ID, err)
	}
	s.Value = v
	s.Assigned = true
	return nil
}

// Check reports whether text is a valid value without assigning it.
func (s *Setting[T]) Check(text string) error {
	_, err := s.parse(strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("setting %s: %w", s.ID, err)
	}
	return nil
}

func (s *Setting[T]) clone() Entry {
	c := *s
	return &c
}

// Entry is the type-independent view of a Setting.
type Entry interface {
	Identifier() string
	IsReadOnly() bool
	IsAssigned() bool
	Text() string
	Set(string) error
	Check(string) error
	clone() Entry
}

func boolSetting(id string) *Setting[bool] {
	return &Setting[bool]{
		ID: id,
		parse: func(s string) (bool, error) {
			switch s {
			case "0":
				return false, nil
			case "1":
				return true, nil
			}
			return false, fmt.Errorf("invalid boolean '%s'", s)
		},
		format: func(v bool) string {
			if v {
				return "1"
			}
			return "0"
		},
	}
}

func intSetting(id string) *Setting[int] {
	return &Setting[int]{
		ID:     id,
		parse:  strconv.Atoi,
		format: strconv.Itoa,
	}
}

func floatSetting(id string) *Setting[float64] {
	return &Setting[float64]{
		ID:     id,
		parse:  func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
		format: func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) },
	}
}

// Identifiers of the settings the controller consults itself.
const (
	SettingReportInches = "$13"
	SettingHomingEnable = "$22"
)

func catalog() []Entry {
	return []Entry{
		intSetting("$0"), intSetting("$1"), intSetting("$2"), intSetting("$3"),
		boolSetting("$4"), boolSetting("$5"), boolSetting("$6"),
		intSetting("$10"), floatSetting("$11"), floatSetting("$12"), boolSetting(SettingReportInches),
		boolSetting("$20"), boolSetting("$21"), boolSetting(SettingHomingEnable), intSetting("$23"),
		floatSetting("$24"), floatSetting("$25"), intSetting("$26"), floatSetting("$27"),
		intSetting("$30"), intSetting("$31"), boolSetting("$32"),
		floatSetting("$100"), floatSetting("$101"), floatSetting("$102"),
		floatSetting("$110"), floatSetting("$111"), floatSetting("$112"),
		floatSetting("$120"), floatSetting("$121"), floatSetting("$122"),
		floatSetting("$130"), floatSetting("$131"), floatSetting("$132"),
	}
}

// SettingChange is published when the device reports a setting value.
type SettingChange struct {
	ID    string
	Value string
}

// Settings is the local copy of the controller configuration.
type Settings struct {
	mx      sync.RWMutex
	order   []string
	entries map[string]Entry
}

// NewSettings creates the catalog with every setting unassigned.
func NewSettings() *Settings {
	s := &Settings{entries: make(map[string]Entry)}
	for _, e := range catalog() {
		s.order = append(s.order, e.Identifier())
		s.entries[e.Identifier()] = e
	}
	return s
}

// normalizeID accepts "110" as well as "$110".
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, "$") {
		id = "$" + id
	}
	return id
}

// Receive records a value read from the device. Identifiers missing from
// the catalog are kept as read-only text settings.
func (s *Settings) Receive(id, value string) error {
	id = normalizeID(id)
	s.mx.Lock()
	defer s.mx.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = textSetting(id)
		s.entries[id] = e
		s.order = append(s.order, id)
		sortIDs(s.order)
	}
	return e.Set(value)
}

func textSetting(id string) *Setting[string] {
	return &Setting[string]{
		ID:       id,
		ReadOnly: true,
		parse:    func(s string) (string, error) { return s, nil },
		format:   func(s string) string { return s },
	}
}

func sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(strings.TrimPrefix(ids[i], "$"))
		b, errB := strconv.Atoi(strings.TrimPrefix(ids[j], "$"))
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
}

// Get returns a copy of the named setting.
func (s *Settings) Get(id string) (Entry, bool) {
	s.mx.RLock()
	defer s.mx.RUnlock()
	e, ok := s.entries[normalizeID(id)]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// Bool returns the value of a boolean setting, false if unknown or unassigned.
func (s *Settings) Bool(id string) bool {
	e, ok := s.Get(id)
	if !ok || !e.IsAssigned() {
		return false
	}
	b, ok := e.(*Setting[bool])
	return ok && b.Value
}

// All returns copies of every setting in identifier order.
func (s *Settings) All() []Entry {
	s.mx.RLock()
	defer s.mx.RUnlock()
	res := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		res = append(res, s.entries[id].clone())
	}
	return res
}

// Export writes every assigned setting as "id=value" lines.
func (s *Settings) Export(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range s.All() {
		if !e.IsAssigned() || e.IsReadOnly() {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%s=%s\n", e.Identifier(), e.Text()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Assignment is a setting value to push to the device.
type Assignment struct {
	ID    string
	Value string
}

func (a Assignment) String() string { return a.ID + "=" + a.Value }

// ParseImport reads "id=value" lines. Blank lines are ignored; malformed
// lines, unknown identifiers and invalid values are logged and skipped.
func (s *Settings) ParseImport(r io.Reader, log *slog.Logger) ([]Assignment, error) {
	var res []Assignment
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		tokens := strings.Split(line, "=")
		if len(tokens) != 2 {
			log.Warn("skipping malformed configuration line", "line", lineNo, "text", line)
			continue
		}
		id := normalizeID(tokens[0])
		value, _, _ := strings.Cut(tokens[1], "(")
		value = strings.TrimSpace(value)

		e, ok := s.Get(id)
		switch {
		case !ok:
			log.Warn("skipping unknown setting", "line", lineNo, "id", id)
			continue
		case e.IsReadOnly():
			log.Warn("skipping read-only setting", "line", lineNo, "id", id)
			continue
		}
		if err := e.Check(value); err != nil {
			log.Warn("skipping invalid setting value", "line", lineNo, "id", id, "err", err)
			continue
		}
		res = append(res, Assignment{ID: id, Value: value})
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}
	return res, nil
}
