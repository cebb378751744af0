package model

import "time"

// Status is the single mutable control-plane document of a run (status.json)
type Status struct {
	RunID   string         `json:"runId"`
	State   Stage          `json:"state"`
	Markers map[string]any `json:"markers"`
	History []HistoryEntry `json:"history"`
	Input   map[string]any `json:"input"`
	Error   *RunError      `json:"error,omitempty"`
	Updated *time.Time     `json:"updatedAt,omitempty"`
}

// HistoryEntry is one append-only record of the run's progress
type HistoryEntry struct {
	At    time.Time `json:"at"`
	Phase string    `json:"phase"`
	Note  string    `json:"note,omitempty"`
}

// RunError is the structured reason a run stopped
type RunError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Stage   Stage     `json:"stage,omitempty"`
	IDs     []string  `json:"ids,omitempty"`
	Details []string  `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// Flag returns the boolean value of a marker. Missing or non-boolean markers are false.
func (s *Status) Flag(name string) bool {
	if s == nil || s.Markers == nil {
		return false
	}
	v, ok := s.Markers[name].(bool)
	return ok && v
}

// Text returns the string value of a marker, or "" when absent
func (s *Status) Text(name string) string {
	if s == nil || s.Markers == nil {
		return ""
	}
	v, _ := s.Markers[name].(string)
	return v
}

// InputString returns a string field of the canonical submission input
func (s *Status) InputString(name string) string {
	if s == nil || s.Input == nil {
		return ""
	}
	v, _ := s.Input[name].(string)
	return v
}
