// Package domain contains core domain types for Zera Pilot.
package domain

import "strings"

// Session is the shared state of the live raid.
// CurrentHP is never clamped by storage and may go negative.
type Session struct {
	MaxHP     int    `json:"max_hp"`
	CurrentHP int    `json:"current_hp"`
	AnswerKey string `json:"answer_key"`
}

// Accepts reports whether a submission matches the answer key.
// Only surrounding whitespace of the submission is trimmed; the comparison is
// exact and case-sensitive.
func (s Session) Accepts(submission string) bool {
	return strings.TrimSpace(submission) == s.AnswerKey
}

// Percent returns remaining health as a percentage clamped to [0, 100].
func (s Session) Percent() float64 {
	if s.MaxHP <= 0 {
		return 100
	}
	p := float64(s.CurrentHP) / float64(s.MaxHP) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Defeated returns true once the boss has no health left.
func (s Session) Defeated() bool {
	return s.MaxHP > 0 && s.CurrentHP <= 0
}

// SessionSnapshot is one observation of the live session document.
type SessionSnapshot struct {
	Exists  bool     `json:"exists"`
	Session *Session `json:"session,omitempty"`
}
