package domain

import "time"

// AlertType categorizes student escalation events.
type AlertType string

const (
	// AlertOverwhelmed is raised once when a student picks "overwhelmed" during calibration.
	AlertOverwhelmed AlertType = "overwhelmed"
	// AlertChat is raised for every stealth-mode message.
	AlertChat AlertType = "chat"
)

// OverwhelmedMessage is the fixed message attached to overwhelmed alerts.
const OverwhelmedMessage = "Status: Overwhelmed"

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	return t == AlertOverwhelmed || t == AlertChat
}

// Alert is an immutable escalation record.
type Alert struct {
	ID          string    `json:"id"`
	StudentName string    `json:"student_name"`
	Type        AlertType `json:"type"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}
