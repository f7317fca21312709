package domain

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleStudent Role = "student"
	RoleAI      Role = "ai"
)

// Turn is one entry in a student's private conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}
