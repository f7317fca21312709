package counsel

import (
	"errors"
	"strings"

	"github.com/edvengers/zera-pilot/internal/domain"
)

// ErrEmptyMessage is returned when a non-init request carries no message.
var ErrEmptyMessage = errors.New("message is required")

// InitContext is the context given to the model when opening a conversation.
const InitContext = "student signaled overwhelmed."

// Request is one counseling turn.
type Request struct {
	Message  string        `json:"message"`
	History  []domain.Turn `json:"history"`
	Init     bool          `json:"init"`
	Language string        `json:"language"`
}

// RoleLabel returns the prompt label for a conversation role.
func RoleLabel(r domain.Role) string {
	if r == domain.RoleAI {
		return "Counselor"
	}
	return "Student"
}

// BuildPrompt renders the persona directive, the full history in order, and the
// new student message into a single prompt. History is never truncated.
func BuildPrompt(req Request) (string, error) {
	message := strings.TrimSpace(req.Message)
	if !req.Init && message == "" {
		return "", ErrEmptyMessage
	}

	var b strings.Builder
	b.WriteString(Directive(ResolveLanguage(req.Language)))
	b.WriteString("\n\n")

	if req.Init {
		b.WriteString("Context: ")
		b.WriteString(InitContext)
		b.WriteString("\nWrite a short, supportive opening line to start the conversation.\n\n")
		b.WriteString("Counselor:")
		return b.String(), nil
	}

	if len(req.History) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range req.History {
			b.WriteString(RoleLabel(turn.Role))
			b.WriteString(": ")
			b.WriteString(turn.Text)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Student: ")
	b.WriteString(message)
	b.WriteString("\nCounselor:")
	return b.String(), nil
}
