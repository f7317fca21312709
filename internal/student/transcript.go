package student

import (
	"context"
	"sync"

	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/domain"
)

// clientTranscript keeps the conversation in the browser: it is loaded from
// the hello message and every save is pushed back as a persist message.
type clientTranscript struct {
	mu    sync.Mutex
	turns []domain.Turn
	send  func(ctx context.Context, msg serverMessage) error
}

func (c *clientTranscript) Load(context.Context) ([]domain.Turn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Turn(nil), c.turns...), nil
}

func (c *clientTranscript) Save(ctx context.Context, turns []domain.Turn) error {
	data, err := counsel.EncodeTranscript(turns)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.turns = append([]domain.Turn(nil), turns...)
	c.mu.Unlock()
	return c.send(ctx, serverMessage{Type: msgPersist, Transcript: data})
}
