package counsel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
	block   chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.reply, f.err
}

func TestBuildPromptOrdersHistoryThenMessage(t *testing.T) {
	prompt, err := BuildPrompt(Request{
		Message: "tests tomorrow",
		History: []domain.Turn{
			{Role: domain.RoleStudent, Text: "I'm stressed"},
			{Role: domain.RoleAI, Text: "that sounds hard"},
		},
	})
	require.NoError(t, err)

	directive := strings.Index(prompt, englishDirective)
	first := strings.Index(prompt, "Student: I'm stressed")
	second := strings.Index(prompt, "Counselor: that sounds hard")
	latest := strings.Index(prompt, "Student: tests tomorrow")

	require.Equal(t, 0, directive, "directive must lead the prompt")
	require.Positive(t, first)
	assert.Less(t, first, second)
	assert.Less(t, second, latest)
	assert.True(t, strings.HasSuffix(prompt, "Counselor:"))
}

func TestBuildPromptKeepsFullHistory(t *testing.T) {
	var history []domain.Turn
	for i := 0; i < 500; i++ {
		history = append(history, domain.Turn{Role: domain.RoleStudent, Text: "line"})
	}
	prompt, err := BuildPrompt(Request{Message: "again", History: history})
	require.NoError(t, err)
	assert.Equal(t, 501, strings.Count(prompt, "Student: "))
}

func TestBuildPromptRequiresMessageUnlessInit(t *testing.T) {
	_, err := BuildPrompt(Request{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	prompt, err := BuildPrompt(Request{Init: true})
	require.NoError(t, err)
	assert.Contains(t, prompt, InitContext)
	assert.NotContains(t, prompt, "Student:")
}

func TestBuildPromptLanguage(t *testing.T) {
	zh, err := BuildPrompt(Request{Message: "hi", Language: "zh"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(zh, chineseDirective))

	en, err := BuildPrompt(Request{Message: "hi", Language: "fr"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(en, englishDirective))
}

func TestResolveLanguage(t *testing.T) {
	cases := map[string]string{
		"":      "en",
		"en":    "en",
		"zh":    "zh",
		"zh-CN": "zh",
		"de":    "en",
		"!!":    "en",
	}
	for in, want := range cases {
		got := ResolveLanguage(in)
		base, _ := got.Base()
		assert.Equal(t, want, base.String(), "selector %q", in)
	}
}

func TestReplyFallsBackOnError(t *testing.T) {
	f := &fakeCompleter{err: errors.New("upstream down")}
	c := NewCounselor(f, 2)

	reply := c.Reply(context.Background(), Request{Message: "help"})
	assert.Equal(t, FallbackReply, reply)
}

func TestReplyFallsBackOnEmptyCompletion(t *testing.T) {
	f := &fakeCompleter{reply: "   "}
	c := NewCounselor(f, 2)

	assert.Equal(t, FallbackReply, c.Reply(context.Background(), Request{Message: "help"}))
}

func TestCompleteTrimsReply(t *testing.T) {
	f := &fakeCompleter{reply: "  that sounds heavy. what's going on?\n"}
	c := NewCounselor(f, 2)

	reply, err := c.Complete(context.Background(), Request{Message: "help"})
	require.NoError(t, err)
	assert.Equal(t, "that sounds heavy. what's going on?", reply)
	require.Len(t, f.prompts, 1)
	assert.Contains(t, f.prompts[0], "Student: help")
}

func TestCompleteRejectsEmptyMessageWithoutCalling(t *testing.T) {
	f := &fakeCompleter{reply: "x"}
	c := NewCounselor(f, 2)

	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, f.prompts)
}

func TestCompleteBoundsConcurrency(t *testing.T) {
	f := &fakeCompleter{reply: "ok", block: make(chan struct{})}
	c := NewCounselor(f, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Complete(context.Background(), Request{Message: "hi"})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(f.block)
	wg.Wait()
	assert.LessOrEqual(t, f.peak.Load(), int32(2))
}

func TestTranscriptCodec(t *testing.T) {
	turns := []domain.Turn{
		{Role: domain.RoleAI, Text: "hey"},
		{Role: domain.RoleStudent, Text: "hi"},
	}
	data, err := EncodeTranscript(turns)
	require.NoError(t, err)

	got, err := DecodeTranscript(data)
	require.NoError(t, err)
	assert.Equal(t, turns, got)

	got, err = DecodeTranscript([]byte(`[{"role":"system","text":"x"},{"role":"ai","text":"y"}]`))
	require.NoError(t, err)
	assert.Equal(t, []domain.Turn{{Role: domain.RoleAI, Text: "y"}}, got)

	got, err = DecodeTranscript(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = DecodeTranscript([]byte(`{`))
	assert.Error(t, err)
}
