package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/edvengers/zera-pilot/internal/counsel"
	"github.com/edvengers/zera-pilot/internal/domain"
	"github.com/edvengers/zera-pilot/internal/store"
)

// Feedback indicators shown on the HUD.
const (
	FeedbackHit  = "HIT!"
	FeedbackMiss = "MISS"
	FeedbackSent = "COMMAND SENT"
)

// Raid is the shared session the student fights.
type Raid interface {
	ApplyDamage(ctx context.Context, amount int) error
	Subscribe(ctx context.Context) (*store.Subscription[domain.SessionSnapshot], error)
}

// Alerts receives escalations.
type Alerts interface {
	Raise(ctx context.Context, studentName string, t domain.AlertType, message string) (string, error)
}

// Counselor produces replies for the support channel. Reply never fails.
type Counselor interface {
	Reply(ctx context.Context, req counsel.Request) string
}

// Transcripts persists the private conversation.
type Transcripts interface {
	Load(ctx context.Context) ([]domain.Turn, error)
	Save(ctx context.Context, turns []domain.Turn) error
}

// Config wires a Student.
type Config struct {
	Raid        Raid
	Alerts      Alerts
	Counselor   Counselor
	Transcripts Transcripts
	Logger      *slog.Logger

	DamagePerHit     int
	FeedbackDuration time.Duration
	AckDuration      time.Duration
	Language         string
}

// Student is one student's flow. It is safe for concurrent use.
type Student struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	name        string
	session     domain.SessionSnapshot
	feedback    string
	feedbackSeq uint64
	timer       *time.Timer
	transcript  []domain.Turn
	pending     int
	watching    bool

	changes chan struct{}
}

// New creates a student at the login screen. The transcript is loaded once.
func New(ctx context.Context, cfg Config) *Student {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DamagePerHit <= 0 {
		cfg.DamagePerHit = 10
	}
	if cfg.FeedbackDuration <= 0 {
		cfg.FeedbackDuration = 2 * time.Second
	}
	if cfg.AckDuration <= 0 {
		cfg.AckDuration = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Student{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		state:   StateLogin,
		changes: make(chan struct{}, 1),
	}

	if cfg.Transcripts != nil {
		turns, err := cfg.Transcripts.Load(ctx)
		if err != nil {
			logger.Warn("Failed to load transcript", "error", err)
		}
		s.transcript = turns
	}
	return s
}

// Changes signals whenever the view may have changed.
func (s *Student) Changes() <-chan struct{} {
	return s.changes
}

// State returns the current state.
func (s *Student) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Login records the trimmed name and moves to calibration. Blank names are ignored.
func (s *Student) Login(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tr, err := Lookup(s.state, EventLogin)
	if err != nil {
		return err
	}
	s.name = name
	s.state = tr.Next
	s.notify()
	s.logger.Info("Student logged in", "student_name", name)
	return nil
}

// Calibrate handles the status check. ready and okay enter the game;
// overwhelmed raises one alert and enters the support channel.
func (s *Student) Calibrate(ctx context.Context, ev Event) error {
	switch ev {
	case EventReady, EventOkay, EventOverwhelmed:
	default:
		return fmt.Errorf("%w: %q is not a calibration signal", ErrTransitionNotAllowed, ev)
	}

	s.mu.Lock()
	tr, err := Lookup(s.state, ev)
	name := s.name
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if err := s.runEffect(tr, func() error {
		if tr.Effect != EffectRaiseOverwhelmed {
			return nil
		}
		_, err := s.cfg.Alerts.Raise(ctx, name, domain.AlertOverwhelmed, domain.OverwhelmedMessage)
		return err
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = tr.Next
	s.notify()
	s.mu.Unlock()

	s.logger.Info("Student calibrated", "student_name", name, "signal", ev, "state", tr.Next)
	s.watchSession()

	if tr.Next == StateStealth {
		s.openChannel(ctx)
	}
	return nil
}

// Submit handles the HUD input: an answer in the game, a message in the
// support channel. Blank input is ignored.
func (s *Student) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	tr, err := Lookup(s.state, EventSubmit)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	switch tr.Effect {
	case EffectJudgeAnswer:
		return s.submitAnswer(ctx, tr, text)
	case EffectRaiseChat:
		return s.submitChat(ctx, tr, text)
	default:
		return fmt.Errorf("%w: no handler for %s", ErrTransitionNotAllowed, tr.Effect)
	}
}

func (s *Student) submitAnswer(ctx context.Context, tr Transition, answer string) error {
	s.mu.Lock()
	correct := s.session.Exists && s.session.Session.Accepts(answer)
	name := s.name
	s.mu.Unlock()

	if !correct {
		s.showFeedback(FeedbackMiss, s.cfg.FeedbackDuration)
		return nil
	}

	s.showFeedback(FeedbackHit, s.cfg.FeedbackDuration)
	return s.runEffect(tr, func() error {
		if err := s.cfg.Raid.ApplyDamage(ctx, s.cfg.DamagePerHit); err != nil {
			return err
		}
		s.logger.Info("Hit landed", "student_name", name, "damage", s.cfg.DamagePerHit)
		return nil
	})
}

func (s *Student) submitChat(ctx context.Context, tr Transition, message string) error {
	s.mu.Lock()
	name := s.name
	s.mu.Unlock()

	if err := s.runEffect(tr, func() error {
		_, err := s.cfg.Alerts.Raise(ctx, name, domain.AlertChat, message)
		return err
	}); err != nil {
		return err
	}
	s.showFeedback(FeedbackSent, s.cfg.AckDuration)

	s.mu.Lock()
	history := append([]domain.Turn(nil), s.transcript...)
	s.transcript = append(s.transcript, domain.Turn{Role: domain.RoleStudent, Text: message})
	s.pending++
	s.notify()
	s.mu.Unlock()
	s.saveTranscript(ctx)

	reply := s.cfg.Counselor.Reply(ctx, counsel.Request{
		Message:  message,
		History:  history,
		Language: s.cfg.Language,
	})
	s.appendReply(ctx, reply)
	return nil
}

// openChannel asks for an opening line when the conversation is empty.
func (s *Student) openChannel(ctx context.Context) {
	s.mu.Lock()
	if len(s.transcript) > 0 {
		s.mu.Unlock()
		return
	}
	s.pending++
	s.notify()
	s.mu.Unlock()

	reply := s.cfg.Counselor.Reply(ctx, counsel.Request{Init: true, Language: s.cfg.Language})
	s.appendReply(ctx, reply)
}

func (s *Student) appendReply(ctx context.Context, reply string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, domain.Turn{Role: domain.RoleAI, Text: reply})
	s.pending--
	s.notify()
	s.mu.Unlock()
	s.saveTranscript(ctx)
}

func (s *Student) saveTranscript(ctx context.Context) {
	if s.cfg.Transcripts == nil {
		return
	}
	s.mu.Lock()
	turns := append([]domain.Turn(nil), s.transcript...)
	s.mu.Unlock()
	if err := s.cfg.Transcripts.Save(ctx, turns); err != nil {
		s.logger.Warn("Failed to save transcript", "error", err)
	}
}

// runEffect applies the transition's failure policy to effect.
func (s *Student) runEffect(tr Transition, effect func() error) error {
	err := effect()
	if err == nil {
		return nil
	}
	if tr.Policy == FailClosed {
		return fmt.Errorf("%s: %w", tr.Effect, err)
	}
	s.logger.Error("Effect failed, continuing", "effect", tr.Effect, "policy", tr.Policy, "error", err)
	return nil
}

// watchSession starts following the live session once the HUD is shown.
func (s *Student) watchSession() {
	s.mu.Lock()
	if s.watching {
		s.mu.Unlock()
		return
	}
	s.watching = true
	s.mu.Unlock()

	sub, err := s.cfg.Raid.Subscribe(s.ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("Failed to subscribe to session", "error", err)
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer sub.Close()
		for {
			select {
			case <-s.ctx.Done():
				return
			case snap, ok := <-sub.Updates():
				if !ok {
					return
				}
				s.mu.Lock()
				s.session = snap
				s.notify()
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Student) showFeedback(text string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.feedbackSeq++
	seq := s.feedbackSeq
	s.feedback = text
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.feedbackSeq == seq {
			s.feedback = ""
			s.notify()
		}
	})
	s.notify()
}

// notify must be called with s.mu held.
func (s *Student) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// Close stops the session watch and pending timers.
func (s *Student) Close() {
	s.cancel()
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.wg.Wait()
}
