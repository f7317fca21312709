// Package flow implements the per-connection student state machine: login,
// calibration, then either the boss-fight game or the disguised support channel.
package flow

import (
	"errors"
	"fmt"
)

// ErrTransitionNotAllowed is returned for any (state, event) pair the table does not model.
var ErrTransitionNotAllowed = errors.New("transition not allowed")

// State is a student screen state.
type State string

const (
	StateLogin       State = "login"
	StateCalibration State = "calibration"
	StateGame        State = "game"
	StateStealth     State = "stealth"
)

// Event is a student action.
type Event string

const (
	EventLogin       Event = "login"
	EventReady       Event = "ready"
	EventOkay        Event = "okay"
	EventOverwhelmed Event = "overwhelmed"
	EventSubmit      Event = "submit"
)

// Effect is the side effect a transition performs.
type Effect string

const (
	EffectNone             Effect = ""
	EffectRaiseOverwhelmed Effect = "raise_overwhelmed_alert"
	EffectJudgeAnswer      Effect = "judge_answer"
	EffectRaiseChat        Effect = "raise_chat_alert"
)

// Policy decides what happens to the transition when its effect fails.
type Policy int

const (
	// FailOpen logs the failure and completes the transition.
	FailOpen Policy = iota
	// FailClosed aborts the transition and returns the failure.
	FailClosed
)

func (p Policy) String() string {
	if p == FailClosed {
		return "fail_closed"
	}
	return "fail_open"
}

// Transition is one row of the table.
type Transition struct {
	Next   State
	Effect Effect
	Policy Policy
}

type key struct {
	state State
	event Event
}

// table is the complete set of modeled transitions.
var table = map[key]Transition{
	{StateLogin, EventLogin}: {Next: StateCalibration},

	{StateCalibration, EventReady}: {Next: StateGame},
	{StateCalibration, EventOkay}:  {Next: StateGame},
	// Known gap: stealth is entered even when the alert could not be written.
	{StateCalibration, EventOverwhelmed}: {Next: StateStealth, Effect: EffectRaiseOverwhelmed, Policy: FailOpen},

	{StateGame, EventSubmit}:    {Next: StateGame, Effect: EffectJudgeAnswer, Policy: FailOpen},
	{StateStealth, EventSubmit}: {Next: StateStealth, Effect: EffectRaiseChat, Policy: FailOpen},
}

func init() {
	if err := validateTable(table); err != nil {
		panic(err)
	}
}

// Lookup returns the transition for (state, event).
func Lookup(s State, e Event) (Transition, error) {
	tr, ok := table[key{s, e}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s on %s", ErrTransitionNotAllowed, e, s)
	}
	return tr, nil
}

func knownState(s State) bool {
	switch s {
	case StateLogin, StateCalibration, StateGame, StateStealth:
		return true
	}
	return false
}

func knownEvent(e Event) bool {
	switch e {
	case EventLogin, EventReady, EventOkay, EventOverwhelmed, EventSubmit:
		return true
	}
	return false
}

// validateTable checks the table is closed over known states and events and
// that game and stealth are terminal for their own screens.
func validateTable(t map[key]Transition) error {
	for k, tr := range t {
		if !knownState(k.state) || !knownState(tr.Next) {
			return fmt.Errorf("flow table: unknown state in %s --%s--> %s", k.state, k.event, tr.Next)
		}
		if !knownEvent(k.event) {
			return fmt.Errorf("flow table: unknown event %q", k.event)
		}
		if tr.Policy != FailOpen && tr.Policy != FailClosed {
			return fmt.Errorf("flow table: bad policy on %s --%s-->", k.state, k.event)
		}
		if (k.state == StateGame || k.state == StateStealth) && tr.Next != k.state {
			return fmt.Errorf("flow table: %s must not leave to %s", k.state, tr.Next)
		}
		if tr.Next == StateLogin {
			return fmt.Errorf("flow table: nothing transitions back to login")
		}
	}
	return nil
}
