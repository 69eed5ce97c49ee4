// Package orchestrator drives the per-call receptionist dialogue.
//
// The orchestrator consumes telephony webhook events, walks each call
// through the greeting/listening/responding state machine, consults the
// dialogue policy for answers, and issues play, listen, and hang-up
// directives back to the platform. Events referencing unknown or already
// destroyed calls are harmless no-ops: webhook delivery is at-least-once and
// may race a disconnect.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/wellnessclinic/go-receptionist/pkg/callstate"
	"github.com/wellnessclinic/go-receptionist/pkg/dialog"
	"github.com/wellnessclinic/go-receptionist/pkg/speech"
	"github.com/wellnessclinic/go-receptionist/pkg/telephony"
)

// Caller-facing phrases. These are the only things a caller ever hears
// besides policy answers; internal errors are never spoken.
const (
	GreetingText    = "Hello, thanks for calling Wellness Clinic. How can I help you today?"
	FarewellText    = "Goodbye! Have a great day."
	RepromptText    = "I didn't catch that. Could you please repeat?"
	TerminationText = "I am having trouble hearing you. Please call back later. Goodbye."
)

// exitPhrases end the call when heard anywhere in an utterance.
var exitPhrases = []string{"goodbye", "bye", "hang up"}

// Orchestrator applies the call state machine to inbound events.
type Orchestrator struct {
	store  *callstate.Store
	policy *dialog.Policy
	phone  telephony.Provider
	synth  *speech.Synthesizer

	// callbackURI is where the platform posts mid-call events for calls
	// we answer.
	callbackURI string

	logger *slog.Logger
}

// New creates an orchestrator.
func New(store *callstate.Store, policy *dialog.Policy, phone telephony.Provider, synth *speech.Synthesizer, callbackURI string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       store,
		policy:      policy,
		phone:       phone,
		synth:       synth,
		callbackURI: callbackURI,
		logger:      logger.With("component", "orchestrator"),
	}
}

// HandleIncomingCall answers an incoming call, directing its mid-call events
// to the configured callback URI. Call state is created later, on the
// connected event, once a connection id exists.
func (o *Orchestrator) HandleIncomingCall(ctx context.Context, call telephony.IncomingCall) {
	if err := o.phone.AnswerCall(ctx, call.Context, o.callbackURI); err != nil {
		o.logger.Error("answer call failed", "error", err)
		return
	}
	o.logger.Info("answered incoming call")
}

// HandleEvent dispatches one mid-call event. It never returns an error to
// the transport: every failure is either recovered locally or spoken to the
// caller as a natural-language apology.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev telephony.Event) {
	switch ev.Kind {
	case telephony.EventCallConnected:
		o.handleCallConnected(ctx, ev.ConnectionID)
	case telephony.EventPlayCompleted, telephony.EventPlayFailed:
		// A failed play is treated like a finished one so the call
		// advances instead of wedging in a stage nothing can leave.
		o.handlePlayCompleted(ctx, ev.ConnectionID)
	case telephony.EventRecognizeCompleted:
		o.handleRecognizeCompleted(ctx, ev.ConnectionID, ev.Text)
	case telephony.EventRecognizeFailed:
		o.handleRecognizeFailed(ctx, ev.ConnectionID)
	case telephony.EventCallDisconnected:
		o.store.Remove(ev.ConnectionID)
	default:
		o.logger.Debug("ignoring event", "kind", string(ev.Kind))
	}
}

// handleCallConnected creates the call state, captures the remote
// participant, and plays the greeting.
func (o *Orchestrator) handleCallConnected(ctx context.Context, connectionID string) {
	// Capture the caller's identity once, here. Recognition is always
	// targeted at this participant; it is never re-derived later.
	var callerID string
	if props, err := o.phone.CallProperties(ctx, connectionID); err != nil {
		o.logger.Error("fetch call properties failed", "connection_id", connectionID, "error", err)
	} else {
		callerID = props.RemoteParticipant
	}

	state, err := o.store.Create(connectionID, callerID)
	if errors.Is(err, callstate.ErrDuplicateState) {
		// Duplicate connect events arrive on redelivery. The existing
		// conversation (history, retries) is preserved; the event is
		// dropped.
		o.logger.Warn("duplicate call connected, keeping existing state",
			"connection_id", connectionID)
		return
	}
	if err != nil {
		o.logger.Error("create call state failed", "connection_id", connectionID, "error", err)
		return
	}

	state.Lock()
	defer state.Unlock()

	if callerID == "" {
		// Without a recognition target the dialogue cannot proceed;
		// end gracefully after the apology plays.
		state.Stage = callstate.StageEnding
		o.store.Audit(state)
		o.play(ctx, state, TerminationText)
		return
	}

	state.Stage = callstate.StageGreeting
	o.store.Audit(state)
	o.play(ctx, state, GreetingText)
}

// handlePlayCompleted either hangs up (after a farewell) or starts
// listening for the caller's next turn.
func (o *Orchestrator) handlePlayCompleted(ctx context.Context, connectionID string) {
	state, ok := o.store.Get(connectionID)
	if !ok {
		o.logger.Warn("state not found, ignoring play completion", "connection_id", connectionID)
		return
	}

	state.Lock()
	defer state.Unlock()

	if state.Stage == callstate.StageEnding {
		if err := o.phone.HangUp(ctx, connectionID); err != nil {
			o.logger.Error("hang up failed", "connection_id", connectionID, "error", err)
		}
		return
	}

	state.Stage = callstate.StageListening
	o.store.Audit(state)

	// Listening is scoped to the stored remote participant, never
	// broadcast, so the system's own playback is not captured.
	if err := o.phone.StartRecognizing(ctx, connectionID, state.CallerID); err != nil {
		o.logger.Error("start recognizing failed", "connection_id", connectionID, "error", err)
	}
}

// handleRecognizeCompleted answers the caller's utterance, or ends the call
// on an exit phrase. Empty transcripts follow the failure path.
func (o *Orchestrator) handleRecognizeCompleted(ctx context.Context, connectionID, text string) {
	state, ok := o.store.Get(connectionID)
	if !ok {
		return
	}

	state.Lock()
	defer state.Unlock()

	if text == "" {
		o.recognitionFailedLocked(ctx, state)
		return
	}

	if isExitPhrase(text) {
		state.Stage = callstate.StageEnding
		o.store.Audit(state)
		o.play(ctx, state, FarewellText)
		return
	}

	state.Stage = callstate.StageProcessingQuery
	o.store.Audit(state)

	// The policy call may take seconds; the state lock is per call, so
	// only further events for this same call wait on it.
	answer := o.policy.Respond(ctx, text, state.Messages)

	state.AppendExchange(text, answer)
	state.RetryCount = 0
	state.Stage = callstate.StageResponding
	o.store.Audit(state)
	o.play(ctx, state, answer)
}

// handleRecognizeFailed applies the retry policy for silence and platform
// recognition failures.
func (o *Orchestrator) handleRecognizeFailed(ctx context.Context, connectionID string) {
	state, ok := o.store.Get(connectionID)
	if !ok {
		return
	}

	state.Lock()
	defer state.Unlock()
	o.recognitionFailedLocked(ctx, state)
}

// recognitionFailedLocked increments the retry counter and either re-prompts
// or ends the call. Callers must hold the state lock.
func (o *Orchestrator) recognitionFailedLocked(ctx context.Context, state *callstate.CallState) {
	state.RetryCount++

	if state.RetryCount > state.MaxRetries {
		state.Stage = callstate.StageEnding
		o.store.Audit(state)
		o.play(ctx, state, TerminationText)
		return
	}

	o.store.Audit(state)
	o.play(ctx, state, RepromptText)
}

// play renders text to SSML and issues the play directive, recording the
// text as the call's last prompt. Directive failures are logged, never
// surfaced: the result that matters arrives later as a play event.
func (o *Orchestrator) play(ctx context.Context, state *callstate.CallState, text string) {
	state.LastPrompt = text
	if err := o.phone.Play(ctx, state.ConnectionID, o.synth.SSML(text)); err != nil {
		o.logger.Error("play failed", "connection_id", state.ConnectionID, "error", err)
	}
}

// isExitPhrase reports whether the utterance asks to end the call.
func isExitPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range exitPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
