// Package callstate tracks in-memory per-call conversation state.
//
// One CallState exists per active call, created when the call connects and
// destroyed when it disconnects. State lives only in process memory; there is
// no crash recovery of in-flight calls.
package callstate

import (
	"sync"
	"time"

	"github.com/wellnessclinic/go-receptionist/pkg/dialog"
)

// Stage identifies where a call is in the receptionist dialogue.
type Stage int

const (
	// StageConnecting is the initial stage, before any greeting is played.
	StageConnecting Stage = iota
	// StageGreeting means the greeting prompt is being played.
	StageGreeting
	// StageListening means speech recognition is capturing the caller.
	StageListening
	// StageProcessingQuery means the caller's utterance is being answered.
	StageProcessingQuery
	// StageResponding means the answer is being played back.
	StageResponding
	// StageEnding means a farewell is playing; the next play completion
	// hangs up the call.
	StageEnding
)

// String returns a human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageConnecting:
		return "connecting"
	case StageGreeting:
		return "greeting"
	case StageListening:
		return "listening"
	case StageProcessingQuery:
		return "processing_query"
	case StageResponding:
		return "responding"
	case StageEnding:
		return "ending"
	default:
		return "unknown"
	}
}

// DefaultMaxRetries is how many consecutive failed or empty recognition
// attempts are tolerated before the call is ended gracefully.
const DefaultMaxRetries = 3

// CallState is the conversation state for one active call.
//
// All orchestrator work for a call must run while holding the state's lock:
// events for the same call can race (a recognition completion against a
// disconnect) and stage/retry updates must not interleave. Events for
// different calls share nothing and proceed in parallel.
type CallState struct {
	mu sync.Mutex

	// ConnectionID is the opaque call identifier assigned by the
	// telephony platform. Primary key in the Store.
	ConnectionID string

	// CallerID is the remote participant's raw identifier, captured once
	// when the call connects. Recognition is always targeted at it.
	CallerID string

	// Stage of the dialogue state machine.
	Stage Stage

	// LastPrompt is the most recent text played to the caller.
	LastPrompt string

	// RetryCount counts consecutive failed or empty recognition attempts
	// since the last successful utterance.
	RetryCount int

	// MaxRetries is the termination threshold for RetryCount.
	MaxRetries int

	// StartTime is when the state was created, for diagnostics only.
	StartTime time.Time

	// Messages is the full conversation history. It grows unbounded for
	// the call's lifetime; the dialogue policy applies its own context
	// window when consulting it.
	Messages []dialog.Turn
}

// Lock serializes access to the state. Every event handler for a call must
// hold the lock for the duration of its work.
func (s *CallState) Lock() { s.mu.Lock() }

// Unlock releases the state lock.
func (s *CallState) Unlock() { s.mu.Unlock() }

// AppendExchange records a caller utterance and the receptionist's answer.
// Callers must hold the state lock.
func (s *CallState) AppendExchange(utterance, answer string) {
	s.Messages = append(s.Messages,
		dialog.NewUserTurn(utterance),
		dialog.NewAssistantTurn(answer),
	)
}
