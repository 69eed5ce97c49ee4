// Package telephony is the adapter for the call-automation platform.
//
// It issues outbound directives (answer, play, listen, hang up) over the
// platform's REST API and decodes the webhook events the platform posts
// back. Directives are fire-and-forget from the orchestrator's perspective:
// their results arrive later as webhook events, not return values.
package telephony

import (
	"context"
	"time"
)

// EndSilenceTimeout is how long the platform waits after the caller stops
// speaking before finalizing a recognition.
const EndSilenceTimeout = 2 * time.Second

// Provider is the directive interface the orchestrator drives.
type Provider interface {
	// AnswerCall answers an incoming call, directing mid-call events to
	// callbackURI.
	AnswerCall(ctx context.Context, incomingCallContext, callbackURI string) error

	// Play speaks SSML to everyone on the call.
	Play(ctx context.Context, connectionID, ssml string) error

	// StartRecognizing begins speech capture scoped to the given remote
	// participant, never broadcast, so the system's own voice is not
	// captured. Recognition ends after EndSilenceTimeout of silence.
	StartRecognizing(ctx context.Context, connectionID, targetParticipant string) error

	// HangUp terminates the call for everyone.
	HangUp(ctx context.Context, connectionID string) error

	// CallProperties fetches the live properties of a connection, used
	// once at connect time to capture the remote participant.
	CallProperties(ctx context.Context, connectionID string) (*CallProperties, error)

	// Configured reports whether platform credentials are present, for
	// the health surface.
	Configured() bool
}

// CallProperties is the subset of connection properties the orchestrator
// needs.
type CallProperties struct {
	// ConnectionID of the call.
	ConnectionID string

	// RemoteParticipant is the caller's raw identifier.
	RemoteParticipant string
}
