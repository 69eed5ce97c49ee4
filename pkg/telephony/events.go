package telephony

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies a mid-call webhook event.
type EventKind string

const (
	// EventCallConnected fires once when the answered call is established.
	EventCallConnected EventKind = "CallConnected"

	// EventPlayCompleted fires when a playback finishes.
	EventPlayCompleted EventKind = "PlayCompleted"

	// EventPlayFailed fires when the platform could not play a prompt.
	EventPlayFailed EventKind = "PlayFailed"

	// EventRecognizeCompleted fires with the final transcript of a
	// caller turn.
	EventRecognizeCompleted EventKind = "RecognizeCompleted"

	// EventRecognizeFailed fires on recognition timeout or platform
	// failure.
	EventRecognizeFailed EventKind = "RecognizeFailed"

	// EventCallDisconnected fires when the call ends, for any reason.
	EventCallDisconnected EventKind = "CallDisconnected"
)

// Event is one mid-call lifecycle or recognition event, already reduced to
// the fields the orchestrator needs.
type Event struct {
	// Kind of event.
	Kind EventKind

	// ConnectionID identifies the call the event belongs to.
	ConnectionID string

	// Text is the recognized transcript. Set only for
	// EventRecognizeCompleted; may be empty when the caller said nothing
	// intelligible.
	Text string
}

// Platform event type strings, cloud-event "type" field.
const (
	typePrefix             = "Microsoft.Communication."
	typeCallConnected      = typePrefix + "CallConnected"
	typePlayCompleted      = typePrefix + "PlayCompleted"
	typePlayFailed         = typePrefix + "PlayFailed"
	typeRecognizeCompleted = typePrefix + "RecognizeCompleted"
	typeRecognizeFailed    = typePrefix + "RecognizeFailed"
	typeCallDisconnected   = typePrefix + "CallDisconnected"
)

var kindByType = map[string]EventKind{
	typeCallConnected:      EventCallConnected,
	typePlayCompleted:      EventPlayCompleted,
	typePlayFailed:         EventPlayFailed,
	typeRecognizeCompleted: EventRecognizeCompleted,
	typeRecognizeFailed:    EventRecognizeFailed,
	typeCallDisconnected:   EventCallDisconnected,
}

// cloudEvent is the platform's webhook envelope.
type cloudEvent struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data cloudEventData `json:"data"`
}

type cloudEventData struct {
	CallConnectionID string `json:"callConnectionId"`
	RecognizeResult  struct {
		SpeechResult struct {
			Speech string `json:"speech"`
		} `json:"speechResult"`
	} `json:"recognizeResult"`
}

// ParseEvents decodes a webhook body into events. The platform posts an
// array of cloud events; single-object bodies are tolerated. Events of
// unknown type are skipped: the webhook must stay available as the platform
// adds event types.
func ParseEvents(body []byte) ([]Event, error) {
	var envelopes []cloudEvent
	if err := json.Unmarshal(body, &envelopes); err != nil {
		var single cloudEvent
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("telephony: parse events: %w", err)
		}
		envelopes = []cloudEvent{single}
	}

	events := make([]Event, 0, len(envelopes))
	for _, env := range envelopes {
		kind, ok := kindByType[env.Type]
		if !ok {
			continue
		}
		events = append(events, Event{
			Kind:         kind,
			ConnectionID: env.Data.CallConnectionID,
			Text:         env.Data.RecognizeResult.SpeechResult.Speech,
		})
	}
	return events, nil
}

// IncomingCall is an incoming-call notification delivered through the event
// subscription, before any call connection exists.
type IncomingCall struct {
	// Context is the opaque answer token passed back to AnswerCall.
	Context string

	// CallerID is the calling party's raw identifier.
	CallerID string
}

// Event Grid event type strings.
const (
	typeSubscriptionValidation = "Microsoft.EventGrid.SubscriptionValidationEvent"
	typeIncomingCall           = typePrefix + "IncomingCall"
)

type gridEvent struct {
	EventType string `json:"eventType"`
	Data      struct {
		ValidationCode      string `json:"validationCode"`
		IncomingCallContext string `json:"incomingCallContext"`
		From                struct {
			RawID string `json:"rawId"`
		} `json:"from"`
	} `json:"data"`
}

// ParseIncoming decodes an incoming-call webhook body. When the payload is a
// subscription validation handshake, validationCode is non-empty and must be
// echoed back before any call processing happens.
func ParseIncoming(body []byte) (validationCode string, calls []IncomingCall, err error) {
	var envelopes []gridEvent
	if err := json.Unmarshal(body, &envelopes); err != nil {
		var single gridEvent
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return "", nil, fmt.Errorf("telephony: parse incoming: %w", err)
		}
		envelopes = []gridEvent{single}
	}

	for _, env := range envelopes {
		switch env.EventType {
		case typeSubscriptionValidation:
			return env.Data.ValidationCode, nil, nil
		case typeIncomingCall:
			calls = append(calls, IncomingCall{
				Context:  env.Data.IncomingCallContext,
				CallerID: env.Data.From.RawID,
			})
		}
	}
	return "", calls, nil
}
