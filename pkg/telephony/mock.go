package telephony

import (
	"context"
	"sync"
	"time"
)

// DirectiveKind identifies an outbound directive recorded by the Mock.
type DirectiveKind string

const (
	DirectiveAnswer    DirectiveKind = "answer"
	DirectivePlay      DirectiveKind = "play"
	DirectiveRecognize DirectiveKind = "recognize"
	DirectiveHangUp    DirectiveKind = "hangup"
)

// Directive records one outbound call to the telephony platform.
type Directive struct {
	Kind         DirectiveKind
	ConnectionID string

	// Payload is the SSML for play directives and the callback URI for
	// answer directives.
	Payload string

	// Target is the participant a recognize directive is scoped to.
	Target string

	// SilenceTimeout for recognize directives.
	SilenceTimeout time.Duration

	Time time.Time
}

// Mock implements Provider for testing, recording every directive.
type Mock struct {
	// AnswerFunc, PlayFunc, RecognizeFunc, HangUpFunc and PropertiesFunc
	// override the default no-op behavior.
	AnswerFunc     func(ctx context.Context, incomingCallContext, callbackURI string) error
	PlayFunc       func(ctx context.Context, connectionID, ssml string) error
	RecognizeFunc  func(ctx context.Context, connectionID, targetParticipant string) error
	HangUpFunc     func(ctx context.Context, connectionID string) error
	PropertiesFunc func(ctx context.Context, connectionID string) (*CallProperties, error)

	// RemoteParticipant is returned by the default CallProperties.
	RemoteParticipant string

	mu         sync.Mutex
	directives []Directive
}

// NewMock creates a mock whose calls all succeed.
func NewMock() *Mock {
	return &Mock{RemoteParticipant: "4:+15550100"}
}

// AnswerCall records an answer directive.
func (m *Mock) AnswerCall(ctx context.Context, incomingCallContext, callbackURI string) error {
	m.record(Directive{Kind: DirectiveAnswer, ConnectionID: incomingCallContext, Payload: callbackURI})
	if m.AnswerFunc != nil {
		return m.AnswerFunc(ctx, incomingCallContext, callbackURI)
	}
	return nil
}

// Play records a play directive.
func (m *Mock) Play(ctx context.Context, connectionID, ssml string) error {
	m.record(Directive{Kind: DirectivePlay, ConnectionID: connectionID, Payload: ssml})
	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, connectionID, ssml)
	}
	return nil
}

// StartRecognizing records a recognize directive.
func (m *Mock) StartRecognizing(ctx context.Context, connectionID, targetParticipant string) error {
	m.record(Directive{
		Kind:           DirectiveRecognize,
		ConnectionID:   connectionID,
		Target:         targetParticipant,
		SilenceTimeout: EndSilenceTimeout,
	})
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(ctx, connectionID, targetParticipant)
	}
	return nil
}

// HangUp records a hang-up directive.
func (m *Mock) HangUp(ctx context.Context, connectionID string) error {
	m.record(Directive{Kind: DirectiveHangUp, ConnectionID: connectionID})
	if m.HangUpFunc != nil {
		return m.HangUpFunc(ctx, connectionID)
	}
	return nil
}

// CallProperties returns the configured remote participant.
func (m *Mock) CallProperties(ctx context.Context, connectionID string) (*CallProperties, error) {
	if m.PropertiesFunc != nil {
		return m.PropertiesFunc(ctx, connectionID)
	}
	return &CallProperties{
		ConnectionID:      connectionID,
		RemoteParticipant: m.RemoteParticipant,
	}, nil
}

// Configured always reports true for the mock.
func (m *Mock) Configured() bool { return true }

func (m *Mock) record(d Directive) {
	d.Time = time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives = append(m.directives, d)
}

// Directives returns all recorded directives.
func (m *Mock) Directives() []Directive {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Directive, len(m.directives))
	copy(result, m.directives)
	return result
}

// OfKind returns recorded directives of one kind.
func (m *Mock) OfKind(kind DirectiveKind) []Directive {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []Directive
	for _, d := range m.directives {
		if d.Kind == kind {
			result = append(result, d)
		}
	}
	return result
}

// Last returns the most recent directive, or nil if none.
func (m *Mock) Last() *Directive {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.directives) == 0 {
		return nil
	}
	d := m.directives[len(m.directives)-1]
	return &d
}

// Reset clears recorded directives.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.directives = nil
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
