package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/wellnessclinic/go-receptionist/pkg/callstate"
	"github.com/wellnessclinic/go-receptionist/pkg/dialog"
	"github.com/wellnessclinic/go-receptionist/pkg/inference"
	"github.com/wellnessclinic/go-receptionist/pkg/speech"
	"github.com/wellnessclinic/go-receptionist/pkg/telephony"
)

func newTestOrchestrator(llm inference.Provider) (*Orchestrator, *callstate.Store, *telephony.Mock) {
	store := callstate.NewStore(nil)
	phone := telephony.NewMock()
	policy := dialog.NewPolicy(llm, nil)
	synth := speech.NewSynthesizer()
	o := New(store, policy, phone, synth, "https://example.com/api/callbacks", nil)
	return o, store, phone
}

func connect(t *testing.T, o *Orchestrator, id string) {
	t.Helper()
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventCallConnected,
		ConnectionID: id,
	})
}

func playCompleted(o *Orchestrator, id string) {
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventPlayCompleted,
		ConnectionID: id,
	})
}

func recognized(o *Orchestrator, id, text string) {
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventRecognizeCompleted,
		ConnectionID: id,
		Text:         text,
	})
}

func recognizeFailed(o *Orchestrator, id string) {
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventRecognizeFailed,
		ConnectionID: id,
	})
}

func lastPlay(t *testing.T, phone *telephony.Mock) telephony.Directive {
	t.Helper()
	plays := phone.OfKind(telephony.DirectivePlay)
	if len(plays) == 0 {
		t.Fatal("expected at least one play directive")
	}
	return plays[len(plays)-1]
}

func TestUnknownConnectionIsNoOp(t *testing.T) {
	o, _, phone := newTestOrchestrator(inference.NewMock())

	playCompleted(o, "ghost")
	recognized(o, "ghost", "hello")
	recognizeFailed(o, "ghost")
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventCallDisconnected,
		ConnectionID: "ghost",
	})

	if n := len(phone.Directives()); n != 0 {
		t.Errorf("expected no directives for unknown connection, got %d", n)
	}
}

func TestConnectPlaysGreeting(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")

	state, ok := store.Get("id1")
	if !ok {
		t.Fatal("expected state for id1")
	}
	if state.Stage != callstate.StageGreeting {
		t.Errorf("expected greeting stage, got %s", state.Stage)
	}
	if state.CallerID == "" {
		t.Error("expected caller id captured at connect")
	}
	if state.LastPrompt != GreetingText {
		t.Errorf("expected greeting as last prompt, got %q", state.LastPrompt)
	}

	play := lastPlay(t, phone)
	if !strings.Contains(play.Payload, GreetingText) {
		t.Errorf("expected greeting in play payload, got %q", play.Payload)
	}
}

func TestPlayCompletedStartsListening(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")

	state, _ := store.Get("id1")
	if state.Stage != callstate.StageListening {
		t.Errorf("expected listening stage, got %s", state.Stage)
	}

	recs := phone.OfKind(telephony.DirectiveRecognize)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one recognize directive, got %d", len(recs))
	}
	if recs[0].Target != phone.RemoteParticipant {
		t.Errorf("expected recognize targeted at %q, got %q", phone.RemoteParticipant, recs[0].Target)
	}
	if recs[0].SilenceTimeout != telephony.EndSilenceTimeout {
		t.Errorf("expected %v silence timeout, got %v", telephony.EndSilenceTimeout, recs[0].SilenceTimeout)
	}
}

func TestEmptyTranscriptCountsAsFailure(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognized(o, "id1", "")

	state, _ := store.Get("id1")
	if state.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", state.RetryCount)
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, RepromptText) {
		t.Errorf("expected re-prompt, got %q", play.Payload)
	}
}

func TestRetriesExhaustedEndCall(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")

	for i := 0; i < 4; i++ {
		recognizeFailed(o, "id1")
	}

	state, _ := store.Get("id1")
	if state.Stage != callstate.StageEnding {
		t.Errorf("expected ending stage after fourth failure, got %s", state.Stage)
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, TerminationText) {
		t.Errorf("expected termination phrase, got %q", play.Payload)
	}

	// The termination phrase finishes playing: the call hangs up, it
	// never re-enters listening.
	before := len(phone.OfKind(telephony.DirectiveRecognize))
	playCompleted(o, "id1")
	if hangs := phone.OfKind(telephony.DirectiveHangUp); len(hangs) != 1 {
		t.Errorf("expected one hang-up directive, got %d", len(hangs))
	}
	if after := len(phone.OfKind(telephony.DirectiveRecognize)); after != before {
		t.Error("expected no new recognize directive after ending")
	}
}

func TestFAQShortCircuit(t *testing.T) {
	llm := inference.NewMock()
	o, store, phone := newTestOrchestrator(llm)

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognized(o, "id1", "What are your hours?")

	if llm.CallCount("Chat") != 0 {
		t.Errorf("expected no generative call for FAQ, got %d", llm.CallCount("Chat"))
	}

	answer, ok := dialog.LookupFAQ("hours")
	if !ok {
		t.Fatal("expected hours FAQ entry")
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, answer) {
		t.Errorf("expected FAQ answer, got %q", play.Payload)
	}

	state, _ := store.Get("id1")
	if len(state.Messages) != 2 {
		t.Fatalf("expected exactly one user and one assistant turn, got %d", len(state.Messages))
	}
	if state.Messages[0].Role != dialog.RoleUser || state.Messages[1].Role != dialog.RoleAssistant {
		t.Error("expected user turn then assistant turn")
	}
	if state.Stage != callstate.StageResponding {
		t.Errorf("expected responding stage, got %s", state.Stage)
	}
}

func TestEmergencyGuardrail(t *testing.T) {
	var captured *inference.ChatRequest
	llm := inference.NewMock()
	llm.ChatFunc = func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
		captured = req
		return &inference.ChatResponse{
			Message: inference.NewAssistantMessage(
				"Please hang up and call 911 immediately."),
			FinishReason: "stop",
		}, nil
	}
	o, _, phone := newTestOrchestrator(llm)

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognized(o, "id1", "I have chest pain")

	if captured == nil {
		t.Fatal("expected a generative call")
	}
	if captured.Messages[0].Role != inference.RoleSystem {
		t.Fatal("expected system instruction first")
	}
	if !strings.Contains(captured.Messages[0].Content, "911") {
		t.Error("expected emergency redirect in the guardrail instruction")
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, "911") {
		t.Errorf("expected emergency redirect in reply, got %q", play.Payload)
	}
}

func TestGoodbyeEndsCall(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognized(o, "id1", "Goodbye")

	state, _ := store.Get("id1")
	if state.Stage != callstate.StageEnding {
		t.Errorf("expected ending stage, got %s", state.Stage)
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, FarewellText) {
		t.Errorf("expected farewell, got %q", play.Payload)
	}

	before := len(phone.OfKind(telephony.DirectiveRecognize))
	playCompleted(o, "id1")
	if hangs := phone.OfKind(telephony.DirectiveHangUp); len(hangs) != 1 {
		t.Errorf("expected hang-up after farewell, got %d", len(hangs))
	}
	if after := len(phone.OfKind(telephony.DirectiveRecognize)); after != before {
		t.Error("expected never to re-enter listening after goodbye")
	}
}

func TestExitPhraseVariants(t *testing.T) {
	cases := []struct {
		text string
		exit bool
	}{
		{"Goodbye", true},
		{"bye now", true},
		{"please HANG UP", true},
		{"goodbye and thank you", true},
		{"what is the cost", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isExitPhrase(tc.text); got != tc.exit {
			t.Errorf("isExitPhrase(%q) = %v, want %v", tc.text, got, tc.exit)
		}
	}
}

func TestHistoryWindowBound(t *testing.T) {
	var captured *inference.ChatRequest
	llm := inference.NewMock()
	llm.ChatFunc = func(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
		captured = req
		return &inference.ChatResponse{
			Message:      inference.NewAssistantMessage("Certainly."),
			FinishReason: "stop",
		}, nil
	}
	o, store, _ := newTestOrchestrator(llm)

	connect(t, o, "id1")
	playCompleted(o, "id1")

	state, _ := store.Get("id1")
	state.Lock()
	for i := 0; i < 5; i++ {
		state.AppendExchange(
			fmt.Sprintf("question %d", i),
			fmt.Sprintf("answer %d", i),
		)
	}
	state.Unlock()

	recognized(o, "id1", "can I book an appointment")

	if captured == nil {
		t.Fatal("expected a generative call")
	}
	// system + at most 4 history turns + the new utterance
	if len(captured.Messages) != dialog.HistoryWindow+2 {
		t.Errorf("expected %d messages, got %d", dialog.HistoryWindow+2, len(captured.Messages))
	}
	// The window holds the most recent turns.
	if captured.Messages[1].Content != "question 3" {
		t.Errorf("expected window to start at the 4th-from-last turn, got %q", captured.Messages[1].Content)
	}

	// Full history is still kept on the state.
	state, _ = store.Get("id1")
	if len(state.Messages) != 12 {
		t.Errorf("expected full history retained, got %d turns", len(state.Messages))
	}
}

func TestGenerativeFailureFallsBack(t *testing.T) {
	llm := inference.WithError(errors.New("quota exceeded"))
	o, _, phone := newTestOrchestrator(llm)

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognized(o, "id1", "can I book an appointment")

	if play := lastPlay(t, phone); !strings.Contains(play.Payload, dialog.Fallback) {
		t.Errorf("expected fallback phrase, got %q", play.Payload)
	}
}

func TestSuccessfulUtteranceResetsRetries(t *testing.T) {
	o, store, _ := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")
	recognizeFailed(o, "id1")
	recognizeFailed(o, "id1")
	recognized(o, "id1", "What are your hours?")

	state, _ := store.Get("id1")
	if state.RetryCount != 0 {
		t.Errorf("expected retry count reset, got %d", state.RetryCount)
	}
}

func TestDisconnectRemovesState(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventCallDisconnected,
		ConnectionID: "id1",
	})

	if _, ok := store.Get("id1"); ok {
		t.Fatal("expected state removed on disconnect")
	}

	before := len(phone.Directives())
	recognizeFailed(o, "id1")
	playCompleted(o, "id1")
	if after := len(phone.Directives()); after != before {
		t.Error("expected events after disconnect to be no-ops")
	}
}

func TestDuplicateConnectKeepsState(t *testing.T) {
	o, store, _ := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	state, _ := store.Get("id1")
	state.Lock()
	state.RetryCount = 2
	state.AppendExchange("hello", "hi there")
	state.Unlock()

	connect(t, o, "id1")

	state, _ = store.Get("id1")
	if state.RetryCount != 2 {
		t.Errorf("expected duplicate connect to preserve retry count, got %d", state.RetryCount)
	}
	if len(state.Messages) != 2 {
		t.Errorf("expected duplicate connect to preserve history, got %d turns", len(state.Messages))
	}
}

func TestPlayFailedAdvancesLikeCompleted(t *testing.T) {
	o, store, _ := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	o.HandleEvent(context.Background(), telephony.Event{
		Kind:         telephony.EventPlayFailed,
		ConnectionID: "id1",
	})

	state, _ := store.Get("id1")
	if state.Stage != callstate.StageListening {
		t.Errorf("expected play failure to advance to listening, got %s", state.Stage)
	}
}

func TestPropertiesFailureEndsGracefully(t *testing.T) {
	o, store, phone := newTestOrchestrator(inference.NewMock())
	phone.PropertiesFunc = func(ctx context.Context, connectionID string) (*telephony.CallProperties, error) {
		return nil, errors.New("upstream timeout")
	}

	connect(t, o, "id1")

	state, ok := store.Get("id1")
	if !ok {
		t.Fatal("expected state created even without a participant")
	}
	if state.Stage != callstate.StageEnding {
		t.Errorf("expected ending stage without a recognition target, got %s", state.Stage)
	}
	if play := lastPlay(t, phone); !strings.Contains(play.Payload, TerminationText) {
		t.Errorf("expected graceful termination phrase, got %q", play.Payload)
	}
}

func TestIncomingCallAnswered(t *testing.T) {
	o, _, phone := newTestOrchestrator(inference.NewMock())

	o.HandleIncomingCall(context.Background(), telephony.IncomingCall{
		Context:  "ctx-token",
		CallerID: "4:+15550100",
	})

	answers := phone.OfKind(telephony.DirectiveAnswer)
	if len(answers) != 1 {
		t.Fatalf("expected one answer directive, got %d", len(answers))
	}
	if answers[0].Payload != "https://example.com/api/callbacks" {
		t.Errorf("expected callback URI in answer directive, got %q", answers[0].Payload)
	}
}

func TestConcurrentEventsForOneCall(t *testing.T) {
	o, store, _ := newTestOrchestrator(inference.NewMock())

	connect(t, o, "id1")
	playCompleted(o, "id1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recognizeFailed(o, "id1")
		}()
	}
	wg.Wait()

	// Eight serialized increments pass the threshold; the call must be
	// ending, and the counter must reflect every increment.
	state, _ := store.Get("id1")
	if state.RetryCount != 8 {
		t.Errorf("expected 8 serialized retry increments, got %d", state.RetryCount)
	}
	if state.Stage != callstate.StageEnding {
		t.Errorf("expected ending stage, got %s", state.Stage)
	}
}

func TestConcurrentCallsAreIndependent(t *testing.T) {
	o, store, _ := newTestOrchestrator(inference.NewMock())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("call-%d", n)
			connect(t, o, id)
			playCompleted(o, id)
			recognized(o, id, "What are your hours?")
		}(i)
	}
	wg.Wait()

	if store.Count() != 10 {
		t.Fatalf("expected 10 active calls, got %d", store.Count())
	}
	for i := 0; i < 10; i++ {
		state, ok := store.Get(fmt.Sprintf("call-%d", i))
		if !ok {
			t.Fatalf("missing state for call-%d", i)
		}
		if state.Stage != callstate.StageResponding {
			t.Errorf("call-%d: expected responding stage, got %s", i, state.Stage)
		}
	}
}
