package callstate

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestCreateAndGet(t *testing.T) {
	store := NewStore(nil)

	state, err := store.Create("conn-1", "4:+15550100")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if state.Stage != StageConnecting {
		t.Errorf("expected connecting stage, got %s", state.Stage)
	}
	if state.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, state.MaxRetries)
	}
	if state.CallerID != "4:+15550100" {
		t.Errorf("unexpected caller id %q", state.CallerID)
	}

	got, ok := store.Get("conn-1")
	if !ok {
		t.Fatal("expected state present")
	}
	if got != state {
		t.Error("expected Get to return the same state")
	}
}

func TestCreateDuplicateFails(t *testing.T) {
	store := NewStore(nil)

	first, _ := store.Create("conn-1", "caller-a")
	first.Lock()
	first.RetryCount = 2
	first.Unlock()

	_, err := store.Create("conn-1", "caller-b")
	if !errors.Is(err, ErrDuplicateState) {
		t.Fatalf("expected ErrDuplicateState, got %v", err)
	}

	// The in-flight conversation survives the duplicate.
	got, _ := store.Get("conn-1")
	if got.CallerID != "caller-a" || got.RetryCount != 2 {
		t.Error("expected duplicate create to leave existing state untouched")
	}
}

func TestGetUnknown(t *testing.T) {
	store := NewStore(nil)
	if _, ok := store.Get("nope"); ok {
		t.Error("expected absent state for unknown id")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := NewStore(nil)
	store.Create("conn-1", "")

	store.Remove("conn-1")
	if _, ok := store.Get("conn-1"); ok {
		t.Fatal("expected state removed")
	}

	// Second removal and unknown removal are harmless.
	store.Remove("conn-1")
	store.Remove("never-existed")
}

func TestUpdateStageAbsentIsNoOp(t *testing.T) {
	store := NewStore(nil)
	store.UpdateStage("nope", StageListening)
}

func TestAuditHookReceivesTransitions(t *testing.T) {
	store := NewStore(nil)

	var entries []AuditEntry
	store.OnAudit(func(e AuditEntry) { entries = append(entries, e) })

	store.Create("conn-1", "4:+15550100")
	store.UpdateStage("conn-1", StageGreeting)
	store.UpdateStage("conn-1", StageListening)

	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Stage != "greeting" || entries[1].Stage != "listening" {
		t.Errorf("unexpected stages: %q, %q", entries[0].Stage, entries[1].Stage)
	}
	for _, e := range entries {
		if e.ConnectionID != "conn-1" {
			t.Errorf("unexpected connection id %q", e.ConnectionID)
		}
		if e.Time.IsZero() {
			t.Error("expected audit timestamp set")
		}
	}
}

func TestAuditCarriesRetryCount(t *testing.T) {
	store := NewStore(nil)

	var last AuditEntry
	store.OnAudit(func(e AuditEntry) { last = e })

	state, _ := store.Create("conn-1", "")
	state.Lock()
	state.RetryCount = 2
	state.Stage = StageListening
	store.Audit(state)
	state.Unlock()

	if last.RetryCount != 2 {
		t.Errorf("expected retry count 2 in audit entry, got %d", last.RetryCount)
	}
}

func TestAppendExchange(t *testing.T) {
	store := NewStore(nil)
	state, _ := store.Create("conn-1", "")

	state.Lock()
	state.AppendExchange("what are your hours", "We are open Monday to Friday from 9 AM to 5 PM.")
	state.Unlock()

	if len(state.Messages) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(state.Messages))
	}
	if state.Messages[0].Content != "what are your hours" {
		t.Errorf("unexpected user turn %q", state.Messages[0].Content)
	}
}

func TestConcurrentCreateRemove(t *testing.T) {
	store := NewStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", n)
			store.Create(id, "")
			store.UpdateStage(id, StageGreeting)
			if n%2 == 0 {
				store.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	if store.Count() != 25 {
		t.Errorf("expected 25 remaining calls, got %d", store.Count())
	}
}

func TestStageString(t *testing.T) {
	cases := map[Stage]string{
		StageConnecting:      "connecting",
		StageGreeting:        "greeting",
		StageListening:       "listening",
		StageProcessingQuery: "processing_query",
		StageResponding:      "responding",
		StageEnding:          "ending",
		Stage(99):            "unknown",
	}
	for stage, want := range cases {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}
