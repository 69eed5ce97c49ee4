package callstate

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDuplicateState is returned when a state already exists for a
// connection id. Creation never overwrites in-flight conversation history.
var ErrDuplicateState = errors.New("callstate: state already exists for connection")

// AuditEntry is the privacy-safe record of a stage transition. It carries
// only the connection id, stage, and retry counter, never utterance content.
type AuditEntry struct {
	Time         time.Time `json:"time"`
	ConnectionID string    `json:"connection_id"`
	Stage        string    `json:"stage"`
	RetryCount   int       `json:"retry_count"`
}

// AuditFunc receives stage-transition audit entries, e.g. for a live
// operator feed.
type AuditFunc func(AuditEntry)

// Store is a process-wide, concurrency-safe mapping from connection id to
// CallState. The map lock is held only for lookups and insertions; per-call
// mutation is serialized by each CallState's own lock, so a slow generative
// call for one caller never blocks events for another.
type Store struct {
	mu    sync.RWMutex
	calls map[string]*CallState
	audit AuditFunc

	logger *slog.Logger
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		calls:  make(map[string]*CallState),
		logger: logger.With("component", "callstate.store"),
	}
}

// OnAudit sets the audit hook invoked on every stage transition.
// Call before the store is shared across goroutines.
func (st *Store) OnAudit(fn AuditFunc) {
	st.audit = fn
}

// Create makes a new CallState for a connection. It fails with
// ErrDuplicateState when one already exists: a duplicate connect event must
// not discard an in-flight conversation.
func (st *Store) Create(connectionID, callerID string) (*CallState, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.calls[connectionID]; ok {
		return nil, ErrDuplicateState
	}

	state := &CallState{
		ConnectionID: connectionID,
		CallerID:     callerID,
		Stage:        StageConnecting,
		MaxRetries:   DefaultMaxRetries,
		StartTime:    time.Now().UTC(),
	}
	st.calls[connectionID] = state

	st.logger.Info("call state created", "connection_id", connectionID)
	return state, nil
}

// Get returns the state for a connection. Absence is a normal outcome after
// disconnect or for unknown ids, never an error.
func (st *Store) Get(connectionID string) (*CallState, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	state, ok := st.calls[connectionID]
	return state, ok
}

// UpdateStage sets the stage for a connection and emits the audit record.
// It is a no-op when the state is absent. Callers already holding the state
// lock should set Stage directly and call Audit instead.
func (st *Store) UpdateStage(connectionID string, stage Stage) {
	state, ok := st.Get(connectionID)
	if !ok {
		return
	}

	state.Lock()
	state.Stage = stage
	retries := state.RetryCount
	state.Unlock()

	st.emitAudit(connectionID, stage, retries)
}

// Audit emits the stage-transition audit record for a state whose lock the
// caller already holds.
func (st *Store) Audit(state *CallState) {
	st.emitAudit(state.ConnectionID, state.Stage, state.RetryCount)
}

func (st *Store) emitAudit(connectionID string, stage Stage, retries int) {
	// Privacy constraint: id, stage and retry count only.
	st.logger.Info("call stage",
		"connection_id", connectionID,
		"stage", stage.String(),
		"retry_count", retries,
	)
	if st.audit != nil {
		st.audit(AuditEntry{
			Time:         time.Now().UTC(),
			ConnectionID: connectionID,
			Stage:        stage.String(),
			RetryCount:   retries,
		})
	}
}

// Remove deletes the state for a connection. Removing an absent id is not
// an error.
func (st *Store) Remove(connectionID string) {
	st.mu.Lock()
	_, existed := st.calls[connectionID]
	delete(st.calls, connectionID)
	st.mu.Unlock()

	if existed {
		st.logger.Info("call state cleared", "connection_id", connectionID)
	}
}

// Count returns the number of active calls.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.calls)
}
