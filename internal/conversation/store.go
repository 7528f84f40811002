// Package conversation owns the ordered message log and the reconciliation
// engine. A submitted prompt is appended optimistically, dispatched to the
// relay, and the confirmed exchange is reconciled back into the log,
// retrofitting the user's turn with its anonymized form once known.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"privateprompt/internal/logger"
	"privateprompt/internal/relay"
	"privateprompt/pkg/types"
)

// ErrEmptyPrompt is returned by Submit for blank input.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ErrSubmitInFlight is returned by Submit while a previous submission has
// not yet resolved. Submissions are serialized: at most one optimistic user
// message awaits reconciliation at any time, which makes response
// correlation unambiguous.
var ErrSubmitInFlight = errors.New("a submission is already in flight")

// API is the remote relay collaborator, implemented by the relay client.
type API interface {
	Send(ctx context.Context, prompt string, history []relay.Turn) (*relay.ExchangeResult, error)
	FetchHistory(ctx context.Context) ([]relay.HistoryTurn, error)
}

// SessionState exposes the authenticated flag of the session layer. A
// late-arriving relay response is dropped when the session is gone.
type SessionState interface {
	Authenticated() bool
}

// Store owns the conversation state. The log is append-only and reflects
// causal send order: a user turn always immediately precedes the assistant
// turn it produced. The lock is never held across a network call, so the
// optimistic user message is observable while the request is in flight.
type Store struct {
	mu       sync.Mutex
	api      API
	session  SessionState
	messages []types.Message
	inFlight bool

	// epoch invalidates in-flight work: Reset bumps it, and any response
	// correlated with an older epoch is discarded without touching the log.
	epoch uint64

	// Injected for deterministic tests.
	now   func() time.Time
	newID func() string
}

// NewStore creates a conversation store backed by the given relay API and
// session state.
func NewStore(api API, session SessionState) *Store {
	return &Store{
		api:     api,
		session: session,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Messages returns a copy of the ordered message log. Callers read the
// projection; they never mutate store state.
func (s *Store) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]types.Message, len(s.messages))
	copy(copied, s.messages)
	return copied
}

// InFlight reports whether a submission is awaiting reconciliation.
func (s *Store) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// LoadHistory replaces the entire log with the turns stored by the relay.
// Provenance may be partial or absent for old turns; missing fields are
// tolerated. Only meaningful when authenticated.
func (s *Store) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	turns, err := s.api.FetchHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || !s.session.Authenticated() {
		logger.Debug("Dropping stale history response")
		return nil
	}

	s.messages = make([]types.Message, 0, len(turns))
	for _, turn := range turns {
		s.messages = append(s.messages, s.messageFromTurn(turn))
	}
	logger.Debug("History loaded", "turns", len(turns))
	return nil
}

// messageFromTurn reconstructs a log entry from a stored relay turn.
func (s *Store) messageFromTurn(turn relay.HistoryTurn) types.Message {
	message := types.Message{
		ID:          s.newID(),
		DisplayText: turn.Text,
		CreatedAt:   s.now(),
	}
	if turn.IsUser {
		message.Author = types.RoleUser
		if turn.AnonymizedPrompt != "" {
			message.Provenance = &types.Provenance{AnonymizedPrompt: turn.AnonymizedPrompt}
		}
	} else {
		message.Author = types.RoleAssistant
		if turn.AnonymizedPrompt != "" || turn.LLMRaw != "" {
			message.Provenance = &types.Provenance{
				AnonymizedPrompt: turn.AnonymizedPrompt,
				RawModelOutput:   turn.LLMRaw,
			}
		}
	}
	return message
}

// Submit appends the prompt optimistically, dispatches it to the relay, and
// reconciles the confirmed result into the log. On failure the user message
// stays in the log unprovenanced and the error is returned; nothing is
// silently dropped. Blank prompts and concurrent submissions are rejected
// before any state changes.
func (s *Store) Submit(ctx context.Context, promptText string) error {
	prompt := strings.TrimSpace(promptText)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrSubmitInFlight
	}
	s.inFlight = true
	epoch := s.epoch

	// Optimistic append: the user's turn is visible before the relay
	// confirms anything.
	userID := s.newID()
	s.messages = append(s.messages, types.Message{
		ID:          userID,
		Author:      types.RoleUser,
		DisplayText: prompt,
		CreatedAt:   s.now(),
	})
	history := s.historyPayloadLocked(userID)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	result, err := s.api.Send(ctx, prompt, history)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || !s.session.Authenticated() {
		// The session ended while the request was in flight. The log has
		// been reset; applying the response would corrupt it.
		logger.Debug("Dropping stale exchange result")
		return nil
	}

	if err != nil {
		logger.Debug("Submission failed", "error", err)
		return fmt.Errorf("submission failed: %w", err)
	}

	s.reconcileLocked(userID, result)
	return nil
}

// historyPayloadLocked builds the outgoing history from the reconciled log,
// excluding the just-appended pending message. A prior user turn is resent
// in its anonymized form when known, so personal data already scrubbed by
// the relay is never re-exposed; a prior assistant turn is resent as the raw
// model output when known. Display text is the fallback for unreconciled
// turns. Caller holds the lock.
func (s *Store) historyPayloadLocked(pendingID string) []relay.Turn {
	history := make([]relay.Turn, 0, len(s.messages))
	for _, message := range s.messages {
		if message.ID == pendingID {
			continue
		}
		turn := relay.Turn{
			IsUser: message.Author == types.RoleUser,
			Text:   message.DisplayText,
		}
		if message.Provenance != nil {
			if turn.IsUser && message.Provenance.AnonymizedPrompt != "" {
				turn.Text = message.Provenance.AnonymizedPrompt
			}
			if !turn.IsUser && message.Provenance.RawModelOutput != "" {
				turn.Text = message.Provenance.RawModelOutput
			}
		}
		history = append(history, turn)
	}
	return history
}

// reconcileLocked applies a confirmed exchange: the pending user message is
// retrofitted with its anonymized form and the assistant turn is appended
// directly after it. Caller holds the lock.
func (s *Store) reconcileLocked(userID string, result *relay.ExchangeResult) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == userID {
			s.messages[i].Provenance = &types.Provenance{
				AnonymizedPrompt: result.AnonymizedPrompt,
				Mapping:          result.Mapping,
			}
			break
		}
	}

	s.messages = append(s.messages, types.Message{
		ID:          s.newID(),
		Author:      types.RoleAssistant,
		DisplayText: result.DisplayText,
		CreatedAt:   s.now(),
		Provenance: &types.Provenance{
			AnonymizedPrompt:       result.AnonymizedPrompt,
			RawModelOutput:         result.RawModelOutput,
			RecontextualizedOutput: result.RecontextualizedOutput,
			Mapping:                result.Mapping,
		},
	})
	logger.Debug("Exchange reconciled", "messages", len(s.messages))
}

// Reset clears the log and invalidates any in-flight work. Called on logout
// so a late-arriving response cannot re-append messages.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.messages = nil
	logger.Debug("Conversation reset")
}
