package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"privateprompt/internal/relay"
	"privateprompt/pkg/types"
)

// fakeAPI scripts relay behavior and records every outgoing call.
type fakeAPI struct {
	mu       sync.Mutex
	sends    []sentCall
	sendFn   func(prompt string, history []relay.Turn) (*relay.ExchangeResult, error)
	history  []relay.HistoryTurn
	fetchErr error
}

type sentCall struct {
	prompt  string
	history []relay.Turn
}

func (f *fakeAPI) Send(_ context.Context, prompt string, history []relay.Turn) (*relay.ExchangeResult, error) {
	f.mu.Lock()
	f.sends = append(f.sends, sentCall{prompt: prompt, history: history})
	fn := f.sendFn
	f.mu.Unlock()
	return fn(prompt, history)
}

func (f *fakeAPI) FetchHistory(_ context.Context) ([]relay.HistoryTurn, error) {
	return f.history, f.fetchErr
}

func (f *fakeAPI) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

// fakeSession is a controllable authenticated flag.
type fakeSession struct {
	mu   sync.Mutex
	auth bool
}

func (f *fakeSession) Authenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth
}

func (f *fakeSession) set(auth bool) {
	f.mu.Lock()
	f.auth = auth
	f.mu.Unlock()
}

func okExchange(response, anonymized, raw string) func(string, []relay.Turn) (*relay.ExchangeResult, error) {
	return func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		return &relay.ExchangeResult{
			DisplayText:      response,
			AnonymizedPrompt: anonymized,
			RawModelOutput:   raw,
		}, nil
	}
}

func newTestStore(api *fakeAPI) (*Store, *fakeSession) {
	session := &fakeSession{auth: true}
	return NewStore(api, session), session
}

func TestStore_SubmitReconciles(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "<NAME> says hello", "hi <NAME>")}
	store, _ := newTestStore(api)

	err := store.Submit(context.Background(), "hello")
	require.NoError(t, err)

	messages := store.Messages()
	require.Len(t, messages, 2)

	user := messages[0]
	assert.Equal(t, types.RoleUser, user.Author)
	assert.Equal(t, "hello", user.DisplayText)
	require.NotNil(t, user.Provenance)
	assert.Equal(t, "<NAME> says hello", user.Provenance.AnonymizedPrompt)

	assistant := messages[1]
	assert.Equal(t, types.RoleAssistant, assistant.Author)
	assert.Equal(t, "hi", assistant.DisplayText)
	require.NotNil(t, assistant.Provenance)
	assert.Equal(t, "<NAME> says hello", assistant.Provenance.AnonymizedPrompt)
	assert.Equal(t, "hi <NAME>", assistant.Provenance.RawModelOutput)

	assert.NotEqual(t, user.ID, assistant.ID)
	assert.False(t, store.InFlight())
}

func TestStore_SubmitEmptyPromptIsRejected(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "", "")}
	store, _ := newTestStore(api)

	assert.ErrorIs(t, store.Submit(context.Background(), ""), ErrEmptyPrompt)
	assert.ErrorIs(t, store.Submit(context.Background(), "   \t"), ErrEmptyPrompt)
	assert.Empty(t, store.Messages())
	assert.Zero(t, api.sendCount())
}

func TestStore_SubmitSerialization(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	api := &fakeAPI{}
	api.sendFn = func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return &relay.ExchangeResult{DisplayText: "answer a", AnonymizedPrompt: "anon a", RawModelOutput: "raw a"}, nil
	}
	store, _ := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.Submit(context.Background(), "a") }()
	<-started

	// The optimistic user message is observable while the request is in
	// flight.
	assert.True(t, store.InFlight())
	pending := store.Messages()
	require.Len(t, pending, 1)
	assert.Equal(t, "a", pending[0].DisplayText)
	assert.Nil(t, pending[0].Provenance)

	// A second submission is rejected and makes no network call.
	err := store.Submit(context.Background(), "b")
	assert.ErrorIs(t, err, ErrSubmitInFlight)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, api.sendCount())
	messages := store.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "a", messages[0].DisplayText)
	assert.Equal(t, "answer a", messages[1].DisplayText)

	// "b" can be resubmitted once "a" resolved.
	require.NoError(t, store.Submit(context.Background(), "b"))
	assert.Equal(t, 2, api.sendCount())
	assert.Len(t, store.Messages(), 4)
}

func TestStore_SubmitFailureKeepsUserMessage(t *testing.T) {
	api := &fakeAPI{}
	api.sendFn = func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		return nil, &relay.ServerError{Code: 502, Message: "model backend down"}
	}
	store, _ := newTestStore(api)

	err := store.Submit(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorContains(t, err, "model backend down")

	// The attempt stays visible, unprovenanced; nothing is rolled back.
	messages := store.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, types.RoleUser, messages[0].Author)
	assert.Equal(t, "hello", messages[0].DisplayText)
	assert.Nil(t, messages[0].Provenance)
	assert.False(t, store.InFlight())

	// No automatic retry: the next attempt is an explicit resend.
	assert.Equal(t, 1, api.sendCount())
}

func TestStore_HistoryPayloadPrefersAnonymizedForms(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "<NAME> says hello", "hi <NAME>")}
	store, _ := newTestStore(api)

	require.NoError(t, store.Submit(context.Background(), "hello"))

	// Second exchange: the prior turns must be resent in their anonymized /
	// raw forms, never as de-anonymized display text.
	require.NoError(t, store.Submit(context.Background(), "how are you"))

	require.Equal(t, 2, api.sendCount())
	second := api.sends[1]
	assert.Equal(t, "how are you", second.prompt)
	require.Len(t, second.history, 2)
	assert.Equal(t, relay.Turn{IsUser: true, Text: "<NAME> says hello"}, second.history[0])
	assert.Equal(t, relay.Turn{IsUser: false, Text: "hi <NAME>"}, second.history[1])
}

func TestStore_HistoryPayloadFallsBackToDisplayText(t *testing.T) {
	api := &fakeAPI{}
	api.sendFn = func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		return nil, &relay.NetworkError{Err: context.DeadlineExceeded}
	}
	store, _ := newTestStore(api)

	// First submission fails: the user turn stays without provenance.
	require.Error(t, store.Submit(context.Background(), "hello"))

	api.sendFn = okExchange("hi", "anon", "raw")
	require.NoError(t, store.Submit(context.Background(), "again"))

	second := api.sends[1]
	require.Len(t, second.history, 1)
	assert.Equal(t, relay.Turn{IsUser: true, Text: "hello"}, second.history[0])
}

func TestStore_LogoutDuringSubmitDropsLateResponse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{}
	api.sendFn = func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		close(started)
		<-release
		return &relay.ExchangeResult{DisplayText: "too late"}, nil
	}
	store, session := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.Submit(context.Background(), "hello") }()
	<-started

	// Logout while the request is in flight.
	session.set(false)
	store.Reset()

	close(release)
	require.NoError(t, <-done)

	// The late response must not re-append messages.
	assert.Empty(t, store.Messages())
	assert.False(t, store.InFlight())
}

func TestStore_LogoutDuringSubmitDropsLateFailure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{}
	api.sendFn = func(string, []relay.Turn) (*relay.ExchangeResult, error) {
		close(started)
		<-release
		return nil, &relay.NetworkError{Err: context.DeadlineExceeded}
	}
	store, session := newTestStore(api)

	done := make(chan error, 1)
	go func() { done <- store.Submit(context.Background(), "hello") }()
	<-started

	session.set(false)
	store.Reset()
	close(release)

	// The stale failure is discarded silently.
	require.NoError(t, <-done)
	assert.Empty(t, store.Messages())
}

func TestStore_LoadHistoryReplacesLog(t *testing.T) {
	api := &fakeAPI{
		sendFn: okExchange("hi", "anon", "raw"),
		history: []relay.HistoryTurn{
			{IsUser: true, Text: "old prompt", AnonymizedPrompt: "<NAME> old prompt"},
			{IsUser: false, Text: "old answer", LLMRaw: "old answer <NAME>"},
			{IsUser: true, Text: "bare turn"},
		},
	}
	store, _ := newTestStore(api)

	// Seed the log, then load history over it.
	require.NoError(t, store.Submit(context.Background(), "seed"))
	require.NoError(t, store.LoadHistory(context.Background()))

	messages := store.Messages()
	require.Len(t, messages, 3)

	assert.Equal(t, types.RoleUser, messages[0].Author)
	assert.Equal(t, "old prompt", messages[0].DisplayText)
	require.NotNil(t, messages[0].Provenance)
	assert.Equal(t, "<NAME> old prompt", messages[0].Provenance.AnonymizedPrompt)

	assert.Equal(t, types.RoleAssistant, messages[1].Author)
	require.NotNil(t, messages[1].Provenance)
	assert.Equal(t, "old answer <NAME>", messages[1].Provenance.RawModelOutput)

	// Provenance may be absent for old turns; the store tolerates it.
	assert.Nil(t, messages[2].Provenance)
}

func TestStore_LoadHistoryErrorLeavesLog(t *testing.T) {
	api := &fakeAPI{
		sendFn:   okExchange("hi", "anon", "raw"),
		fetchErr: &relay.ServerError{Code: 500, Message: "boom"},
	}
	store, _ := newTestStore(api)

	require.NoError(t, store.Submit(context.Background(), "hello"))
	before := store.Messages()

	err := store.LoadHistory(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, store.Messages())
}

func TestStore_ResetClearsLog(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "anon", "raw")}
	store, _ := newTestStore(api)

	require.NoError(t, store.Submit(context.Background(), "hello"))
	require.NotEmpty(t, store.Messages())

	store.Reset()
	assert.Empty(t, store.Messages())
}

func TestStore_MessagesReturnsCopy(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "anon", "raw")}
	store, _ := newTestStore(api)

	require.NoError(t, store.Submit(context.Background(), "hello"))

	snapshot := store.Messages()
	snapshot[0].DisplayText = "tampered"

	assert.Equal(t, "hello", store.Messages()[0].DisplayText)
}

func TestStore_MessageIDsAreUnique(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "anon", "raw")}
	store, _ := newTestStore(api)

	// Rapid consecutive submissions must never collide on ids.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Submit(context.Background(), "msg"))
	}

	seen := make(map[string]bool)
	for _, message := range store.Messages() {
		assert.False(t, seen[message.ID], "duplicate id %s", message.ID)
		seen[message.ID] = true
	}
	assert.Len(t, seen, 10)
}

func TestStore_SubmitTrimsWhitespaceOnly(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "anon", "raw")}
	store, _ := newTestStore(api)

	require.NoError(t, store.Submit(context.Background(), "  hello  "))
	assert.Equal(t, "hello", store.Messages()[0].DisplayText)
	assert.Equal(t, "hello", api.sends[0].prompt)
}

// The reconciliation path is time-stamped through the injected clock.
func TestStore_InjectedClock(t *testing.T) {
	api := &fakeAPI{sendFn: okExchange("hi", "anon", "raw")}
	store, _ := newTestStore(api)

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	require.NoError(t, store.Submit(context.Background(), "hello"))
	for _, message := range store.Messages() {
		assert.True(t, message.CreatedAt.Equal(fixed))
	}
}
