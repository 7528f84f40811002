// Package types defines the shared domain types for the privateprompt client.
// This file contains the core types for session credentials, conversation
// messages, and the provenance trail attached to each completed exchange.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

// Author roles for conversation messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlaceholderMapping records a single anonymization substitution performed by
// the relay, e.g. {Type: "NAME", Original: "Alice", Anonymized: "<NAME>"}.
type PlaceholderMapping struct {
	Type       string `json:"type"`
	Original   string `json:"original"`
	Anonymized string `json:"anonymized"`
}

// Provenance is the anonymized-prompt / raw-model-output pair attached to a
// message once the server round-trip completes. For a user message only
// AnonymizedPrompt is meaningful; for an assistant message all fields may be
// set. Old history turns may carry a partial provenance or none at all.
type Provenance struct {
	AnonymizedPrompt string `json:"anonymized_prompt,omitempty"`
	RawModelOutput   string `json:"raw_model_output,omitempty"`
	// RecontextualizedOutput is the model output after placeholder
	// re-substitution, before any final display post-processing.
	RecontextualizedOutput string `json:"recontextualized_output,omitempty"`
	// Mapping lists the substitutions the relay applied to the prompt.
	Mapping []PlaceholderMapping `json:"mapping,omitempty"`
}

// Message represents a single turn in the conversation log.
// A user message is created optimistically at submit time with a nil
// Provenance; the provenance is attached once the relay confirms the
// exchange. An assistant message exists only after a successful exchange.
type Message struct {
	ID          string      `json:"id"`           // Unique message identifier (uuid)
	Author      Role        `json:"author"`       // user or assistant
	DisplayText string      `json:"display_text"` // Text shown to the user
	Provenance  *Provenance `json:"provenance,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Provenanced reports whether the message has been reconciled with a relay
// response.
func (m *Message) Provenanced() bool {
	return m.Provenance != nil
}

// Session holds the server-issued credential authorizing relay requests.
// It is replaced wholesale on re-login and destroyed on logout or expiry;
// it is never mutated in place.
type Session struct {
	Credential string    `json:"credential"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Valid reports whether the session carries a credential that has not yet
// expired at the given instant.
func (s Session) Valid(now time.Time) bool {
	return s.Credential != "" && now.Before(s.ExpiresAt)
}

// Signal is a navigation hint emitted by the session layer. The core never
// renders or routes; an external collaborator decides the visible surface.
type Signal string

// Navigation signals.
const (
	SignalLoginRequired  Signal = "login-required"
	SignalSessionExpired Signal = "session-expired"
)

// Navigator receives navigation signals from the session layer.
type Navigator interface {
	Navigate(signal Signal)
}

// NavigatorFunc adapts a plain function to the Navigator interface.
type NavigatorFunc func(Signal)

// Navigate calls f(signal).
func (f NavigatorFunc) Navigate(signal Signal) { f(signal) }
