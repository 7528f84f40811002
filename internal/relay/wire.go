package relay

import "privateprompt/pkg/types"

// Turn is one prior exchange turn in an outgoing send request. For a user
// turn Text carries the anonymized form when known, so already-anonymized
// personal data is never re-exposed to the relay on resend.
type Turn struct {
	IsUser bool   `json:"isUser"`
	Text   string `json:"text"`
}

// HistoryTurn is one turn returned by the history endpoint. Provenance
// fields are optional; old turns may omit them.
type HistoryTurn struct {
	IsUser           bool   `json:"isUser"`
	Text             string `json:"text"`
	AnonymizedPrompt string `json:"anonymized_prompt,omitempty"`
	LLMRaw           string `json:"llm_raw,omitempty"`
}

// ExchangeResult is the relay's answer to a prompt submission.
type ExchangeResult struct {
	// DisplayText is the de-anonymized final response shown to the user.
	DisplayText string

	// AnonymizedPrompt is the anonymized form of the prompt that was
	// actually forwarded to the model.
	AnonymizedPrompt string

	// RawModelOutput is the model's output before de-anonymization.
	RawModelOutput string

	// RecontextualizedOutput is the output after placeholder
	// re-substitution, when the relay reports it.
	RecontextualizedOutput string

	// Mapping lists the substitutions the relay applied, when reported.
	Mapping []types.PlaceholderMapping
}

// IssuedCredential is the result of a successful login or register call.
// Some deployments do not issue a credential on register; AccessToken is
// empty in that case and the caller stays unauthenticated.
type IssuedCredential struct {
	AccessToken string

	// ExpiresIn is the credential lifetime reported by the server, or zero
	// when the server leaves expiry to its own side.
	ExpiresIn int64 // seconds
}

type sendRequest struct {
	Prompt  string `json:"prompt"`
	History []Turn `json:"history"`
}

type sendResponse struct {
	Response          string                     `json:"response"`
	LLMRaw            string                     `json:"llm_raw"`
	LLMAfterRecontext string                     `json:"llm_after_recontext"`
	AnonymizedPrompt  string                     `json:"anonymized_prompt"`
	Mapping           []types.PlaceholderMapping `json:"mapping"`
}

type historyResponse struct {
	History []HistoryTurn `json:"history"`
}

type credentialRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type credentialResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

type errorResponse struct {
	Error string `json:"error"`
}
