// Package llm provides the chat completion contract chatstream streams from,
// along with the remote provider implementation and a scripted stand-in for tests.
package llm

// ErrorResponse is the JSON error body returned by the chatstream API.
type ErrorResponse struct {
	Error string `json:"error"`
}
