package ai

import "context"

// ChatMessage is one role/content pair in an outbound chat payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamer streams an assistant reply as incremental text fragments.
// The content channel is closed when the reply is complete; a terminal
// failure is delivered on the error channel instead. The stream is finite
// and not restartable.
type ChatStreamer interface {
	StreamChat(ctx context.Context, messages []ChatMessage) (<-chan string, <-chan error)
}

// CredentialSource supplies the API credential at request time.
// An empty credential is treated the same as a missing one.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}
