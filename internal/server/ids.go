package server

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// request IDs follow each surface's convention: chatcmpl-<hex> for the
// OpenAI shape, msg_<hex> for the Anthropic one. 24 hex characters of a
// random UUID are plenty of entropy for log correlation.
func randomHex24() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:24]
}

func newChatCompletionID() string {
	return "chatcmpl-" + randomHex24()
}

func newMessageID() string {
	return "msg_" + randomHex24()
}
