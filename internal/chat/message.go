// Package chat holds the conversation state machine: an ordered, append-only
// message list with a stable session id, loading and error flags, and the send
// flow against the inference backend.
package chat

import "strings"

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one transcript entry. Image bytes belong to the message for its
// display lifetime; Audio carries decoded MP3 and appears on assistant
// messages only.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
	Image  []byte `json:"image,omitempty"`
	Audio  []byte `json:"audio,omitempty"`
}

func (m Message) HasAudio() bool { return len(m.Audio) > 0 }

// Input is what the shell collects from the user for one turn.
type Input struct {
	Text  string
	Image []byte
}

// Empty reports whether the input carries neither usable text nor an image.
// Empty input is silently rejected, never an error.
func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Image) == 0
}
