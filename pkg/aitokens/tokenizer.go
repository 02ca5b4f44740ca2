// Package aitokens estimates prompt sizes with the tiktoken encodings used by
// OpenAI chat models.
package aitokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding covers models tiktoken does not know by name.
const fallbackEncoding = "cl100k_base"

// chatOverhead is the framing around a single user message: 3 tokens per
// message, 1 for the role and 3 priming the assistant reply.
const chatOverhead = 3 + 1 + 3

var encoders sync.Map // model -> *tiktoken.Tiktoken

// Encoder returns the encoder for model, loading it once per model.
func Encoder(model string) (*tiktoken.Tiktoken, error) {
	if enc, ok := encoders.Load(model); ok {
		return enc.(*tiktoken.Tiktoken), nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		if enc, err = tiktoken.GetEncoding(fallbackEncoding); err != nil {
			return nil, err
		}
	}
	actual, _ := encoders.LoadOrStore(model, enc)
	return actual.(*tiktoken.Tiktoken), nil
}

// CountPrompt estimates the tokens a one-message chat request carrying
// prompt will consume.
func CountPrompt(model, prompt string) (int, error) {
	enc, err := Encoder(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(prompt, nil, nil)) + chatOverhead, nil
}
