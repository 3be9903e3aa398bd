package tui

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

// estimateTokens counts tokens with the cl100k_base encoding, loaded lazily
// since it pulls its vocabulary on first use. When the encoder cannot load
// (offline, for instance) a word/char heuristic stands in.
func estimateTokens(text string) int {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoder = enc
		}
	})
	if encoder != nil {
		return len(encoder.Encode(text, nil, nil))
	}
	return heuristicTokens(text)
}

// heuristicTokens approximates: roughly one token per 4 characters, floored
// at the word count.
func heuristicTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if chars > words {
		return chars
	}
	return words
}
