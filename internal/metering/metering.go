// Package metering turns message content into token counts and token counts
// into credits. Both functions are pure.
package metering

import (
	"errors"
	"unicode/utf8"
)

const (
	// CharsPerToken is the fixed characters-per-token ratio used when the
	// AI provider did not report usage. Characters are counted as runes.
	CharsPerToken = 4

	// MinTokens is the floor applied to every estimate.
	MinTokens int64 = 1

	// MinCredits is the floor applied to every chargeable message.
	MinCredits int64 = 1
)

var ErrInvalidTokensPerCredit = errors.New("tokens per credit must be greater than 0")

// EstimateTokens returns the provider-reported usage when it is positive and
// otherwise derives a count from the content length. The result is never
// below MinTokens.
func EstimateTokens(content string, providerTokens int64) int64 {
	if providerTokens > 0 {
		return providerTokens
	}

	runes := int64(utf8.RuneCountInString(content))
	tokens := (runes + CharsPerToken - 1) / CharsPerToken
	if tokens < MinTokens {
		return MinTokens
	}
	return tokens
}

// ToCredits converts tokens to credits, rounding up, with a floor of
// MinCredits.
func ToCredits(tokens, tokensPerCredit int64) (int64, error) {
	if tokensPerCredit <= 0 {
		return 0, ErrInvalidTokensPerCredit
	}
	if tokens < MinTokens {
		tokens = MinTokens
	}

	credits := tokens / tokensPerCredit
	if tokens%tokensPerCredit != 0 {
		credits++
	}
	if credits < MinCredits {
		return MinCredits, nil
	}
	return credits, nil
}
