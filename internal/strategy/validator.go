package strategy

import (
	"fmt"

	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

// Validator checks a generated answer against a mode's length limits.
// Zero limits are not enforced.
type Validator struct {
	Min int
	Max int
}

// Validation is the outcome of a length check.
type Validation struct {
	OK      bool   `json:"ok"`
	Short   bool   `json:"short,omitempty"`
	Tokens  int    `json:"tokens"`
	Message string `json:"message"`
}

// Validate estimates the token count of text as one token per four
// characters and compares it with the limits.
func (v Validator) Validate(text string) Validation {
	n := tokens.EstimateChars(text)
	switch {
	case v.Min > 0 && n < v.Min:
		return Validation{
			Short:   true,
			Tokens:  n,
			Message: fmt.Sprintf("answer too short: %d tokens (min %d, missing %d)", n, v.Min, v.Min-n),
		}
	case v.Max > 0 && n > v.Max:
		return Validation{
			Tokens:  n,
			Message: fmt.Sprintf("answer too long: %d tokens (max %d, over by %d)", n, v.Max, n-v.Max),
		}
	}
	return Validation{OK: true, Tokens: n, Message: fmt.Sprintf("answer ok: %d tokens", n)}
}
