package cache

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/ziadkadry99/ragbudget/internal/textsim"
)

// contextPrefixLen bounds how much of the query discriminates context keys.
const contextPrefixLen = 100

// Hash returns the hex blake3 digest of s.
func Hash(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

// ContextKey keys retrieved context by scope and the start of the query.
func ContextKey(companyID, projectID, query string) string {
	q := []rune(textsim.Normalize(query))
	if len(q) > contextPrefixLen {
		q = q[:contextPrefixLen]
	}
	return Hash(companyID + ":" + projectID + ":" + string(q))
}

// ResponseKey keys a generated answer by session and query.
func ResponseKey(sessionID, query string) string {
	return Hash(sessionID + ":" + textsim.Normalize(query))
}

// EmbeddingKey keys a vector by embedding model and exact text.
func EmbeddingKey(model, text string) string {
	return Hash(model + "\x00" + text)
}
