// Package textgen defines the text generation provider contract plus
// keyword derivation shared by implementations.
package textgen

import (
	"context"
	"strings"
	"unicode/utf8"
)

// Result is one generated post. Token counts come from the provider's
// usage block when present; callers estimate otherwise.
type Result struct {
	Content     string
	Keyword     string
	Model       string
	TokensIn    int
	TokensOut   int
	TokensTotal int
	LatencyMs   int64
}

type Provider interface {
	Generate(ctx context.Context, topic string) (*Result, error)
	Name() string
	// Model reports the configured model name, used for pricing even when
	// a call fails before a Result exists.
	Model() string
	Configured() bool
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "about": true,
	"how": true, "why": true, "what": true,
	"как": true, "про": true, "для": true, "что": true, "это": true,
}

// FallbackKeyword derives an image search keyword from the topic when the
// model did not supply one: the first word longer than three characters
// that is not a stop word, else the whole trimmed topic.
func FallbackKeyword(topic string) string {
	for _, word := range strings.Fields(topic) {
		w := strings.ToLower(strings.Trim(word, ".,!?:;\"'()"))
		if utf8.RuneCountInString(w) > 3 && !stopWords[w] {
			return w
		}
	}
	return strings.ToLower(strings.TrimSpace(topic))
}
