package billing

import "math"

// Pricing converts token counts into USD cost. Overrides map model names
// to a per-1K-token rate that takes precedence over the base rate.
type Pricing struct {
	BasePer1K float64
	Overrides map[string]float64
}

func (p Pricing) CostUSD(model string, tokens int) float64 {
	rate := p.BasePer1K
	if r, ok := p.Overrides[model]; ok {
		rate = r
	}
	cost := float64(tokens) / 1000.0 * rate
	return math.Round(cost*1e6) / 1e6
}

// EstimateTokens approximates the token count of text when the provider
// response carries no usage data. The 3.5 chars-per-token ratio is a
// rough average for mixed Latin and Cyrillic content.
func EstimateTokens(text string) int {
	n := int(math.Ceil(float64(len([]rune(text))) / 3.5))
	if n < 1 {
		n = 1
	}
	return n
}
