package domain

// Usage is the token count reported by one remote call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Rates are USD prices per 1000 tokens.
type Rates struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// DefaultRates applies when no pricing is configured.
var DefaultRates = Rates{
	PromptPer1K:     0.00015,
	CompletionPer1K: 0.0006,
}

// CostOf prices a token count.
func (r Rates) CostOf(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*r.PromptPer1K + float64(completionTokens)/1000*r.CompletionPer1K
}
