package llm

import (
	"strings"
	"unicode/utf8"
)

// Usage counts the tokens billed for one completion.
type Usage struct {
	InputTokens  int
	OutputTokens int
	// Estimated is set when the provider reported nothing and the counts
	// come from EstimateTokens.
	Estimated bool
}

// price is USD per million tokens.
type price struct {
	in, out float64
}

// prices is matched by prefix so dated snapshots share their family's
// price. More specific prefixes come first. Local models are free.
var prices = []struct {
	prefix string
	price
}{
	{"claude-haiku-4-5", price{0.80, 4.00}},
	{"claude-sonnet-4-5", price{3.00, 15.00}},
	{"gpt-4o-mini", price{0.15, 0.60}},
	{"gpt-4o", price{2.50, 10.00}},
	{"gpt-4.1-mini", price{0.40, 1.60}},
	{"gpt-4.1", price{2.00, 8.00}},
}

// Cost returns the estimated USD cost of u on model, or 0 for models
// without a known price. OpenRouter's vendor prefix is ignored.
func (u Usage) Cost(model string) float64 {
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		model = model[i+1:]
	}
	for _, p := range prices {
		if strings.HasPrefix(model, p.prefix) {
			return (float64(u.InputTokens)*p.in + float64(u.OutputTokens)*p.out) / 1_000_000
		}
	}
	return 0
}

// EstimateTokens approximates a token count at one token per four
// characters, rounded up. Characters rather than bytes keep accented
// Spanish text from being overcounted.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// EstimateUsage fills in whichever side of r.Usage the provider left at
// zero, from the prompt and the reply text.
func EstimateUsage(r *CompletionResponse, prompt []Message) {
	if r.Usage.InputTokens == 0 {
		for _, m := range prompt {
			r.Usage.InputTokens += EstimateTokens(m.Content)
		}
		r.Usage.Estimated = true
	}
	if r.Usage.OutputTokens == 0 && r.Content != "" {
		r.Usage.OutputTokens = EstimateTokens(r.Content)
		r.Usage.Estimated = true
	}
}
