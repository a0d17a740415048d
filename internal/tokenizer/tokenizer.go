package tokenizer

import (
	"math"
	"strings"
)

// Strategy selects how token counts are estimated.
type Strategy string

const (
	// StrategyChar divides the rune count by CharsPerToken.
	StrategyChar Strategy = "char"
	// StrategyWord divides the whitespace-separated word count by WordsPerToken.
	StrategyWord Strategy = "word"
)

// Config holds estimator parameters. The strategy is fixed for the service
// lifetime.
type Config struct {
	Strategy      Strategy `yaml:"strategy"`
	CharsPerToken float64  `yaml:"charsPerToken"`
	WordsPerToken float64  `yaml:"wordsPerToken"`
}

// DefaultConfig approximates common LLM tokenizers at ~4 chars/token.
func DefaultConfig() Config {
	return Config{Strategy: StrategyChar, CharsPerToken: 4.0}
}

// Estimator converts text to an estimated token count.
type Estimator struct {
	cfg Config
}

// New builds an Estimator. Non-positive divisors fall back to defaults so the
// estimator can never divide by zero.
func New(cfg Config) Estimator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyChar
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4.0
	}
	if cfg.WordsPerToken <= 0 {
		cfg.WordsPerToken = 1.3
	}
	return Estimator{cfg: cfg}
}

// Estimate returns a non-negative token estimate for text. O(len(text)).
func (e Estimator) Estimate(text string) int {
	switch e.cfg.Strategy {
	case StrategyWord:
		words := len(strings.Fields(text))
		return int(math.Ceil(float64(words) / e.cfg.WordsPerToken))
	default:
		chars := len([]rune(text))
		return int(math.Ceil(float64(chars) / e.cfg.CharsPerToken))
	}
}

// EstimateBatch estimates each text independently.
func (e Estimator) EstimateBatch(texts []string) []int {
	out := make([]int, len(texts))
	for i, t := range texts {
		out[i] = e.Estimate(t)
	}
	return out
}
