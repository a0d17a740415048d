package tokenizer

import "testing"

func TestCharBasedEstimation(t *testing.T) {
	est := New(Config{Strategy: StrategyChar, CharsPerToken: 4.0})
	if got := est.Estimate("Hello world"); got != 3 {
		t.Fatalf("expected 3 tokens for 11 chars, got %d", got)
	}
	if got := est.Estimate(""); got != 0 {
		t.Fatalf("expected 0 tokens for empty text, got %d", got)
	}
}

func TestWordBasedEstimation(t *testing.T) {
	est := New(Config{Strategy: StrategyWord, WordsPerToken: 1.3})
	if got := est.Estimate("Hello world test"); got != 3 {
		t.Fatalf("expected 3 tokens for 3 words, got %d", got)
	}
	if got := est.Estimate("  \t \n "); got != 0 {
		t.Fatalf("expected 0 tokens for whitespace, got %d", got)
	}
}

func TestEstimateMultibyte(t *testing.T) {
	// Rune count, not byte count, drives the char strategy.
	est := New(Config{Strategy: StrategyChar, CharsPerToken: 4.0})
	if got := est.Estimate("héllo wörld"); got != 3 {
		t.Fatalf("expected 3 tokens for 11 runes, got %d", got)
	}
}

func TestDefaultsOnZeroConfig(t *testing.T) {
	est := New(Config{})
	if got := est.Estimate("abcd"); got != 1 {
		t.Fatalf("expected 1 token with default chars_per_token, got %d", got)
	}
}

func TestEstimateBatch(t *testing.T) {
	est := New(DefaultConfig())
	got := est.EstimateBatch([]string{"abcd", "abcdefgh"})
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected batch estimates: %v", got)
	}
}
