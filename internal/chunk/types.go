// Package chunk splits normalized document text into overlapping pieces
// for indexing. Splitting is deterministic: identical input and config
// always produce byte-identical piece boundaries, which keeps chunk IDs
// stable across re-indexing of unchanged content.
package chunk

import (
	"fmt"

	pipeerrors "github.com/docpipe/docpipe/internal/errors"
)

// Strategy selects how text is split into pieces.
type Strategy string

const (
	// StrategySentence packs consecutive sentences greedily up to the
	// target size, sliding back by Overlap sentences between pieces.
	StrategySentence Strategy = "sentence"
	// StrategyRecursive descends structural boundaries (paragraph,
	// sentence, word) until every piece fits the target size.
	StrategyRecursive Strategy = "recursive"
	// StrategyToken packs words by estimated token count with
	// token-based overlap.
	StrategyToken Strategy = "token"
)

// Config controls splitting behavior.
type Config struct {
	// Strategy is the splitting strategy.
	Strategy Strategy `yaml:"strategy"`

	// TargetSize is the target piece size in estimated tokens.
	TargetSize int `yaml:"target_size"`

	// Overlap is the slide-back between consecutive pieces. It is
	// measured in sentences for the sentence strategy and in estimated
	// tokens for the token strategy; the recursive strategy ignores it.
	Overlap int `yaml:"overlap"`

	// Language hints sentence boundary detection: "ko", "en", or
	// "auto" to detect from the text.
	Language string `yaml:"language"`
}

// DefaultConfig returns the default splitting configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:   StrategySentence,
		TargetSize: 512,
		Overlap:    1,
		Language:   "auto",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategySentence, StrategyRecursive, StrategyToken:
	default:
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown chunking strategy %q", c.Strategy), nil)
	}
	if c.TargetSize <= 0 {
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("target size must be positive, got %d", c.TargetSize), nil)
	}
	if c.Overlap < 0 {
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("overlap must be non-negative, got %d", c.Overlap), nil)
	}
	if c.Overlap >= c.TargetSize {
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("overlap %d must be smaller than target size %d", c.Overlap, c.TargetSize), nil)
	}
	switch c.Language {
	case "", "auto", "ko", "en":
	default:
		return pipeerrors.New(pipeerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown language %q", c.Language), nil)
	}
	return nil
}

// Piece is a single split unit with byte offsets into the source text.
type Piece struct {
	Text        string
	StartOffset int // byte offset into the source text
	EndOffset   int // exclusive
	TokenCount  int // estimated
}
