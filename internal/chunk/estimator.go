package chunk

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token count of a text.
// Estimates only steer piece sizing; they are never sent to a model.
type TokenEstimator interface {
	Estimate(text string) int
}

// HeuristicEstimator approximates token counts from character classes:
// Korean runs ~1.5 chars per token, English ~4, everything else ~3.
// It needs no model data and is fully deterministic, so it is the
// default estimator.
type HeuristicEstimator struct{}

// Estimate returns the estimated token count, at least 1.
func (HeuristicEstimator) Estimate(text string) int {
	var korean, english, other int
	for _, r := range text {
		switch {
		case r >= 0xAC00 && r <= 0xD7A3:
			korean++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			english++
		default:
			other++
		}
	}

	estimated := float64(korean)/1.5 + float64(english)/4 + float64(other)/3
	if estimated < 1 {
		return 1
	}
	return int(estimated)
}

// TiktokenEstimator counts tokens with the cl100k_base BPE encoding.
// Loading the encoding may download vocabulary data on first use, so
// this estimator is opt-in via configuration.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the cl100k_base encoding.
func NewTiktokenEstimator() (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base encoding: %w", err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Estimate returns the exact BPE token count, at least 1.
func (t *TiktokenEstimator) Estimate(text string) int {
	n := len(t.enc.Encode(text, nil, nil))
	if n < 1 {
		return 1
	}
	return n
}
