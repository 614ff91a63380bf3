package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// recursiveSeparators is the descent order for the recursive strategy:
// paragraph, line, sentence end, word. Hard character cut is the final
// fallback when no separator remains.
var recursiveSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Splitter splits text into pieces under a configured strategy.
type Splitter struct {
	est TokenEstimator
}

// NewSplitter creates a Splitter. A nil estimator falls back to the
// heuristic estimator.
func NewSplitter(est TokenEstimator) *Splitter {
	if est == nil {
		est = HeuristicEstimator{}
	}
	return &Splitter{est: est}
}

// Split splits text into pieces. Empty or whitespace-only input yields
// zero pieces without error. A single sentence or word larger than the
// target size becomes its own piece unmodified.
func (s *Splitter) Split(text string, cfg Config) ([]Piece, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	lang := cfg.Language
	if lang == "" || lang == "auto" {
		lang = DetectLanguage(text)
	}

	switch cfg.Strategy {
	case StrategyRecursive:
		return s.splitRecursive(text, 0, recursiveSeparators, cfg.TargetSize, nil), nil
	case StrategyToken:
		return s.splitByTokens(text, cfg), nil
	default:
		return s.splitBySentences(text, cfg, lang), nil
	}
}

// DetectLanguage classifies text as "ko" or "en" by the share of
// Hangul among alphabetic characters.
func DetectLanguage(text string) string {
	var korean, english int
	for _, r := range text {
		switch {
		case r >= 0xAC00 && r <= 0xD7A3:
			korean++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			english++
		}
	}

	total := korean + english
	if total == 0 {
		return "en"
	}
	if float64(korean)/float64(total) > 0.3 {
		return "ko"
	}
	return "en"
}

// span is a half-open byte range into the source text.
type span struct {
	start, end int
}

func (s *Splitter) makePiece(text string, sp span) Piece {
	segment := text[sp.start:sp.end]
	return Piece{
		Text:        segment,
		StartOffset: sp.start,
		EndOffset:   sp.end,
		TokenCount:  s.est.Estimate(segment),
	}
}

// splitBySentences greedily packs consecutive sentences up to the
// target size, then slides back by cfg.Overlap sentences.
func (s *Splitter) splitBySentences(text string, cfg Config, lang string) []Piece {
	sentences := sentenceSpans(text, lang)
	if len(sentences) == 0 {
		return nil
	}

	var pieces []Piece
	i := 0
	for i < len(sentences) {
		// The piece always contains sentence i, then extends while the
		// combined estimate stays within the target.
		j := i + 1
		for j < len(sentences) {
			if s.est.Estimate(text[sentences[i].start:sentences[j].end]) > cfg.TargetSize {
				break
			}
			j++
		}

		pieces = append(pieces, s.makePiece(text, span{sentences[i].start, sentences[j-1].end}))
		if j >= len(sentences) {
			break
		}

		next := j - cfg.Overlap
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return pieces
}

// splitRecursive descends the separator hierarchy until every piece
// fits the target size, hard-cutting at character level as a last
// resort. Offsets are tracked relative to base.
func (s *Splitter) splitRecursive(text string, base int, seps []string, target int, out []Piece) []Piece {
	if strings.TrimSpace(text) == "" {
		return out
	}
	if s.est.Estimate(text) <= target {
		return append(out, s.makeOffsetPiece(text, base))
	}
	if len(seps) == 0 {
		return s.hardCut(text, base, target, out)
	}

	sep := seps[0]
	if !strings.Contains(text, sep) {
		return s.splitRecursive(text, base, seps[1:], target, out)
	}

	pos := 0
	for _, part := range strings.Split(text, sep) {
		if part != "" {
			out = s.splitRecursive(part, base+pos, seps[1:], target, out)
		}
		pos += len(part) + len(sep)
	}
	return out
}

// hardCut slices text at rune boundaries so each piece estimate stays
// within the target.
func (s *Splitter) hardCut(text string, base int, target int, out []Piece) []Piece {
	start := 0
	i := 0
	for i < len(text) {
		_, size := utf8.DecodeRuneInString(text[i:])
		next := i + size
		if i > start && s.est.Estimate(text[start:next]) > target {
			out = append(out, s.makeOffsetPiece(text[start:i], base+start))
			start = i
		}
		i = next
	}
	if start < len(text) {
		out = append(out, s.makeOffsetPiece(text[start:], base+start))
	}
	return out
}

func (s *Splitter) makeOffsetPiece(segment string, start int) Piece {
	return Piece{
		Text:        segment,
		StartOffset: start,
		EndOffset:   start + len(segment),
		TokenCount:  s.est.Estimate(segment),
	}
}

// splitByTokens packs words by estimated token count with token-based
// overlap between consecutive pieces.
func (s *Splitter) splitByTokens(text string, cfg Config) []Piece {
	words := wordSpans(text)
	if len(words) == 0 {
		return nil
	}

	var pieces []Piece
	i := 0
	for i < len(words) {
		j := i
		tokens := 0
		for j < len(words) {
			wt := s.est.Estimate(text[words[j].start:words[j].end])
			if j > i && tokens+wt > cfg.TargetSize {
				break
			}
			tokens += wt
			j++
		}

		pieces = append(pieces, s.makePiece(text, span{words[i].start, words[j-1].end}))
		if j >= len(words) {
			break
		}

		// Slide back over trailing words until the overlap budget is spent.
		next := j
		if cfg.Overlap > 0 {
			acc := 0
			for next > i+1 {
				wt := s.est.Estimate(text[words[next-1].start:words[next-1].end])
				if acc+wt > cfg.Overlap {
					break
				}
				acc += wt
				next--
			}
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return pieces
}

// sentenceSpans returns trimmed byte spans of sentences. A boundary is
// a run of terminator characters followed by whitespace or end of text.
func sentenceSpans(text string, lang string) []span {
	var spans []span
	start := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isTerminator(r, lang) {
			i += size
			continue
		}

		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminator(r2, lang) {
				break
			}
			j += s2
		}

		if j < len(text) {
			r2, _ := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				i = j
				continue
			}
		}

		spans = appendTrimmed(spans, text, start, j)
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !unicode.IsSpace(r2) {
				break
			}
			j += s2
		}
		start = j
		i = j
	}
	if start < len(text) {
		spans = appendTrimmed(spans, text, start, len(text))
	}
	return spans
}

func isTerminator(r rune, lang string) bool {
	switch r {
	case '.', '!', '?':
		return true
	case '。', '！', '？': // full-width terminators
		return lang == "ko"
	}
	return false
}

// appendTrimmed appends the span [start, end) with surrounding
// whitespace trimmed, skipping empty results.
func appendTrimmed(spans []span, text string, start, end int) []span {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start < end {
		spans = append(spans, span{start, end})
	}
	return spans
}

// wordSpans returns byte spans of whitespace-separated words.
func wordSpans(text string) []span {
	var spans []span
	inWord := false
	wordStart := 0
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if inWord {
				spans = append(spans, span{wordStart, i})
				inWord = false
			}
		} else if !inWord {
			wordStart = i
			inWord = true
		}
		i += size
	}
	if inWord {
		spans = append(spans, span{wordStart, len(text)})
	}
	return spans
}
