package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Chunk is a bounded segment of a document's text, the unit of embedding
// and retrieval. Text holds the core span; Overlap holds the trailing tokens
// of the previous chunk, carried as leading context for embedding only.
type Chunk struct {
	Index      int
	Text       string
	Overlap    string
	TokenCount int
}

// EmbedText returns the string that should be embedded for this chunk:
// the carried overlap followed by the core text.
func (c Chunk) EmbedText() string {
	if c.Overlap == "" {
		return c.Text
	}
	return c.Overlap + " " + c.Text
}

// Splitter splits text into sentence-respecting chunks of roughly size
// tokens, carrying overlap tokens between consecutive chunks.
type Splitter struct {
	size    int
	overlap int
}

func NewSplitter(sizeTokens, overlapTokens int) *Splitter {
	if sizeTokens <= 0 {
		sizeTokens = 512
	}
	if overlapTokens < 0 || overlapTokens >= sizeTokens {
		overlapTokens = 0
	}
	return &Splitter{size: sizeTokens, overlap: overlapTokens}
}

// Split segments text into sentences using the terminator set for the given
// language tag, accumulates sentences into chunks of at most the configured
// token size, and carries trailing overlap into each following chunk.
// A sentence that alone exceeds the chunk size is split on word boundaries
// (rune boundaries for scripts without word separators). Empty input yields
// an empty sequence.
func (s *Splitter) Split(text, lang string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	sentences := splitSentences(trimmed, terminatorsFor(lang))

	// Word-level fallback for sentences that alone exceed the chunk size.
	var units []string
	for _, sent := range sentences {
		if EstimateTokens(sent) > s.size {
			units = append(units, splitLongSentence(sent, s.size)...)
		} else {
			units = append(units, sent)
		}
	}

	var chunks []Chunk
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		body := strings.Join(cur, " ")
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       body,
			TokenCount: EstimateTokens(body),
		})
		cur = cur[:0]
		curTokens = 0
	}

	for _, u := range units {
		ut := EstimateTokens(u)
		if curTokens > 0 && curTokens+ut > s.size {
			flush()
		}
		cur = append(cur, u)
		curTokens += ut
	}
	flush()

	// Overlap is applied only after chunk boundaries are fixed, so a single
	// chunk never carries any.
	if s.overlap > 0 {
		for i := 1; i < len(chunks); i++ {
			chunks[i].Overlap = tailTokens(chunks[i-1].Text, s.overlap)
		}
	}

	return chunks
}

// EstimateTokens approximates the token count of a string for embedding-model
// budgeting. CJK characters count as one token each; everything else at
// roughly four characters per token.
func EstimateTokens(s string) int {
	cjk, other := 0, 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	t := cjk + (other+3)/4
	if t == 0 && len(s) > 0 {
		t = 1
	}
	return t
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Sentence terminator sets per script family. Latin terminators are included
// everywhere because multilingual documents routinely embed Latin punctuation.
var (
	latinTerminators      = []rune{'.', '!', '?', '…'}
	cjkTerminators        = []rune{'。', '！', '？', '；'}
	arabicTerminators     = []rune{'؟', '۔'}
	devanagariTerminators = []rune{'।', '॥'}
	armenianTerminators   = []rune{'։'}
	ethiopicTerminators   = []rune{'።', '፧'}
)

func terminatorSet(groups ...[]rune) map[rune]bool {
	set := make(map[rune]bool)
	for _, g := range groups {
		for _, r := range g {
			set[r] = true
		}
	}
	return set
}

// terminatorsFor resolves the sentence terminator set for a BCP-47 language
// tag. Unknown or empty tags get the union of all sets, which is safe because
// the terminator runes are disjoint across scripts.
func terminatorsFor(lang string) map[rune]bool {
	union := terminatorSet(latinTerminators, cjkTerminators, arabicTerminators,
		devanagariTerminators, armenianTerminators, ethiopicTerminators)
	if lang == "" {
		return union
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return union
	}
	base, _ := tag.Base()
	switch base.String() {
	case "zh", "ja", "ko":
		return terminatorSet(latinTerminators, cjkTerminators)
	case "ar", "fa", "ur", "ps":
		return terminatorSet(latinTerminators, arabicTerminators)
	case "hi", "mr", "ne", "sa":
		return terminatorSet(latinTerminators, devanagariTerminators)
	case "hy":
		return terminatorSet(latinTerminators, armenianTerminators)
	case "am", "ti":
		return terminatorSet(latinTerminators, ethiopicTerminators)
	default:
		return terminatorSet(latinTerminators)
	}
}

// closers are runes that belong to the sentence they follow (quotes, closing
// brackets) and are consumed onto the preceding sentence.
func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', ')', ']', '}', '」', '』', '）', '】', '»':
		return true
	}
	return false
}

func splitSentences(text string, terminators map[rune]bool) []string {
	var sentences []string
	var cur strings.Builder
	runes := []rune(text)

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if !terminators[r] {
			continue
		}
		// Consume runs of terminators ("?!", "...") and trailing closers.
		for i+1 < len(runes) && (terminators[runes[i+1]] || isCloser(runes[i+1])) {
			i++
			cur.WriteRune(runes[i])
		}
		flush()
	}
	flush()

	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	return sentences
}

// splitLongSentence breaks a sentence exceeding maxTokens on word boundaries,
// falling back to rune windows for scripts without word separators.
func splitLongSentence(sent string, maxTokens int) []string {
	fields := strings.Fields(sent)
	if len(fields) <= 1 {
		return splitRunes(sent, maxTokens)
	}

	var pieces []string
	var cur []string
	curTokens := 0
	for _, f := range fields {
		ft := EstimateTokens(f)
		if ft > maxTokens {
			if len(cur) > 0 {
				pieces = append(pieces, strings.Join(cur, " "))
				cur, curTokens = nil, 0
			}
			pieces = append(pieces, splitRunes(f, maxTokens)...)
			continue
		}
		if curTokens > 0 && curTokens+ft > maxTokens {
			pieces = append(pieces, strings.Join(cur, " "))
			cur, curTokens = nil, 0
		}
		cur = append(cur, f)
		curTokens += ft
	}
	if len(cur) > 0 {
		pieces = append(pieces, strings.Join(cur, " "))
	}
	return pieces
}

func splitRunes(s string, maxTokens int) []string {
	var pieces []string
	var cur strings.Builder
	curTokens := 0
	for _, r := range s {
		rt := 1
		if !isCJK(r) {
			rt = 0 // accounted for by char/4 estimate below
		}
		cur.WriteRune(r)
		if rt == 1 {
			curTokens++
		}
		if curTokens >= maxTokens || EstimateTokens(cur.String()) >= maxTokens {
			pieces = append(pieces, cur.String())
			cur.Reset()
			curTokens = 0
		}
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

// tailTokens returns the trailing portion of text worth roughly n tokens,
// respecting word boundaries where they exist.
func tailTokens(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > 1 {
		var tail []string
		tokens := 0
		for i := len(fields) - 1; i >= 0; i-- {
			ft := EstimateTokens(fields[i])
			if tokens+ft > n && len(tail) > 0 {
				break
			}
			tail = append([]string{fields[i]}, tail...)
			tokens += ft
			if tokens >= n {
				break
			}
		}
		return strings.Join(tail, " ")
	}

	runes := []rune(text)
	start := len(runes)
	for start > 0 && EstimateTokens(string(runes[start-1:])) <= n {
		start--
	}
	return string(runes[start:])
}
