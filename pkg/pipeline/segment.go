package pipeline

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/knowledgechipper/core/pkg/store"
)

// targetTokensLow/targetTokensHigh bound the target segment length when
// splitting raw text.
const (
	targetTokensLow  = 400
	targetTokensHigh = 800

	// tokensPerWord approximates a BPE tokenizer's ratio for English prose.
	// No pack repo wires an actual tokenizer library, so word count scaled
	// by this constant stands in for a real token count.
	tokensPerWord = 1.3
)

// SplitText segments raw transcript text into chunks of roughly
// targetTokensLow..targetTokensHigh tokens, breaking on sentence boundaries
// where possible, and assigns synthetic timestamps proportional to
// durationS (or [0,0] for every segment if the duration is unknown).
func SplitText(episodeID, text string, durationS *float64) []store.Segment {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var cur strings.Builder
	curWords := 0
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(cur.String()))
			cur.Reset()
			curWords = 0
		}
	}

	for _, sent := range sentences {
		words := len(strings.Fields(sent))
		if curWords > 0 && float64(curWords)*tokensPerWord >= targetTokensLow &&
			float64(curWords+words)*tokensPerWord > targetTokensHigh {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sent)
		curWords += words
	}
	flush()

	totalWords := 0
	for _, c := range chunks {
		totalWords += len(strings.Fields(c))
	}

	segments := make([]store.Segment, 0, len(chunks))
	wordsSoFar := 0
	for i, c := range chunks {
		startS, endS := 0.0, 0.0
		if durationS != nil && *durationS > 0 && totalWords > 0 {
			words := len(strings.Fields(c))
			startS = *durationS * float64(wordsSoFar) / float64(totalWords)
			wordsSoFar += words
			endS = *durationS * float64(wordsSoFar) / float64(totalWords)
			if endS <= startS {
				endS = startS + 0.001
			}
		}
		segments = append(segments, store.Segment{
			SegmentID: uuid.NewString(),
			EpisodeID: episodeID,
			StartS:    startS,
			EndS:      endS,
			Text:      c,
			Seq:       i,
		})
	}
	return segments
}

// splitSentences breaks text on sentence-ending punctuation, keeping the
// punctuation with its sentence. It's a simple rune scan, not a full NLP
// sentence splitter; that's consistent with the rest of the pipeline
// treating segment text as already-transcribed prose rather than raw
// documents needing heavy normalization.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		b.WriteRune(r)
		if r == '.' || r == '?' || r == '!' {
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if next == 0 || unicode.IsSpace(next) {
				out = append(out, strings.TrimSpace(b.String()))
				b.Reset()
			}
		}
	}
	if b.Len() > 0 {
		out = append(out, strings.TrimSpace(b.String()))
	}

	var filtered []string
	for _, s := range out {
		if s != "" {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
