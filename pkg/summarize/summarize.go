// Package summarize composes short and long episode summaries from
// already-tiered claims. It makes no LLM call of its own: both summaries are
// pure aggregation over what the evaluator already persisted.
package summarize

import (
	"context"
	"strings"

	"github.com/knowledgechipper/core/pkg/store"
)

// shortSummaryMaxClaims caps how many A-tier claims the short summary lists,
// so it stays skimmable regardless of how many tier-A claims an episode has.
const shortSummaryMaxClaims = 10

// Summary is the short/long pair produced for one episode's job_type
// partition of claims.
type Summary struct {
	EpisodeID string
	JobType   string
	Short     string
	Long      string
	ShortN    int
	LongN     int
}

// Summarizer composes Summary values from a Store.
type Summarizer struct {
	store *store.Store
}

// New builds a Summarizer over s.
func New(s *store.Store) *Summarizer {
	return &Summarizer{store: s}
}

// Summarize builds the short (tier A only) and long (tier A+B) summaries for
// an episode's job_type partition. It returns an empty Summary, not an
// error, when the episode has no tiered claims yet — summarization is
// always safe to call, even before a job has produced anything.
func (s *Summarizer) Summarize(ctx context.Context, episodeID, jobType string) (*Summary, error) {
	claims, err := s.store.GetClaimsByTier(ctx, episodeID, "B")
	if err != nil {
		return nil, err
	}

	var aTier, bTier []store.Claim
	for _, c := range claims {
		if c.JobType != "" && c.JobType != jobType {
			continue
		}
		switch c.Tier {
		case "A":
			aTier = append(aTier, c)
		case "B":
			bTier = append(bTier, c)
		}
	}

	shortClaims := aTier
	if len(shortClaims) > shortSummaryMaxClaims {
		shortClaims = shortClaims[:shortSummaryMaxClaims]
	}
	longClaims := append(append([]store.Claim{}, aTier...), bTier...)

	return &Summary{
		EpisodeID: episodeID,
		JobType:   jobType,
		Short:     bulletList(shortClaims),
		Long:      bulletList(longClaims),
		ShortN:    len(shortClaims),
		LongN:     len(longClaims),
	}, nil
}

func bulletList(claims []store.Claim) string {
	if len(claims) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range claims {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(c.CanonicalText)
	}
	return b.String()
}
