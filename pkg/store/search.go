package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/knowledgechipper/core/pkg/errs"
)

// tierRank orders tiers for the min_tier comparison in GetClaimsByTier and
// SearchClaims (A is the highest-confidence tier).
var tierRank = map[string]int{"A": 3, "B": 2, "C": 1}

// SearchClaims runs an FTS5 query over canonical_text, optionally scoped by
// episode and minimum tier.
func (s *Store) SearchClaims(ctx context.Context, query string, filters ClaimSearchFilters) ([]string, error) {
	sqlQuery := `
		SELECT c.claim_id FROM claims_fts f
		JOIN claims c ON c.claim_id = f.claim_id
		WHERE claims_fts MATCH ?
	`
	args := []interface{}{query}

	if filters.EpisodeID != "" {
		sqlQuery += ` AND c.episode_id = ?`
		args = append(args, filters.EpisodeID)
	}
	if filters.MinTier != "" {
		tiers := tiersAtOrAbove(filters.MinTier)
		if len(tiers) == 0 {
			return nil, errs.New(errs.InvalidInput, "store: invalid min_tier "+filters.MinTier)
		}
		placeholders := make([]string, len(tiers))
		for i, t := range tiers {
			placeholders[i] = "?"
			args = append(args, t)
		}
		sqlQuery += fmt.Sprintf(" AND c.tier IN (%s)", strings.Join(placeholders, ","))
	}
	sqlQuery += ` ORDER BY rank`

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: search_claims", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan search_claims row", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetClaimsByTier returns an episode's claims at or above min_tier, with
// evidence attached.
func (s *Store) GetClaimsByTier(ctx context.Context, episodeID, minTier string) ([]Claim, error) {
	tiers := tiersAtOrAbove(minTier)
	if len(tiers) == 0 {
		return nil, errs.New(errs.InvalidInput, "store: invalid min_tier "+minTier)
	}
	placeholders := make([]string, len(tiers))
	args := []interface{}{episodeID}
	for i, t := range tiers {
		placeholders[i] = "?"
		args = append(args, t)
	}

	query := fmt.Sprintf(`
		SELECT claim_id, episode_id, segment_id, job_type, canonical_text, raw_text, tier, scoring_json, created_at
		FROM claims WHERE episode_id = ? AND tier IN (%s)
		ORDER BY tier, created_at
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get_claims_by_tier", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		if err := rows.Scan(&c.ClaimID, &c.EpisodeID, &c.SegmentID, &c.JobType, &c.CanonicalText, &c.RawText, &c.Tier, &c.ScoringJSON, &c.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan claim", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: iterate claims", err)
	}

	for i := range claims {
		evidence, err := s.getEvidenceForClaim(ctx, claims[i].ClaimID)
		if err != nil {
			return nil, err
		}
		claims[i].Evidence = evidence
	}
	return claims, nil
}

func (s *Store) getEvidenceForClaim(ctx context.Context, claimID string) ([]EvidenceSpan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT span_id, claim_id, segment_id, char_start, char_end, quote
		FROM evidence_spans WHERE claim_id = ?
	`, claimID)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get evidence for claim", err)
	}
	defer rows.Close()

	var spans []EvidenceSpan
	for rows.Next() {
		var e EvidenceSpan
		if err := rows.Scan(&e.SpanID, &e.ClaimID, &e.SegmentID, &e.CharStart, &e.CharEnd, &e.Quote); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan evidence span", err)
		}
		spans = append(spans, e)
	}
	return spans, rows.Err()
}

func tiersAtOrAbove(minTier string) []string {
	minRank, ok := tierRank[minTier]
	if !ok {
		return nil
	}
	var out []string
	for tier, rank := range tierRank {
		if rank >= minRank {
			out = append(out, tier)
		}
	}
	return out
}
