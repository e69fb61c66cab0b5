package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/knowledgechipper/core/pkg/errs"
)

// UpsertPipelineOutputs atomically replaces all claims/evidence/people/
// concepts/jargon/relations for (episode_id, job_type): deletes the prior
// generation, inserts the new one, and rebuilds the FTS shadow tables.
// A rerun is therefore always safe and deterministic: readers never
// observe a mix of old and new state.
func (s *Store) UpsertPipelineOutputs(ctx context.Context, episodeID, jobType string, out PipelineOutputs) error {
	if _, err := s.GetEpisode(ctx, episodeID); err != nil {
		return err
	}

	segmentText, err := s.segmentTextIndex(ctx, episodeID)
	if err != nil {
		return err
	}
	for _, claim := range out.Claims {
		for _, ev := range claim.Evidence {
			text, ok := segmentText[ev.SegmentID]
			if !ok {
				return errs.New(errs.IntegrityError, fmt.Sprintf("store: evidence references unknown segment %s", ev.SegmentID))
			}
			if !QuoteMatches(text, ev.CharStart, ev.CharEnd, ev.Quote) {
				return errs.New(errs.IntegrityError, fmt.Sprintf("store: evidence quote mismatch for claim %s in segment %s", claim.ClaimID, ev.SegmentID))
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: begin upsert_pipeline_outputs", err)
	}
	defer tx.Rollback()

	if err := deletePriorOutputs(ctx, tx, episodeID, jobType); err != nil {
		return err
	}
	if err := insertClaims(ctx, tx, episodeID, jobType, out.Claims); err != nil {
		return err
	}
	if err := insertPeople(ctx, tx, episodeID, jobType, out.People); err != nil {
		return err
	}
	if err := insertConcepts(ctx, tx, episodeID, jobType, out.Concepts); err != nil {
		return err
	}
	if err := insertJargon(ctx, tx, episodeID, jobType, out.Jargon); err != nil {
		return err
	}
	if err := insertRelations(ctx, tx, episodeID, jobType, out.Relations); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: commit upsert_pipeline_outputs", err)
	}
	return nil
}

func (s *Store) segmentTextIndex(ctx context.Context, episodeID string) (map[string]string, error) {
	segments, err := s.GetSegments(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	index := make(map[string]string, len(segments))
	for _, seg := range segments {
		index[seg.SegmentID] = seg.Text
	}
	return index, nil
}

func deletePriorOutputs(ctx context.Context, tx *sql.Tx, episodeID, jobType string) error {
	// Evidence and FTS rows key off claim_id, so the prior claim set must be
	// gathered before the claims themselves are deleted.
	rows, err := tx.QueryContext(ctx, `SELECT claim_id FROM claims WHERE episode_id = ? AND job_type = ?`, episodeID, jobType)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: list prior claims", err)
	}
	var priorClaimIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errs.Wrap(errs.DatabaseError, "store: scan prior claim id", err)
		}
		priorClaimIDs = append(priorClaimIDs, id)
	}
	rows.Close()

	for _, id := range priorClaimIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_spans WHERE claim_id = ?`, id); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: delete prior evidence", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM claims_fts WHERE claim_id = ?`, id); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: delete prior claims_fts", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_fts WHERE claim_id = ?`, id); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: delete prior evidence_fts", err)
		}
	}

	tables := []string{"claims", "people", "concepts", "jargon", "relations"}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE episode_id = ? AND job_type = ?`, table), episodeID, jobType); err != nil {
			return errs.Wrap(errs.DatabaseError, fmt.Sprintf("store: delete prior %s", table), err)
		}
	}
	return nil
}

func insertClaims(ctx context.Context, tx *sql.Tx, episodeID, jobType string, claims []Claim) error {
	for _, c := range claims {
		if len(c.Evidence) == 0 {
			return errs.New(errs.IntegrityError, fmt.Sprintf("store: claim %s has no evidence spans", c.ClaimID))
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO claims (claim_id, episode_id, segment_id, job_type, canonical_text, raw_text, tier, scoring_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ClaimID, episodeID, c.SegmentID, jobType, c.CanonicalText, c.RawText, c.Tier, orEmptyJSON(c.ScoringJSON), nowStringOr(c.CreatedAt)); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert claim", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO claims_fts (claim_id, canonical_text) VALUES (?, ?)`, c.ClaimID, c.CanonicalText); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert claims_fts", err)
		}
		for _, ev := range c.Evidence {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO evidence_spans (span_id, claim_id, segment_id, char_start, char_end, quote)
				VALUES (?, ?, ?, ?, ?, ?)
			`, ev.SpanID, c.ClaimID, ev.SegmentID, ev.CharStart, ev.CharEnd, ev.Quote); err != nil {
				return errs.Wrap(errs.DatabaseError, "store: insert evidence span", err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO evidence_fts (span_id, claim_id, quote) VALUES (?, ?, ?)`, ev.SpanID, c.ClaimID, ev.Quote); err != nil {
				return errs.Wrap(errs.DatabaseError, "store: insert evidence_fts", err)
			}
		}
	}
	return nil
}

func insertPeople(ctx context.Context, tx *sql.Tx, episodeID, jobType string, people []Person) error {
	for _, p := range people {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO people (person_id, episode_id, job_type, display_name, role, mentions_json, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, p.PersonID, episodeID, jobType, p.DisplayName, p.Role, orEmptyArrayJSON(p.MentionsJSON), p.Description, nowStringOr(p.CreatedAt)); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert person", err)
		}
	}
	return nil
}

func insertConcepts(ctx context.Context, tx *sql.Tx, episodeID, jobType string, concepts []Concept) error {
	for _, c := range concepts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO concepts (concept_id, episode_id, job_type, name, definition, first_segment_id, supporting_evidence_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ConceptID, episodeID, jobType, c.Name, c.Definition, c.FirstSegmentID, orEmptyArrayJSON(c.SupportingEvidenceJSON), nowStringOr(c.CreatedAt)); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert concept", err)
		}
	}
	return nil
}

func insertJargon(ctx context.Context, tx *sql.Tx, episodeID, jobType string, jargon []JargonTerm) error {
	for _, j := range jargon {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO jargon (jargon_id, episode_id, job_type, term, definition, first_segment_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, j.JargonID, episodeID, jobType, j.Term, j.Definition, j.FirstSegmentID, nowStringOr(j.CreatedAt)); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert jargon", err)
		}
	}
	return nil
}

func insertRelations(ctx context.Context, tx *sql.Tx, episodeID, jobType string, relations []Relation) error {
	for _, r := range relations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations (relation_id, episode_id, job_type, from_claim, to_claim, kind, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, r.RelationID, episodeID, jobType, r.FromClaim, r.ToClaim, r.Kind, r.Weight); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert relation", err)
		}
	}
	return nil
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}

func orEmptyArrayJSON(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}
