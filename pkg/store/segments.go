package store

import (
	"context"
	"fmt"

	"github.com/knowledgechipper/core/pkg/errs"
)

// ReplaceSegments atomically deletes an episode's existing segments and
// inserts the given ones, validating first that they are sorted and
// non-overlapping (segments[i].end_s <= segments[i+1].start_s).
func (s *Store) ReplaceSegments(ctx context.Context, episodeID string, segments []Segment) error {
	if err := validateSegmentOrder(segments); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: begin replace_segments", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE episode_id = ?`, episodeID); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: delete prior segments", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (segment_id, episode_id, start_s, end_s, speaker, text, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: prepare segment insert", err)
	}
	defer stmt.Close()

	for i, seg := range segments {
		if _, err := stmt.ExecContext(ctx, seg.SegmentID, episodeID, seg.StartS, seg.EndS, seg.Speaker, seg.Text, i); err != nil {
			return errs.Wrap(errs.DatabaseError, "store: insert segment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.DatabaseError, "store: commit replace_segments", err)
	}
	return nil
}

func validateSegmentOrder(segments []Segment) error {
	for i, seg := range segments {
		// start_s = end_s = 0 marks a synthetic timestamp: text was segmented
		// without a known duration.
		synthetic := seg.StartS == 0 && seg.EndS == 0
		if !synthetic && seg.EndS <= seg.StartS {
			return errs.New(errs.IntegrityError, fmt.Sprintf("store: segment %s has end_s <= start_s", seg.SegmentID))
		}
		if i > 0 && seg.StartS < segments[i-1].EndS {
			return errs.New(errs.IntegrityError, fmt.Sprintf("store: segment %s overlaps with preceding segment", seg.SegmentID))
		}
	}
	return nil
}

// GetSegments returns an episode's segments in order.
func (s *Store) GetSegments(ctx context.Context, episodeID string) ([]Segment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, episode_id, start_s, end_s, speaker, text, seq
		FROM segments WHERE episode_id = ? ORDER BY seq
	`, episodeID)
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get_segments", err)
	}
	defer rows.Close()

	var out []Segment
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.SegmentID, &seg.EpisodeID, &seg.StartS, &seg.EndS, &seg.Speaker, &seg.Text, &seg.Seq); err != nil {
			return nil, errs.Wrap(errs.DatabaseError, "store: scan segment", err)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
