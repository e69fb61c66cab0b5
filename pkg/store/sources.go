package store

import (
	"context"
	"database/sql"

	"github.com/knowledgechipper/core/pkg/errs"
)

// UpsertSource inserts or updates a media source row. Never duplicates:
// re-ingesting the same source_id updates the existing row in place.
func (s *Store) UpsertSource(ctx context.Context, src Source) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO media_sources (source_id, source_type, title, uploader, duration_s, url, file_hash_sha256, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			source_type = excluded.source_type,
			title = excluded.title,
			uploader = excluded.uploader,
			duration_s = excluded.duration_s,
			url = excluded.url,
			file_hash_sha256 = excluded.file_hash_sha256
	`, src.SourceID, src.SourceType, src.Title, src.Uploader, src.DurationS, src.URL, src.FileHashSHA256, nowStringOr(src.CreatedAt))
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: upsert_source", err)
	}
	return nil
}

// UpsertEpisode inserts or updates the episode paired 1:1 with a source
//.
func (s *Store) UpsertEpisode(ctx context.Context, ep Episode) error {
	if ep.Language == "" {
		ep.Language = "en"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (episode_id, title, language, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
			title = excluded.title,
			language = excluded.language
	`, ep.EpisodeID, ep.Title, ep.Language, nowStringOr(ep.CreatedAt))
	if err != nil {
		return errs.Wrap(errs.DatabaseError, "store: upsert_episode", err)
	}
	return nil
}

// GetEpisode fetches a single episode row, failing with errs.NotFound if it
// does not exist.
func (s *Store) GetEpisode(ctx context.Context, episodeID string) (*Episode, error) {
	var ep Episode
	err := s.db.QueryRowContext(ctx, `SELECT episode_id, title, language, created_at FROM episodes WHERE episode_id = ?`, episodeID).
		Scan(&ep.EpisodeID, &ep.Title, &ep.Language, &ep.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "store: episode "+episodeID+" not found")
	}
	if err != nil {
		return nil, errs.Wrap(errs.DatabaseError, "store: get_episode", err)
	}
	return &ep, nil
}

func nowStringOr(v string) string {
	if v != "" {
		return v
	}
	return nowString()
}
