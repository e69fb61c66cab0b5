package store

import "context"

// GetEpisodeBundle returns an episode with its segments in order.
func (s *Store) GetEpisodeBundle(ctx context.Context, episodeID string) (*EpisodeBundle, error) {
	ep, err := s.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	segments, err := s.GetSegments(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	return &EpisodeBundle{Episode: *ep, Segments: segments}, nil
}
