package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/knowledgechipper/core/pkg/ids"
	"github.com/knowledgechipper/core/pkg/store"
)

// bundleWire is the episode bundle JSON shape handed over by the
// transcription collaborator.
type bundleWire struct {
	SourceID   string        `json:"source_id"`
	SourceType string        `json:"source_type"`
	Title      string        `json:"title"`
	Language   string        `json:"language"`
	DurationS  *float64      `json:"duration_s"`
	Uploader   string        `json:"uploader"`
	URL        string        `json:"url"`
	Segments   []segmentWire `json:"segments"`

	// FeedURL/GUID let a caller ingest an rss item whose source_id wasn't
	// already computed upstream (pkg/ids.RSSItem needs both).
	FeedURL string `json:"feed_url"`
	GUID    string `json:"guid"`
	// VideoID mirrors SourceID for youtube bundles that name the field
	// explicitly rather than pre-computing source_id.
	VideoID string `json:"video_id"`
}

type segmentWire struct {
	SegmentID string  `json:"segment_id"`
	StartS    float64 `json:"start_s"`
	EndS      float64 `json:"end_s"`
	Speaker   *string `json:"speaker"`
	Text      string  `json:"text"`
}

// IngestCmd ingests an episode bundle, computing the source_id via pkg/ids
// when the bundle didn't already supply one, then upserting the source,
// episode, and segments. Ingest is idempotent: the same bundle twice leaves
// a single source and episode.
type IngestCmd struct {
	Bundle string `arg:"" help:"Path to an episode bundle JSON file." type:"existingfile"`
}

func (c *IngestCmd) Run(cli *CLI) error {
	raw, err := os.ReadFile(c.Bundle)
	if err != nil {
		return fmt.Errorf("chipper: reading bundle: %w", err)
	}

	var w bundleWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return fmt.Errorf("chipper: bundle is not valid JSON: %w", err)
	}

	sourceID, err := resolveSourceID(w)
	if err != nil {
		return err
	}

	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	if err := a.store.UpsertSource(ctx, store.Source{
		SourceID:   sourceID,
		SourceType: w.SourceType,
		Title:      w.Title,
		Uploader:   w.Uploader,
		DurationS:  w.DurationS,
		URL:        nonEmptyPtr(w.URL),
	}); err != nil {
		return fmt.Errorf("chipper: upsert_source: %w", err)
	}

	language := w.Language
	if language == "" {
		language = "en"
	}
	if err := a.store.UpsertEpisode(ctx, store.Episode{
		EpisodeID: sourceID,
		Title:     w.Title,
		Language:  language,
	}); err != nil {
		return fmt.Errorf("chipper: upsert_episode: %w", err)
	}

	segments := make([]store.Segment, len(w.Segments))
	for i, s := range w.Segments {
		segments[i] = store.Segment{
			SegmentID: s.SegmentID,
			EpisodeID: sourceID,
			StartS:    s.StartS,
			EndS:      s.EndS,
			Speaker:   s.Speaker,
			Text:      s.Text,
		}
	}
	if len(segments) > 0 {
		if err := a.store.ReplaceSegments(ctx, sourceID, segments); err != nil {
			return fmt.Errorf("chipper: replace_segments: %w", err)
		}
	}

	fmt.Printf("ingested episode %s (%d segments)\n", sourceID, len(segments))
	return nil
}

// resolveSourceID returns the bundle's source_id, computing it via pkg/ids
// when the bundle didn't already supply one. Local audio/video
// hashing needs the original file bytes, which a text-only bundle never
// carries, so those source types must arrive with source_id already set by
// their upstream collaborator.
func resolveSourceID(w bundleWire) (string, error) {
	if w.SourceID != "" {
		return w.SourceID, nil
	}

	switch ids.SourceType(w.SourceType) {
	case ids.SourceYouTube:
		if w.VideoID == "" {
			return "", fmt.Errorf("chipper: youtube bundle needs source_id or video_id")
		}
		return ids.YouTube(w.VideoID), nil
	case ids.SourceDocument:
		return ids.Document(normalizeDocumentText(w.Segments)), nil
	case ids.SourceRSS:
		if w.FeedURL == "" || w.GUID == "" {
			return "", fmt.Errorf("chipper: rss bundle needs source_id or both feed_url and guid")
		}
		return ids.RSSItem(w.FeedURL, w.GUID), nil
	case ids.SourceAudio, ids.SourceVideo:
		return "", fmt.Errorf("chipper: %s bundles must supply source_id (computed by the transcription collaborator from file bytes)", w.SourceType)
	default:
		return "", fmt.Errorf("chipper: unsupported source_type %q", w.SourceType)
	}
}

func normalizeDocumentText(segments []segmentWire) string {
	parts := make([]string, len(segments))
	for i, s := range segments {
		parts[i] = strings.Join(strings.Fields(s.Text), " ")
	}
	return strings.Join(parts, "\n")
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
