package main

import (
	"context"
	"fmt"

	"github.com/knowledgechipper/core/pkg/store"
	"github.com/knowledgechipper/core/pkg/summarize"
)

// SearchCmd is full-text search over claim canonical_text (claims_fts).
type SearchCmd struct {
	Query     string `arg:"" help:"FTS5 query (supports AND/OR/quoted phrases)."`
	Episode   string `help:"Restrict to one episode_id."`
	MinTier   string `name:"min-tier" help:"Minimum tier to include (A, B, or C)."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ids, err := a.store.SearchClaims(context.Background(), c.Query, store.ClaimSearchFilters{
		EpisodeID: c.Episode,
		MinTier:   c.MinTier,
	})
	if err != nil {
		return fmt.Errorf("chipper: search_claims: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

// SummarizeCmd prints the short/long summaries composed from an episode's
// already-tiered claims.
type SummarizeCmd struct {
	Episode string `arg:"" help:"episode_id to summarize."`
	JobType string `name:"job-type" default:"flagship" help:"job_type partition to summarize (default flagship)."`
	Long    bool   `help:"Print the long (A+B tier) summary instead of the short (A tier only) one."`
}

func (c *SummarizeCmd) Run(cli *CLI) error {
	a, err := openApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	s := summarize.New(a.store)
	summary, err := s.Summarize(context.Background(), c.Episode, c.JobType)
	if err != nil {
		return fmt.Errorf("chipper: summarize: %w", err)
	}

	if c.Long {
		if summary.LongN == 0 {
			fmt.Println("(no A/B-tier claims yet)")
			return nil
		}
		fmt.Println(summary.Long)
		return nil
	}
	if summary.ShortN == 0 {
		fmt.Println("(no A-tier claims yet)")
		return nil
	}
	fmt.Println(summary.Short)
	return nil
}
