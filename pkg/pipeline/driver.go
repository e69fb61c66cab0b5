// Package pipeline is the pipeline driver: given an episode and a
// stage, it segments (if needed), mines every segment in parallel, tiers the
// aggregated candidates through the Evaluator/Router, and persists the
// result, checkpointing progress so a cancelled or crashed run can resume.
//
// The worker pool is a bounded golang.org/x/sync errgroup + semaphore, the
// same idiom pkg/llms uses for per-provider concurrency, applied here to
// segment tasks instead of provider calls.
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/knowledgechipper/core/pkg/checkpoint"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/evaluator"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/resource"
	"github.com/knowledgechipper/core/pkg/store"
)

// memoryWaitTimeout/memoryWaitInterval shape the backpressure policy: pause
// submission while the memory gate denies, fail with ResourceExhausted if it
// doesn't clear within 30s.
const (
	memoryWaitTimeout  = 30 * time.Second
	memoryWaitInterval = 500 * time.Millisecond
)

// RunInput describes one pipeline driver invocation. JobID keys the durable
// staging rows that let a resumed run skip already-mined segments; JobRunID
// keys the run's checkpoints; JobType is the job_type partition the results
// are persisted under (e.g. "mine" or "flagship" — each stage writes to its
// own partition of the claims/people/concepts/jargon tables, so a fast
// "mine"-stage pass and a thorough "flagship"-stage pass never clobber each
// other).
type RunInput struct {
	JobID        string
	JobRunID     string
	JobType      string
	EpisodeID    string
	EpisodeTitle string

	// RawText/DurationS seed segmentation when the episode has no segments
	// of its own yet; ignored otherwise.
	RawText   string
	DurationS *float64

	MaxWorkers      int
	CheckpointEvery int
}

// RunResult summarizes one completed (or cancelled/failed) run.
type RunResult struct {
	SegmentCount   int
	FailedSegments int
	ClaimCount     int
	PersonCount    int
	ConceptCount   int
	JargonCount    int
}

// Driver drives one stage of extraction for one episode.
type Driver struct {
	store     *store.Store
	miner     *miner.Miner
	evaluator *evaluator.Router
	governor  *resource.Governor
	checkpts  *checkpoint.Manager
}

// New builds a Driver. miner and router must already be configured for the
// stage this Driver will run (e.g. the orchestrator builds a lightweight-
// only Router for a "mine" stage and a fully-routed one for "flagship").
func New(s *store.Store, m *miner.Miner, r *evaluator.Router, g *resource.Governor, ck *checkpoint.Manager) *Driver {
	return &Driver{store: s, miner: m, evaluator: r, governor: g, checkpts: ck}
}

// Run drives one stage's extraction for one episode.
func (d *Driver) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	segs, err := d.store.GetSegments(ctx, in.EpisodeID)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		if in.RawText == "" {
			return nil, errs.New(errs.InvalidInput, "pipeline: episode has no segments and no raw text to segment")
		}
		segs = SplitText(in.EpisodeID, in.RawText, in.DurationS)
		if len(segs) == 0 {
			return nil, errs.New(errs.InvalidInput, "pipeline: segmentation produced no segments")
		}
		if err := d.store.ReplaceSegments(ctx, in.EpisodeID, segs); err != nil {
			return nil, err
		}
	}

	segByID := make(map[string]store.Segment, len(segs))
	seq := make(map[string]int, len(segs))
	for _, s := range segs {
		segByID[s.SegmentID] = s
		seq[s.SegmentID] = s.Seq
	}

	// Resume: segments with a durably staged output for this (job, stage)
	// are skipped; their candidates are restored from the staging table
	// instead of re-mined.
	stagedRows, err := d.store.GetStagedOutputs(ctx, in.JobID, in.JobType)
	if err != nil {
		return nil, err
	}
	stagedByID := make(map[string]store.StagedOutput, len(stagedRows))
	for _, row := range stagedRows {
		stagedByID[row.SegmentID] = row
	}

	done := make([]bool, len(segs))
	outputs := make([]*miner.Output, 0, len(segs))
	var failed int
	var pending []store.Segment
	for _, s := range segs {
		row, ok := stagedByID[s.SegmentID]
		if !ok {
			pending = append(pending, s)
			continue
		}
		if s.Seq >= 0 && s.Seq < len(done) {
			done[s.Seq] = true
		}
		if row.Failed {
			failed++
		}
		out := &miner.Output{SegmentID: s.SegmentID}
		if err := json.Unmarshal([]byte(row.OutputJSON), out); err != nil {
			out = &miner.Output{SegmentID: s.SegmentID, ErrorCode: errs.ValidationFailed}
		}
		out.SegmentID = s.SegmentID
		outputs = append(outputs, out)
	}

	workerCount := 1
	if d.governor != nil {
		workerCount = d.governor.WorkerCount(in.MaxWorkers)
	}

	var mu sync.Mutex
	completed := len(stagedRows)
	prefixEnd := -1
	advancePrefix := func() int {
		for prefixEnd+1 < len(done) && done[prefixEnd+1] {
			prefixEnd++
		}
		return prefixEnd
	}
	advancePrefix()

	sem := semaphore.NewWeighted(int64(workerCount))
	var group errgroup.Group

	var resourceExhausted bool

	for _, seg := range pending {
		seg := seg

		if ctx.Err() != nil {
			break
		}
		if d.governor != nil {
			if gate, _ := d.governor.CheckMemory(); gate == resource.GateDeny {
				ok, _ := d.governor.WaitForMemory(ctx, memoryWaitTimeout, memoryWaitInterval)
				if !ok {
					resourceExhausted = true
					break
				}
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		group.Go(func() error {
			defer sem.Release(1)

			if ctx.Err() != nil {
				// Abandoned, not failed: the segment stays unstaged so a
				// resumed run re-mines it.
				return nil
			}

			out, mineErr := d.miner.Mine(ctx, in.EpisodeTitle, seg)
			if mineErr != nil && (errs.Is(mineErr, errs.Cancelled) || ctx.Err() != nil) {
				return nil
			}
			segFailed := mineErr != nil || (out != nil && out.ErrorCode != "")
			if out == nil {
				code := errs.CodeOf(mineErr)
				if code == "" {
					code = errs.LLMAPIError
				}
				out = &miner.Output{SegmentID: seg.SegmentID, ErrorCode: code}
			}

			payload, _ := json.Marshal(out)
			if err := d.store.StageSegmentOutput(ctx, store.StagedOutput{
				JobID: in.JobID, JobType: in.JobType,
				SegmentID: seg.SegmentID, Seq: seg.Seq,
				Failed: segFailed, OutputJSON: string(payload),
			}); err != nil {
				// Not durable, so not counted; a resumed run redoes it.
				return nil
			}

			mu.Lock()
			outputs = append(outputs, out)
			done[seg.Seq] = true
			completed++
			if segFailed {
				failed++
			}
			n := completed
			last := advancePrefix()
			mu.Unlock()

			if d.checkpts != nil && checkpointDue(n, in.CheckpointEvery) {
				_ = d.checkpts.Save(ctx, in.JobRunID, checkpoint.State{
					Stage:          in.JobType,
					LastSegment:    last,
					PartialResults: map[string]int{"segments_completed": n},
				})
			}
			return nil
		})
	}
	_ = group.Wait()

	result := &RunResult{
		SegmentCount:   len(segs),
		FailedSegments: failed,
	}

	if resourceExhausted || ctx.Err() != nil {
		// Interrupted: leave staged outputs in place and checkpoint the
		// durable prefix so resume_job can pick up from here.
		if d.checkpts != nil && completed > 0 {
			_ = d.checkpts.Save(context.Background(), in.JobRunID, checkpoint.State{
				Stage:          in.JobType,
				LastSegment:    advancePrefix(),
				PartialResults: map[string]int{"segments_completed": completed},
			})
		}
		if resourceExhausted {
			return result, errs.New(errs.ResourceExhausted, "pipeline: memory gate denied for over 30s, run paused and checkpointed")
		}
		return result, errs.New(errs.Cancelled, "pipeline: run cancelled")
	}

	if len(segs) > 0 && failed*2 > len(segs) {
		// Keep the successful staged outputs but drop the failed ones, so a
		// resume retries only the segments that failed once the underlying
		// cause (typically a provider outage) clears.
		_ = d.store.DeleteFailedStagedOutputs(context.Background(), in.JobID)
		return result, errs.New(errs.ProcessingFailed, "pipeline: more than 50% of segments failed")
	}

	sortBySeq(outputs, seq)

	agg := aggregate(outputs, segByID, seq)
	claims := d.evaluator.EvaluateClaims(ctx, in.EpisodeTitle, agg.Claims)
	people := d.evaluator.EvaluatePeople(ctx, in.EpisodeTitle, agg.People)
	concepts := d.evaluator.EvaluateConcepts(ctx, in.EpisodeTitle, agg.Concepts)
	jargon := d.evaluator.EvaluateJargon(ctx, in.EpisodeTitle, agg.Jargon)

	if err := d.store.UpsertPipelineOutputs(context.Background(), in.EpisodeID, in.JobType, store.PipelineOutputs{
		Claims: claims, People: people, Concepts: concepts, Jargon: jargon,
	}); err != nil {
		return nil, err
	}
	if err := d.store.DeleteStagedOutputs(context.Background(), in.JobID); err != nil {
		return nil, err
	}

	if d.checkpts != nil && completed > 0 {
		_ = d.checkpts.Save(context.Background(), in.JobRunID, checkpoint.State{
			Stage:          in.JobType,
			LastSegment:    advancePrefix(),
			PartialResults: map[string]int{"segments_completed": completed},
		})
	}

	result.ClaimCount = len(claims)
	result.PersonCount = len(people)
	result.ConceptCount = len(concepts)
	result.JargonCount = len(jargon)
	return result, nil
}

func checkpointDue(completed, every int) bool {
	if every <= 0 {
		every = 5
	}
	return completed > 0 && completed%every == 0
}

func sortBySeq(outputs []*miner.Output, seq map[string]int) {
	for i := 1; i < len(outputs); i++ {
		for j := i; j > 0 && seq[outputs[j-1].SegmentID] > seq[outputs[j].SegmentID]; j-- {
			outputs[j-1], outputs[j] = outputs[j], outputs[j-1]
		}
	}
}
