// Package orchestrator owns the job lifecycle: stage chaining for
// job_type=pipeline, staged-output resume, prometheus metrics on run
// completion, and the global job-concurrency semaphore. Providers are
// resolved from the llms.Registry using the job config's *_model fields
// directly as registry keys.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/knowledgechipper/core/pkg/checkpoint"
	"github.com/knowledgechipper/core/pkg/config"
	"github.com/knowledgechipper/core/pkg/errs"
	"github.com/knowledgechipper/core/pkg/evaluator"
	"github.com/knowledgechipper/core/pkg/llms"
	"github.com/knowledgechipper/core/pkg/miner"
	"github.com/knowledgechipper/core/pkg/pipeline"
	"github.com/knowledgechipper/core/pkg/resource"
	"github.com/knowledgechipper/core/pkg/schema"
	"github.com/knowledgechipper/core/pkg/store"
)

// defaultMaxTokens is used for miner/evaluator calls when no more specific
// budget is configured; it matches config.ProviderConfig's own default so
// job-level and provider-level defaults agree.
const defaultMaxTokens = 4096

// JobResult is returned by ProcessJob/ResumeJob.
type JobResult struct {
	JobID        string
	Status       string // succeeded | failed
	ErrorCode    errs.Code
	ErrorMessage string
	SegmentCount int
	ClaimCount   int
}

// Orchestrator drives jobs through the queued/running/succeeded/failed
// state machine.
type Orchestrator struct {
	store       *store.Store
	llmRegistry *llms.Registry
	validator   *schema.Validator
	governor    *resource.Governor
	checkpts    *checkpoint.Manager
	metrics     *Metrics

	jobSem *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Orchestrator. maxConcurrentJobs bounds how many jobs may run
// at once; 0 derives it from the Resource
// Governor.
func New(s *store.Store, reg *llms.Registry, v *schema.Validator, g *resource.Governor, ck *checkpoint.Manager, m *Metrics, maxConcurrentJobs int) *Orchestrator {
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = g.WorkerCount(0)
	}
	return &Orchestrator{
		store: s, llmRegistry: reg, validator: v, governor: g, checkpts: ck, metrics: m,
		jobSem:  semaphore.NewWeighted(int64(maxConcurrentJobs)),
		cancels: make(map[string]context.CancelFunc),
	}
}

// CreateJob persists a new queued job.
func (o *Orchestrator) CreateJob(ctx context.Context, jobType config.JobType, inputID string, cfg config.JobConfig) (string, error) {
	if err := cfg.Validate(jobType); err != nil {
		return "", errs.Wrap(errs.InvalidConfig, "orchestrator: invalid job config", err)
	}
	cfg.SetDefaults()
	payload, err := json.Marshal(cfg)
	if err != nil {
		return "", errs.Wrap(errs.InvalidConfig, "orchestrator: marshal job config", err)
	}

	jobID := uuid.NewString()
	if err := o.store.InsertJob(ctx, store.Job{JobID: jobID, JobType: string(jobType), InputID: inputID, ConfigJSON: string(payload)}); err != nil {
		return "", err
	}
	return jobID, nil
}

// ProcessJob transitions a queued job to running and drives it to a
// terminal state.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) (*JobResult, error) {
	return o.run(ctx, jobID, false)
}

// ResumeJob re-enters a job after an interrupted or failed prior run. A
// job still in "running" (the prior process was killed)
// continues as-is; a "failed" job (cancelled, resource-exhausted) is
// reopened to "running" first. Segments whose outputs were durably staged by
// the prior run are skipped by the stage handler.
func (o *Orchestrator) ResumeJob(ctx context.Context, jobID string) (*JobResult, error) {
	return o.run(ctx, jobID, true)
}

// CancelJob sets the cooperative cancellation flag for a running job. It is
// a no-op if the job isn't currently being processed by this Orchestrator
// instance.
func (o *Orchestrator) CancelJob(jobID string) {
	o.mu.Lock()
	cancel, ok := o.cancels[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
}

func (o *Orchestrator) run(ctx context.Context, jobID string, resume bool) (*JobResult, error) {
	if err := o.jobSem.Acquire(ctx, 1); err != nil {
		return nil, errs.Wrap(errs.Cancelled, "orchestrator: job concurrency wait cancelled", err)
	}
	defer o.jobSem.Release(1)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if !resume {
		if err := o.store.TransitionJob(ctx, jobID, "running"); err != nil {
			return nil, err
		}
	} else if job.Status == "failed" || job.Status == "queued" {
		if err := o.store.TransitionJob(ctx, jobID, "running"); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, jobID)
		o.mu.Unlock()
		cancel()
	}()

	var cfg config.JobConfig
	if job.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, "orchestrator: unmarshal job config", err)
		}
	}
	cfg.SetDefaults()

	var result *JobResult
	if config.JobType(job.JobType) == config.JobPipeline {
		result, err = o.runPipeline(runCtx, job, cfg)
	} else {
		result, err = o.runStage(runCtx, job, config.JobType(job.JobType), cfg)
	}

	finalStatus := "succeeded"
	if err != nil {
		finalStatus = "failed"
	}
	if transErr := o.store.TransitionJob(context.Background(), jobID, finalStatus); transErr != nil {
		slog.Error("orchestrator: failed to transition job to terminal status", "job_id", jobID, "error", transErr)
	}
	return result, err
}

// runPipeline chains stages: they run sequentially,
// each as its own sub-job, a downstream stage starting only once the
// upstream stage's JobRun succeeds; any stage failure fails the pipeline job
// and stops remaining stages.
func (o *Orchestrator) runPipeline(ctx context.Context, job *store.Job, cfg config.JobConfig) (*JobResult, error) {
	jobRunID := uuid.NewString()
	if err := o.store.InsertJobRun(ctx, store.JobRun{JobRunID: jobRunID, JobID: job.JobID}); err != nil {
		return nil, err
	}
	start := time.Now()

	var lastResult *JobResult
	for _, stageName := range cfg.Stages {
		if ctx.Err() != nil {
			o.finishRun(jobRunID, "pipeline", ctx.Err(), 0, 0, 0, nil, time.Since(start))
			return lastResult, errs.New(errs.Cancelled, "orchestrator: pipeline cancelled before stage "+stageName)
		}

		stage := config.JobType(stageName)
		subCfg := cfg
		subCfg.Stages = nil
		payload, err := json.Marshal(subCfg)
		if err != nil {
			o.finishRun(jobRunID, "pipeline", err, 0, 0, 0, nil, time.Since(start))
			return lastResult, errs.Wrap(errs.InvalidConfig, "orchestrator: marshal sub-stage config", err)
		}

		subJobID := uuid.NewString()
		if err := o.store.InsertJob(ctx, store.Job{JobID: subJobID, JobType: stageName, InputID: job.InputID, ConfigJSON: string(payload)}); err != nil {
			o.finishRun(jobRunID, "pipeline", err, 0, 0, 0, nil, time.Since(start))
			return lastResult, err
		}
		if err := o.store.TransitionJob(ctx, subJobID, "running"); err != nil {
			o.finishRun(jobRunID, "pipeline", err, 0, 0, 0, nil, time.Since(start))
			return lastResult, err
		}
		subJob, err := o.store.GetJob(ctx, subJobID)
		if err != nil {
			o.finishRun(jobRunID, "pipeline", err, 0, 0, 0, nil, time.Since(start))
			return lastResult, err
		}

		res, stageErr := o.runStage(ctx, subJob, stage, subCfg)

		subFinal := "succeeded"
		if stageErr != nil {
			subFinal = "failed"
		}
		if err := o.store.TransitionJob(ctx, subJobID, subFinal); err != nil {
			slog.Error("orchestrator: failed to transition sub-job", "job_id", subJobID, "error", err)
		}

		if stageErr != nil {
			o.finishRun(jobRunID, "pipeline", stageErr, 0, 0, 0, nil, time.Since(start))
			return res, errs.Wrap(errs.ProcessingFailed, fmt.Sprintf("orchestrator: pipeline stage %q failed", stageName), stageErr)
		}
		lastResult = res
	}

	o.finishRun(jobRunID, "pipeline", nil, 0, 0, 0, nil, time.Since(start))
	return lastResult, nil
}

// runStage executes a single stage (transcribe, mine, or flagship) for one
// job, wiring a fresh Miner/Evaluator pair scoped to that stage's routing
// policy.
func (o *Orchestrator) runStage(ctx context.Context, job *store.Job, stage config.JobType, cfg config.JobConfig) (*JobResult, error) {
	jobRunID := uuid.NewString()
	if err := o.store.InsertJobRun(ctx, store.JobRun{JobRunID: jobRunID, JobID: job.JobID}); err != nil {
		return nil, err
	}
	start := time.Now()

	if stage == config.JobTranscribe {
		// Transcription is an external collaborator;
		// this stage only verifies the episode already has segments to
		// hand off to "mine".
		segs, err := o.store.GetSegments(ctx, job.InputID)
		if err != nil {
			o.finishRun(jobRunID, string(stage), err, 0, 0, 0, nil, time.Since(start))
			return nil, err
		}
		if len(segs) == 0 {
			err := errs.New(errs.InvalidInput, "orchestrator: transcribe stage found no pre-existing segments for "+job.InputID)
			o.finishRun(jobRunID, string(stage), err, 0, 0, 0, nil, time.Since(start))
			return nil, err
		}
		o.finishRun(jobRunID, string(stage), nil, len(segs), 0, 0, nil, time.Since(start))
		return &JobResult{JobID: job.JobID, Status: "succeeded", SegmentCount: len(segs)}, nil
	}

	episode, err := o.store.GetEpisode(ctx, job.InputID)
	if err != nil {
		o.finishRun(jobRunID, string(stage), err, 0, 0, 0, nil, time.Since(start))
		return nil, err
	}

	driver, workerCount, err := o.buildDriver(stage, cfg, jobRunID)
	if err != nil {
		o.finishRun(jobRunID, string(stage), err, 0, 0, 0, nil, time.Since(start))
		return nil, err
	}

	res, runErr := driver.Run(ctx, pipeline.RunInput{
		JobID: job.JobID, JobRunID: jobRunID, JobType: string(stage),
		EpisodeID: job.InputID, EpisodeTitle: episode.Title,
		MaxWorkers: cfg.MaxWorkers, CheckpointEvery: cfg.CheckpointEvery,
	})

	entityCounts := map[string]int{}
	segCount, claimCount := 0, 0
	if res != nil {
		segCount = res.SegmentCount
		claimCount = res.ClaimCount
		entityCounts["claims"] = res.ClaimCount
		entityCounts["people"] = res.PersonCount
		entityCounts["concepts"] = res.ConceptCount
		entityCounts["jargon"] = res.JargonCount
	}

	o.finishRun(jobRunID, string(stage), runErr, segCount, claimCount, workerCount, entityCounts, time.Since(start))
	if runErr != nil {
		return nil, runErr
	}
	return &JobResult{JobID: job.JobID, Status: "succeeded", SegmentCount: segCount, ClaimCount: claimCount}, nil
}

// buildDriver resolves the stage's miner/evaluator providers from the
// registry (keyed by the job config's "provider:model" URI strings) and
// wraps them for audit logging before constructing a pipeline.Driver.
func (o *Orchestrator) buildDriver(stage config.JobType, cfg config.JobConfig, jobRunID string) (*pipeline.Driver, int, error) {
	minerProvider, err := o.llmRegistry.MustGet(cfg.MinerModel)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InvalidConfig, "orchestrator: resolve miner_model", err)
	}
	lightweightProvider, err := o.llmRegistry.MustGet(cfg.LightweightModel)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InvalidConfig, "orchestrator: resolve lightweight_model", err)
	}
	flagshipProvider, err := o.llmRegistry.MustGet(cfg.FlagshipModel)
	if err != nil {
		return nil, 0, errs.Wrap(errs.InvalidConfig, "orchestrator: resolve flagship_model", err)
	}

	auditedMiner := llms.NewAuditedProvider(minerProvider, o.store, jobRunID)
	auditedLW := llms.NewAuditedProvider(lightweightProvider, o.store, jobRunID)
	auditedFS := llms.NewAuditedProvider(flagshipProvider, o.store, jobRunID)

	m := miner.New(auditedMiner, o.validator, cfg.Temperature, defaultMaxTokens)

	routing := routingForStage(stage, cfg)
	band := config.DefaultUncertaintyBand()
	if cfg.UncertaintyBand != nil {
		band = *cfg.UncertaintyBand
	}
	r := evaluator.New(auditedLW, auditedFS, o.validator, routing, band)

	workerCount := o.governor.WorkerCount(cfg.MaxWorkers)
	return pipeline.New(o.store, m, r, o.governor, o.checkpts), workerCount, nil
}

// routingForStage: "mine" always evaluates lightweight-only (a fast, cheap
// first pass); "flagship" uses the job's fully configured routing policy.
func routingForStage(stage config.JobType, cfg config.JobConfig) map[config.EntityKind]config.RoutingPolicy {
	if stage == config.JobMine {
		return map[config.EntityKind]config.RoutingPolicy{
			config.EntityClaim:   config.RouteLightweight,
			config.EntityPerson:  config.RouteLightweight,
			config.EntityJargon:  config.RouteLightweight,
			config.EntityConcept: config.RouteLightweight,
		}
	}
	return cfg.RoutingPolicy
}

// finishRun updates a run's terminal status and metrics, and records the
// corresponding Prometheus observations.
func (o *Orchestrator) finishRun(jobRunID, jobType string, runErr error, segments, claims, workers int, entityCounts map[string]int, duration time.Duration) {
	ctx := context.Background()
	run, err := o.store.GetJobRun(ctx, jobRunID)
	if err != nil {
		slog.Error("orchestrator: failed to load job run for completion", "job_run_id", jobRunID, "error", err)
		return
	}

	status := "succeeded"
	var errCode, errMsg *string
	if runErr != nil {
		status = "failed"
		code := string(errs.CodeOf(runErr))
		if code == "" {
			code = string(errs.ProcessingFailed)
		}
		msg := runErr.Error()
		errCode, errMsg = &code, &msg
	}

	tokens, err := o.store.SumTokensForRun(ctx, jobRunID)
	if err != nil {
		slog.Warn("orchestrator: failed to sum tokens for run", "job_run_id", jobRunID, "error", err)
	}

	metrics := map[string]interface{}{
		"total_tokens":     tokens,
		"total_latency_ms": duration.Milliseconds(),
		"segment_count":    segments,
		"worker_count":     workers,
		"entity_counts":    entityCounts,
	}
	metricsJSON, _ := json.Marshal(metrics)
	metricsStr := string(metricsJSON)

	completedAt := time.Now().UTC().Format(time.RFC3339)
	run.Status = status
	run.CompletedAt = &completedAt
	run.MetricsJSON = &metricsStr
	run.ErrorCode = errCode
	run.ErrorMessage = errMsg

	if err := o.store.UpdateJobRun(ctx, *run); err != nil {
		slog.Error("orchestrator: failed to persist job run completion", "job_run_id", jobRunID, "error", err)
	}

	o.metrics.recordJobRun(jobType, status, duration.Seconds(), tokens, segments, workers, entityCounts)
}
