// Package batch runs bulk page generation with a bounded worker pool and a
// progress event stream suitable for live consoles.
package batch

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mirrornet/pagepool/internal/pagecache"
	"github.com/mirrornet/pagepool/internal/pool"
	"github.com/mirrornet/pagepool/internal/progress"
	"github.com/mirrornet/pagepool/internal/store"
)

// MaxJobs caps a single batch run when no limit is configured.
const MaxJobs = 30

// Ensurer is the page-generation dependency; pagecache.Cache satisfies it.
type Ensurer interface {
	Ensure(ctx context.Context, slug, host string, opts pagecache.EnsureOptions) (pool.Page, error)
}

// Request describes one batch run.
type Request struct {
	Count      int
	Host       string
	RandomMode bool
	MinWords   int
	MaxWords   int
}

// Result summarizes a finished batch.
type Result struct {
	BatchID   string
	Total     int
	Generated []string
	Failed    []string
}

// Orchestrator fans batch jobs out over a worker pool sized by the stored
// thread-count setting. Events flow to the hub and, when the caller streams,
// to a per-run emit callback.
type Orchestrator struct {
	cache   Ensurer
	store   store.Provider
	hub     progress.Emitter
	clock   pool.Clock
	maxJobs int
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Orchestrator. hub may be nil; a nil rng gets a fixed seed;
// a non-positive maxJobs falls back to MaxJobs.
func New(cache Ensurer, provider store.Provider, hub progress.Emitter, clock pool.Clock, maxJobs int, rng *rand.Rand, logger *zap.Logger) *Orchestrator {
	if maxJobs <= 0 {
		maxJobs = MaxJobs
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cache:   cache,
		store:   provider,
		hub:     hub,
		clock:   clock,
		maxJobs: maxJobs,
		logger:  logger.Named("batch"),
		rng:     rng,
	}
}

// Run executes a batch and blocks until every job finishes. emit may be nil;
// when set it receives one event per completed job in completion order,
// ending with a BATCH_DONE sentinel. Individual job failures degrade to
// PAGE_ERROR events and never abort the run.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit func(progress.Event)) (Result, error) {
	count := req.Count
	if count < 1 {
		count = 1
	}
	if count > o.maxJobs {
		count = o.maxJobs
	}

	snap, err := o.store.LoadSnapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load snapshot: %w", err)
	}
	workers := snap.Settings.ThreadCount
	if workers < 1 {
		workers = 1
	}
	if workers > count {
		workers = count
	}

	batchID := progress.UUIDToBytes(uuid.New())
	start := o.clock.Now()
	result := Result{BatchID: uuid.UUID(batchID).String(), Total: count}

	// The start event feeds metrics and logs only. Stream consumers get one
	// event per completed job plus the done sentinel, nothing else.
	if o.hub != nil {
		o.hub.Emit(progress.Event{
			BatchID: batchID,
			TS:      start,
			Stage:   progress.StageBatchStart,
			Total:   count,
			Host:    req.Host,
		})
	}

	jobs := make([]Theme, 0, count)
	for i := 0; i < count; i++ {
		jobs = append(jobs, o.mintTheme(&snap, req.RandomMode))
	}

	var (
		wg        sync.WaitGroup
		stateMu   sync.Mutex
		completed int
	)
	jobCh := make(chan Theme)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for theme := range jobCh {
				evt := o.runJob(ctx, batchID, req, theme)

				stateMu.Lock()
				completed++
				evt.Index = completed
				evt.Total = count
				if evt.Stage == progress.StagePageError {
					result.Failed = append(result.Failed, theme.Slug)
				} else {
					result.Generated = append(result.Generated, evt.Title)
				}
				stateMu.Unlock()

				o.publish(emit, evt)
			}
		}()
	}

	for _, theme := range jobs {
		jobCh <- theme
	}
	close(jobCh)
	wg.Wait()

	done := o.clock.Now()
	o.publish(emit, progress.Event{
		BatchID: batchID,
		TS:      done,
		Stage:   progress.StageBatchDone,
		Total:   count,
		Host:    req.Host,
		Dur:     done.Sub(start),
	})

	o.logger.Info("batch finished",
		zap.String("batch_id", result.BatchID),
		zap.Int("total", count),
		zap.Int("generated", len(result.Generated)),
		zap.Int("failed", len(result.Failed)))

	return result, nil
}

// runJob generates one page and shapes its completion event. Index and Total
// are assigned by the caller under the completion lock.
func (o *Orchestrator) runJob(ctx context.Context, batchID [16]byte, req Request, theme Theme) (evt progress.Event) {
	start := o.clock.Now()
	evt = progress.Event{
		BatchID: batchID,
		Stage:   progress.StagePageDone,
		Slug:    theme.Slug,
		Host:    req.Host,
		Topic:   theme.Topic,
	}

	// A panicking generator must not take the whole batch down.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("batch job panicked",
				zap.String("slug", theme.Slug),
				zap.Any("panic", r))
			evt = o.failedEvent(evt, theme, fmt.Sprintf("panic: %v", r))
		}
		evt.TS = o.clock.Now()
		evt.Dur = evt.TS.Sub(start)
	}()

	page, err := o.cache.Ensure(ctx, theme.Slug, req.Host, pagecache.EnsureOptions{
		Topic:    theme.Topic,
		Keywords: theme.Keywords,
		MinWords: req.MinWords,
		MaxWords: req.MaxWords,
		Force:    true,
	})
	if err != nil {
		o.logger.Error("batch job failed",
			zap.String("slug", theme.Slug),
			zap.Error(err))
		return o.failedEvent(evt, theme, err.Error())
	}

	evt.Title = page.Title
	evt.Topic = page.Topic
	evt.Generator = page.Generator
	preview := page.Excerpt
	if preview == "" {
		preview = page.Topic
	}
	evt.Preview = progress.TruncatePreview(preview)
	return evt
}

func (o *Orchestrator) failedEvent(evt progress.Event, theme Theme, note string) progress.Event {
	evt.Stage = progress.StagePageError
	evt.Title = theme.Slug
	evt.Preview = "generation failed"
	evt.Note = note
	return evt
}

func (o *Orchestrator) publish(emit func(progress.Event), evt progress.Event) {
	if o.hub != nil {
		o.hub.Emit(evt)
	}
	if emit != nil {
		emit(evt)
	}
}

func (o *Orchestrator) mintTheme(snap *pool.Snapshot, randomMode bool) Theme {
	o.mu.Lock()
	defer o.mu.Unlock()
	if randomMode {
		return randomTheme(snap, o.rng)
	}
	return placeholderTheme(o.rng)
}
