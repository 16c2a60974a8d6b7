// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode runs background rendition jobs for uploaded assets.
//
// A bounded queue feeds a fixed pool of workers. Each run claims the asset
// with a persisted ready->transcoding compare-and-set, attempts every catalog
// target once and then marks the asset processed. Rendition failures are
// contained and reported, never propagated to siblings. An asset left in
// transcoding with no live run (a stopped daemon) is resumed without the
// claim.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vodgate/internal/domain/media"
	xglog "github.com/ManuGH/vodgate/internal/log"
	"github.com/ManuGH/vodgate/internal/metrics"
	"github.com/ManuGH/vodgate/internal/store"
	"github.com/ManuGH/vodgate/internal/telemetry"
)

var (
	ErrAlreadyTranscoding = errors.New("transcode: asset is already transcoding")
	ErrAlreadyProcessed   = errors.New("transcode: asset is already processed")
	ErrNotReady           = errors.New("transcode: asset is not ready for transcoding")
	ErrQueueFull          = errors.New("transcode: queue is full")
)

const (
	defaultWorkers      = 2
	defaultQueueSize    = 64
	defaultTimeoutBase  = 10 * time.Minute
	defaultTimeoutPerGB = 20 * time.Minute
)

// Attempt outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
	OutcomePanic   = "panic"
)

// Run results.
const (
	ResultProcessed   = "processed"
	ResultSkipped     = "skipped"
	ResultInterrupted = "interrupted"
	ResultFailed      = "failed"
)

// Transcoder produces one rendition of input inside outDir.
type Transcoder interface {
	Transcode(ctx context.Context, input, outDir string, target media.Target) error
}

// Attempt is the outcome of one rendition.
type Attempt struct {
	Rendition string
	Outcome   string
	Err       error
	Elapsed   time.Duration
}

// RunReport summarises one pass over an asset.
type RunReport struct {
	ID       int64
	Result   string
	Resumed  bool
	Attempts []Attempt
}

// Config wires an Orchestrator.
type Config struct {
	Store                store.VideoStore
	Transcoder           Transcoder
	Layout               media.Layout
	Targets              []media.Target
	Workers              int
	QueueSize            int
	RenditionParallelism int
	TimeoutBase          time.Duration
	TimeoutPerGB         time.Duration
	Logger               zerolog.Logger
	// Observer, when set, receives every finished run.
	Observer func(RunReport)
}

// job is one queued run. resume marks an asset already in transcoding whose
// previous run died with its process.
type job struct {
	id     int64
	resume bool
}

// Orchestrator schedules transcode runs on a worker pool.
type Orchestrator struct {
	store        store.VideoStore
	transcoder   Transcoder
	layout       media.Layout
	targets      []media.Target
	workers      int
	parallelism  int
	timeoutBase  time.Duration
	timeoutPerGB time.Duration
	logger       zerolog.Logger
	observer     func(RunReport)

	ctx    context.Context
	cancel context.CancelFunc

	queue chan job
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[int64]struct{}
	idle     map[int64][]func()
	started  bool
}

// New builds an orchestrator. Workers do not run until Start.
func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	parallelism := cfg.RenditionParallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	base := cfg.TimeoutBase
	if base <= 0 {
		base = defaultTimeoutBase
	}
	perGB := cfg.TimeoutPerGB
	if perGB <= 0 {
		perGB = defaultTimeoutPerGB
	}
	targets := cfg.Targets
	if len(targets) == 0 {
		targets = media.DefaultCatalog()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:        cfg.Store,
		transcoder:   cfg.Transcoder,
		layout:       cfg.Layout,
		targets:      append([]media.Target(nil), targets...),
		workers:      workers,
		parallelism:  parallelism,
		timeoutBase:  base,
		timeoutPerGB: perGB,
		logger:       cfg.Logger.With().Str(xglog.FieldComponent, "transcode").Logger(),
		observer:     cfg.Observer,
		ctx:          ctx,
		cancel:       cancel,
		queue:        make(chan job, queueSize),
		inFlight:     make(map[int64]struct{}),
		idle:         make(map[int64][]func()),
	}
}

// Start launches the worker pool. Calling it twice is a no-op.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	for i := 0; i < o.workers; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	o.logger.Info().Str(xglog.FieldEvent, "transcode.started").Int("workers", o.workers).Int("queue_size", cap(o.queue)).Msg("transcode workers started")
}

// Shutdown cancels running attempts and waits for the workers to exit.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules id without blocking. It reports false when the request
// was dropped because the queue is full or the orchestrator is stopping.
func (o *Orchestrator) Enqueue(id int64) bool {
	return o.enqueue(job{id: id})
}

func (o *Orchestrator) enqueue(j job) bool {
	id := j.id
	if o.ctx.Err() != nil {
		return false
	}
	select {
	case o.queue <- j:
		metrics.TranscodeQueueDepth.Set(float64(len(o.queue)))
		return true
	default:
		metrics.TranscodeQueueDropped.Inc()
		o.logger.Warn().
			Str(xglog.FieldEvent, "transcode.queue_full").
			Int64(xglog.FieldVideoID, id).
			Msg("transcode queue full, asset stays ready until restart or reprocess")
		return false
	}
}

// Reprocess re-triggers a run for an asset that is ready, or resumes one
// left in transcoding by a run that no longer exists.
func (o *Orchestrator) Reprocess(ctx context.Context, id int64) error {
	v, err := o.store.GetVideo(ctx, id)
	if err != nil {
		return err
	}
	if o.running(id) {
		return ErrAlreadyTranscoding
	}
	switch v.State {
	case store.StateTranscoding:
		if !o.enqueue(job{id: id, resume: true}) {
			return ErrQueueFull
		}
		return nil
	case store.StateProcessed:
		return ErrAlreadyProcessed
	case store.StateReady:
		if !o.Enqueue(id) {
			return ErrQueueFull
		}
		return nil
	default:
		return ErrNotReady
	}
}

// RecoverPending enqueues every asset left in ready and resumes assets left
// in transcoding by a previous process. Call it before any run starts. It
// returns the number of enqueued assets.
func (o *Orchestrator) RecoverPending(ctx context.Context) (int, error) {
	ready, err := o.store.ListVideosByState(ctx, store.StateReady)
	if err != nil {
		return 0, fmt.Errorf("list ready assets: %w", err)
	}
	stuck, err := o.store.ListVideosByState(ctx, store.StateTranscoding)
	if err != nil {
		return 0, fmt.Errorf("list transcoding assets: %w", err)
	}

	enqueued, resumed := 0, 0
	for _, v := range stuck {
		if o.enqueue(job{id: v.ID, resume: true}) {
			enqueued++
			resumed++
		}
	}
	for _, v := range ready {
		if o.Enqueue(v.ID) {
			enqueued++
		}
	}
	if enqueued > 0 {
		o.logger.Info().
			Str(xglog.FieldEvent, "transcode.recovered").
			Int("enqueued", enqueued).
			Int("resumed", resumed).
			Msg("recovered pending assets")
	}
	return enqueued, nil
}

// OnIdle runs fn once no run for id is in flight. It reports true when fn
// was deferred behind a running job; otherwise fn has already run. While fn
// runs no new job for id can start.
func (o *Orchestrator) OnIdle(id int64, fn func()) bool {
	o.mu.Lock()
	if _, busy := o.inFlight[id]; busy {
		o.idle[id] = append(o.idle[id], fn)
		o.mu.Unlock()
		return true
	}
	o.inFlight[id] = struct{}{}
	o.mu.Unlock()

	defer o.finishWork(id)
	fn()
	return false
}

func (o *Orchestrator) running(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[id]
	return ok
}

func (o *Orchestrator) worker(n int) {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.queue:
			metrics.TranscodeQueueDepth.Set(float64(len(o.queue)))
			if !o.beginWork(j.id) {
				continue
			}
			report := o.process(n, j)
			o.finishWork(j.id)
			if o.observer != nil {
				o.observer(report)
			}
		}
	}
}

func (o *Orchestrator) beginWork(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.inFlight[id]; exists {
		return false
	}
	o.inFlight[id] = struct{}{}
	return true
}

func (o *Orchestrator) finishWork(id int64) {
	o.mu.Lock()
	delete(o.inFlight, id)
	waiters := o.idle[id]
	delete(o.idle, id)
	o.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
}

func (o *Orchestrator) process(worker int, j job) RunReport {
	id := j.id
	report := RunReport{ID: id, Resumed: j.resume}
	logger := o.logger.With().Int64(xglog.FieldVideoID, id).Int(xglog.FieldWorker, worker).Logger()

	v, err := o.claim(j)
	if err != nil {
		report.Result = ResultSkipped
		metrics.TranscodeRuns.WithLabelValues(report.Result).Inc()
		logger.Debug().Err(err).Bool("resume", j.resume).Str(xglog.FieldEvent, "transcode.skipped").Msg("asset not claimable")
		return report
	}

	metrics.TranscodeInFlight.Inc()
	defer metrics.TranscodeInFlight.Dec()

	ctx, span := telemetry.Tracer("vodgate.transcode").Start(o.ctx, "transcode.run")
	span.SetAttributes(telemetry.VideoAttributes(v.ID, v.FileSize)...)
	defer span.End()

	if j.resume {
		logger.Info().Str(xglog.FieldEvent, "transcode.resumed").Msg("resuming interrupted transcoding")
	} else {
		logger.Info().
			Str(xglog.FieldEvent, "state.changed").
			Str(xglog.FieldOldState, store.StateReady.String()).
			Str(xglog.FieldNewState, store.StateTranscoding.String()).
			Msg("transcoding started")
	}

	input := o.layout.SourcePath(v.Filename)
	outDir := o.layout.RenditionDir(v.Filename)
	timeout := o.renditionTimeout(v.FileSize)

	report.Attempts = make([]Attempt, len(o.targets))
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		for i, t := range o.targets {
			report.Attempts[i] = Attempt{Rendition: t.Name, Outcome: OutcomeFailed, Err: fmt.Errorf("create output dir: %w", err)}
			metrics.ObserveRendition(t.Name, OutcomeFailed, 0)
		}
		logger.Error().Err(err).Str(xglog.FieldPath, outDir).Msg("cannot create rendition directory")
	} else {
		var g errgroup.Group
		g.SetLimit(o.parallelism)
		for i, t := range o.targets {
			g.Go(func() error {
				report.Attempts[i] = o.attempt(ctx, logger, input, outDir, t, timeout)
				return nil
			})
		}
		_ = g.Wait()
	}

	if o.ctx.Err() != nil {
		report.Result = ResultInterrupted
		metrics.TranscodeRuns.WithLabelValues(report.Result).Inc()
		span.SetStatus(codes.Error, "interrupted")
		logger.Warn().Str(xglog.FieldEvent, "transcode.interrupted").Msg("shutdown interrupted transcoding")
		return report
	}

	failed := 0
	for _, a := range report.Attempts {
		if a.Outcome != OutcomeOK {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("rendition.failed", failed), attribute.Int("rendition.total", len(report.Attempts)))

	if err := o.store.AdvanceState(o.ctx, id, store.StateTranscoding, store.StateProcessed); err != nil {
		report.Result = ResultFailed
		metrics.TranscodeRuns.WithLabelValues(report.Result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str(xglog.FieldEvent, "transcode.finish_failed").Msg("could not mark asset processed")
		return report
	}

	report.Result = ResultProcessed
	metrics.TranscodeRuns.WithLabelValues(report.Result).Inc()
	logger.Info().
		Str(xglog.FieldEvent, "state.changed").
		Str(xglog.FieldOldState, store.StateTranscoding.String()).
		Str(xglog.FieldNewState, store.StateProcessed.String()).
		Int("renditions", len(report.Attempts)).
		Int("failed", failed).
		Msg("transcoding finished")
	return report
}

// claim takes ownership of the asset for this run. A fresh run moves it from
// ready to transcoding; a resumed run requires it to still be transcoding.
// The caller holds the in-flight slot, so no other run of this process owns it.
func (o *Orchestrator) claim(j job) (store.Video, error) {
	if !j.resume {
		if err := o.store.AdvanceState(o.ctx, j.id, store.StateReady, store.StateTranscoding); err != nil {
			return store.Video{}, err
		}
		v, err := o.store.GetVideo(o.ctx, j.id)
		if err != nil {
			return store.Video{}, fmt.Errorf("load claimed asset: %w", err)
		}
		return v, nil
	}
	v, err := o.store.GetVideo(o.ctx, j.id)
	if err != nil {
		return store.Video{}, err
	}
	if v.State != store.StateTranscoding {
		return store.Video{}, fmt.Errorf("%w: state %s", store.ErrInvalidTransition, v.State)
	}
	return v, nil
}

func (o *Orchestrator) attempt(ctx context.Context, logger zerolog.Logger, input, outDir string, t media.Target, timeout time.Duration) (a Attempt) {
	a.Rendition = t.Name
	start := time.Now()

	ctx, span := telemetry.Tracer("vodgate.transcode").Start(ctx, "transcode.rendition")
	span.SetAttributes(telemetry.RenditionAttributes(t.Name, t.Resolution(), t.VideoBitrateKbps)...)

	rlog := logger.With().Str(xglog.FieldRendition, t.Name).Str(xglog.FieldResolution, t.Resolution()).Logger()

	defer func() {
		if r := recover(); r != nil {
			a.Outcome = OutcomePanic
			a.Err = fmt.Errorf("transcode %s: panic: %v", t.Name, r)
		}
		a.Elapsed = time.Since(start)
		metrics.ObserveRendition(t.Name, a.Outcome, a.Elapsed)
		span.SetAttributes(attribute.String(telemetry.RenditionOutcomeKey, a.Outcome))
		if a.Err != nil {
			span.RecordError(a.Err)
			span.SetStatus(codes.Error, a.Outcome)
			rlog.Warn().Err(a.Err).
				Str(xglog.FieldEvent, "rendition.failed").
				Str("outcome", a.Outcome).
				Int64(xglog.FieldDuration, a.Elapsed.Milliseconds()).
				Msg("rendition failed")
		} else {
			rlog.Info().
				Str(xglog.FieldEvent, "rendition.done").
				Int64(xglog.FieldDuration, a.Elapsed.Milliseconds()).
				Msg("rendition done")
		}
		span.End()
	}()

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := o.transcoder.Transcode(tctx, input, outDir, t)
	switch {
	case err == nil:
		a.Outcome = OutcomeOK
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		a.Outcome = OutcomeTimeout
		a.Err = err
	default:
		a.Outcome = OutcomeFailed
		a.Err = err
	}
	return a
}

// renditionTimeout scales the per-rendition budget with the source size.
func (o *Orchestrator) renditionTimeout(size int64) time.Duration {
	if size <= 0 {
		return o.timeoutBase
	}
	gb := float64(size) / float64(1<<30)
	return o.timeoutBase + time.Duration(gb*float64(o.timeoutPerGB))
}
