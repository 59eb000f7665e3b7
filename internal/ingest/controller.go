// Package ingest is the Ingestion Controller (§4.7): creates a webset job
// with the upstream provider, polls it on a fixed interval up to a hard
// deadline, feeds every page of items through the dedup engine, and drives
// the job to its terminal completed/error state.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/websetdedup/internal/broadcast"
	"horse.fit/websetdedup/internal/canon"
	"horse.fit/websetdedup/internal/dedup"
	"horse.fit/websetdedup/internal/events"
	"horse.fit/websetdedup/internal/llm"
	"horse.fit/websetdedup/internal/store"
	"horse.fit/websetdedup/internal/upstream"
	"horse.fit/websetdedup/internal/vector"
)

// jobCounters tracks the in-process counters described in §4.7 ("every
// broadcast of `item` increments processedItems, every broadcast of
// `rejected` increments rejectedItems"), separate from the persisted
// per-job counters the store maintains, plus a live count of items still
// awaiting an LLM verdict so the controller can honor I4/§4.10: a job may
// not be marked completed while any `pending` has not yet reached a
// terminal `confirm`/`drop`.
type jobCounters struct {
	mu        sync.Mutex
	processed int
	rejected  int
	pending   int
}

func (c *jobCounters) apply(kind events.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case events.KindItem:
		c.processed++
	case events.KindRejected:
		c.rejected++
	case events.KindPending:
		c.pending++
	case events.KindConfirm, events.KindDrop:
		if c.pending > 0 {
			c.pending--
		}
	}
}

func (c *jobCounters) snapshot() (processed, rejected, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed, c.rejected, c.pending
}

// Controller owns the in-memory job registry: one Engine, one cursor, one
// processed-id set and one poll loop per active job.
type Controller struct {
	upstreamClient *upstream.Client
	adjudicator    *llm.Adjudicator
	vectorClient   *vector.Client
	bus            *broadcast.Bus
	store          *store.Store
	log            zerolog.Logger

	pollInterval time.Duration
	pollDeadline time.Duration

	// enableDedup and the URL-resolution settings mirror config.Config's
	// ENABLE_DEDUP/ENABLE_URL_RESOLUTION flags onto every engine this
	// controller creates.
	enableDedup         bool
	urlResolver         dedup.URLResolver
	enableURLResolution bool
}

// Options carries the per-job engine behavior flags that come from config
// rather than from a single job's request body.
type Options struct {
	EnableDedup         bool
	EnableURLResolution bool
	URLResolver         dedup.URLResolver
}

func New(
	upstreamClient *upstream.Client,
	adjudicator *llm.Adjudicator,
	vectorClient *vector.Client,
	bus *broadcast.Bus,
	st *store.Store,
	logger zerolog.Logger,
	pollInterval, pollDeadline time.Duration,
	opts Options,
) *Controller {
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	if pollDeadline <= 0 {
		pollDeadline = 50 * time.Minute
	}
	return &Controller{
		upstreamClient:      upstreamClient,
		adjudicator:         adjudicator,
		vectorClient:        vectorClient,
		bus:                 bus,
		store:               st,
		log:                 logger.With().Str("component", "ingest_controller").Logger(),
		pollInterval:        pollInterval,
		pollDeadline:        pollDeadline,
		enableDedup:         opts.EnableDedup,
		urlResolver:         opts.URLResolver,
		enableURLResolution: opts.EnableURLResolution,
	}
}

// StartJob creates the webset upstream, persists the job row, registers it
// on the broadcast bus and launches its poll loop in the background. It
// returns the new job id immediately; progress is observed via the SSE
// stream (§4.9).
func (c *Controller) StartJob(ctx context.Context, query, mode, entityType string, count int, enrichments []string) (string, error) {
	jobID := uuid.NewString()

	created, err := c.upstreamClient.CreateWebset(ctx, upstream.CreateRequest{
		Query:       query,
		EntityType:  entityType,
		Count:       count,
		Enrichments: enrichments,
	})
	if err != nil {
		return "", fmt.Errorf("create upstream webset: %w", err)
	}

	var entityTypePtr *string
	if entityType != "" {
		entityTypePtr = &entityType
	}
	if err := c.store.CreateJob(ctx, jobID, query, entityTypePtr); err != nil {
		return "", fmt.Errorf("persist job: %w", err)
	}

	c.bus.CreateJob(jobID)

	canonMode := canon.ModeEntity
	if mode == string(canon.ModeCompany) {
		canonMode = canon.ModeCompany
	}
	engine := dedup.NewEngine(jobID, canonMode, c.adjudicator, c.vectorClient, c.bus, c.store)
	engine.EnableDedup = c.enableDedup
	engine.EnableURLResolution = c.enableURLResolution
	engine.URLResolver = c.urlResolver

	go c.run(jobID, created.WebsetID, canonMode, engine)

	return jobID, nil
}

// run is the per-job poll loop: cursor-paginated polling at pollInterval,
// bounded by pollDeadline, idempotent per processedIDs, driving the job to
// completed or error (§4.7, §4.10).
func (c *Controller) run(jobID, upstreamWebsetID string, mode canon.Mode, engine *dedup.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), c.pollDeadline)
	defer cancel()

	counters := &jobCounters{}
	sub, ok := c.bus.Subscribe(jobID)
	if ok {
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.Events {
				counters.apply(ev.Type)
			}
		}()
		defer func() {
			sub.Cancel()
			wg.Wait()
		}()
	}

	processed := make(map[string]struct{})
	var itemsInFlight sync.WaitGroup
	cursor := ""

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		page, err := c.upstreamClient.ListItems(ctx, upstreamWebsetID, cursor)
		if err != nil {
			c.log.Error().Err(err).Str("job_id", jobID).Msg("poll webset items failed")
			c.fail(ctx, jobID, err)
			return
		}

		for _, item := range page.Data {
			if _, seen := processed[item.ID]; seen {
				continue
			}
			processed[item.ID] = struct{}{}

			raw := canon.RawItem{ID: item.ID, Data: item.Properties}
			if mode == canon.ModeEntity {
				engine.ProcessItem(ctx, raw)
			} else {
				itemsInFlight.Add(1)
				go func() {
					defer itemsInFlight.Done()
					engine.ProcessItem(ctx, raw)
				}()
			}
		}

		liveCount := len(processed)
		c.bus.Publish(jobID, events.Status("processing", &liveCount))

		if !page.HasMore {
			status, err := c.upstreamClient.GetStatus(ctx, upstreamWebsetID)
			if err == nil && status.Status != "running" && status.Status != "processing" {
				c.drainAndFinish(ctx, jobID, &itemsInFlight, counters)
				return
			}
		} else if page.NextCursor != nil {
			cursor = *page.NextCursor
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			c.log.Warn().Str("job_id", jobID).Msg("poll deadline reached, finishing job with items seen so far")
			c.drainAndFinish(ctx, jobID, &itemsInFlight, counters)
			return
		}
	}
}

// drainAndFinish waits for every in-flight company-mode item goroutine to
// return, then polls counters until no item is left `pending` (or the
// context expires), before emitting `finished` — honoring I4/§4.10's
// "pending must reach a terminal state before completed" rule.
func (c *Controller) drainAndFinish(ctx context.Context, jobID string, itemsInFlight *sync.WaitGroup, counters *jobCounters) {
	done := make(chan struct{})
	go func() {
		itemsInFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

drain:
	for {
		_, _, pending := counters.snapshot()
		if pending == 0 {
			break
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			break drain
		}
	}
	processed, rejected, _ := counters.snapshot()
	c.finish(ctx, jobID, processed+rejected)
}

func (c *Controller) finish(ctx context.Context, jobID string, totalItems int) {
	if err := c.store.SetJobStatus(ctx, jobID, "completed", nil, nil); err != nil {
		c.log.Error().Err(err).Str("job_id", jobID).Msg("mark job completed failed")
	}
	c.bus.Publish(jobID, events.Finished(totalItems))
}

func (c *Controller) fail(ctx context.Context, jobID string, cause error) {
	msg := cause.Error()
	if err := c.store.SetJobStatus(ctx, jobID, "error", nil, &msg); err != nil {
		c.log.Error().Err(err).Str("job_id", jobID).Msg("mark job errored failed")
	}
	c.bus.Publish(jobID, events.Error(msg))
}
