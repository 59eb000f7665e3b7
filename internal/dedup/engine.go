package dedup

import (
	"context"
	"log"

	"horse.fit/websetdedup/internal/broadcast"
	"horse.fit/websetdedup/internal/canon"
	"horse.fit/websetdedup/internal/events"
)

// Adjudicator is the subset of the LLM adjudicator the engine depends on:
// submit a decision for batched judgement; the verdict is delivered through
// the resolve callback, which the engine wires to its PendingRegistry (§4.5).
type Adjudicator interface {
	Submit(d Decision, resolve func(Verdict))
}

// VectorClient is the subset of the vector service the engine depends on
// (§4.6). Both methods are best-effort: callers treat errors as "no
// signal", never as a reason to fail the item.
type VectorClient interface {
	Add(ctx context.Context, rowID, text string)
	Query(ctx context.Context, text string, k int) []string
}

// URLResolver implements the ENABLE_URL_RESOLUTION HEAD-based canonicalization
// step (company mode only, §6/config): resolving a URL through redirects to
// the eTLD+1 it ultimately lands on, so two differently-shaped URLs that
// redirect to the same site can be recognized as the same business.
type URLResolver interface {
	ResolveEtld1(ctx context.Context, rawURL string) (string, bool)
}

// Recorder persists per-item outcomes and drives the job's running
// counters (§4.8, §8's atomic increment semantics live behind this
// interface so the engine never talks to Postgres directly).
type Recorder interface {
	RecordAccepted(ctx context.Context, jobID string, row canon.Row)
	RecordRejected(ctx context.Context, jobID string, row canon.Row, reason string, details any)
}

// Engine runs the full multi-tier pipeline for a single job: canonicalize,
// Tier-0 exact check, fuzzy cascade, candidate pool, LLM adjudication, and
// broadcast of the resulting per-item events (§4.2-§4.6, §4.10).
type Engine struct {
	JobID       string
	Mode        canon.Mode
	Canon       *canon.Canonicalizer
	Table       *FingerprintTable
	Pending     *PendingRegistry
	Adjudicator Adjudicator
	Vector      VectorClient
	Bus         *broadcast.Bus
	Recorder    Recorder

	// EnableDedup, when false, bypasses Tier-0/fuzzy/LLM entirely: every
	// item is accepted as-is (config's ENABLE_DEDUP=false pass-through).
	EnableDedup bool

	// URLResolver and EnableURLResolution implement the company-mode-only
	// HEAD-based canonicalization step; ProcessItem consults URLResolver only
	// when EnableURLResolution is true and URLResolver is non-nil.
	URLResolver         URLResolver
	EnableURLResolution bool
}

func NewEngine(jobID string, mode canon.Mode, adjudicator Adjudicator, vector VectorClient, bus *broadcast.Bus, recorder Recorder) *Engine {
	return &Engine{
		JobID:       jobID,
		Mode:        mode,
		Canon:       canon.New(mode),
		Table:       NewFingerprintTable(),
		Pending:     NewPendingRegistry(),
		Adjudicator: adjudicator,
		Vector:      vector,
		Bus:         bus,
		Recorder:    recorder,
		EnableDedup: true,
	}
}

// ProcessItem runs one raw item through the pipeline. In entity mode it
// blocks until any LLM verdict the item needs has been resolved, giving the
// caller's sequential per-job loop the strict happens-before ordering §5
// requires. In company mode it returns as soon as the item is either
// resolved without the LLM or handed off to the adjudicator, letting the
// caller process the next item concurrently.
func (e *Engine) ProcessItem(ctx context.Context, raw canon.RawItem) {
	row := e.Canon.Canonicalize(raw)

	// spec's ENABLE_DEDUP=false pass-through: skip Tier-0/fuzzy/LLM
	// entirely and accept every item unconditionally.
	if !e.EnableDedup {
		e.acceptDirect(ctx, row)
		return
	}

	if e.Mode == canon.ModeCompany {
		if existing, hit := e.Table.CheckExact(row); hit {
			e.reject(ctx, row, ReasonExactMatch, existing)
			return
		}
	}

	tableRows := e.Table.Rows()

	// Entity-mode bulletproof layers (§3/Glossary): exact URL and
	// normalized-title matches short-circuit before the fuzzy cascade runs.
	if e.Mode == canon.ModeEntity {
		if row.URL != "" {
			if existing, hit := e.Table.LookupURL(row.URL); hit {
				e.reject(ctx, row, ReasonExactURLDuplicate, existing)
				return
			}
		}
		if row.NormalizedTitle != "" {
			if existing, hit := e.Table.LookupNormalizedTitle(row.NormalizedTitle); hit {
				e.reject(ctx, row, ReasonNormalizedTitleDuplicate, existing)
				return
			}
		}
	}

	// §4.10: a direct fuzzy-cascade Duplicate verdict rejects outright, no
	// candidate pool or LLM round-trip needed.
	if existing, reason, hit := FuzzyDuplicateCheck(e.Mode, row, tableRows); hit {
		e.reject(ctx, row, reason, existing)
		return
	}

	vectorHits := e.Vector.Query(ctx, compareText(row), 10)

	pool, immediate := BuildCandidatePool(e.Mode, row, tableRows, vectorHits)
	if immediate != nil {
		e.reject(ctx, row, immediate.Reason, immediate.MatchedRow)
		return
	}

	if len(pool) == 0 {
		e.acceptDirect(ctx, row)
		return
	}

	if e.Mode == canon.ModeCompany && e.EnableURLResolution && e.URLResolver != nil {
		if matched, hit := e.resolveSuspiciousPair(ctx, row, pool); hit {
			e.reject(ctx, row, ReasonURLResolutionDuplicate, matched)
			return
		}
	}

	decision := Decision{
		Kind:       companyOrEntityKind(e.Mode),
		JobID:      e.JobID,
		TmpID:      row.RowID,
		NewRow:     row,
		Candidates: ToCandidateRefs(pool),
	}
	e.Bus.Publish(e.JobID, events.Pending(row.RowID))
	done := e.Pending.Register(decision)
	e.Adjudicator.Submit(decision, func(v Verdict) { e.Pending.Resolve(decision.TmpID, v) })

	if e.Mode == canon.ModeEntity {
		e.awaitVerdict(ctx, row, pool, done)
		return
	}
	go e.awaitVerdict(ctx, row, pool, done)
}

// resolveSuspiciousPair implements ENABLE_URL_RESOLUTION (§6): a candidate
// still ambiguous on name/brand alone but with a different eTLD+1 than row
// is "suspicious" — it may be the same site reached through a redirect
// (a shortlink, a regional TLD that forwards to the main domain, etc). A
// HEAD request on both URLs that lands on the same eTLD+1 confirms it as a
// duplicate without ever reaching the LLM. Best-effort: any resolution
// failure is treated as "no match" for that candidate, never as an error.
func (e *Engine) resolveSuspiciousPair(ctx context.Context, row canon.Row, pool []ScoredRow) (canon.Row, bool) {
	if row.URL == "" {
		return canon.Row{}, false
	}
	rowEtld1, ok := e.URLResolver.ResolveEtld1(ctx, row.URL)
	if !ok {
		return canon.Row{}, false
	}
	for _, c := range pool {
		if c.Row.Etld1 == row.Etld1 || c.Row.URL == "" {
			continue
		}
		candidateEtld1, ok := e.URLResolver.ResolveEtld1(ctx, c.Row.URL)
		if !ok {
			continue
		}
		if candidateEtld1 == rowEtld1 {
			return c.Row, true
		}
	}
	return canon.Row{}, false
}

func companyOrEntityKind(mode canon.Mode) DecisionKind {
	if mode == canon.ModeCompany {
		return DecisionCompany
	}
	return DecisionEntity
}

func (e *Engine) awaitVerdict(ctx context.Context, row canon.Row, pool []ScoredRow, done <-chan Verdict) {
	v, ok := <-done
	if !ok {
		log.Printf("dedup: pending registry channel closed without a verdict for %s", row.RowID)
		v = Verdict{Duplicate: false}
	}
	if !v.Duplicate {
		e.acceptFromPending(ctx, row)
		return
	}

	matched := row
	reason := ReasonLLMDuplicate
	switch {
	case v.FromCache:
		reason = ReasonCacheHit
	case e.Mode == canon.ModeEntity:
		reason = ReasonEntityLLMDuplicate
	}
	for _, c := range pool {
		if c.Row.RowID == v.MatchedID {
			matched = c.Row
			break
		}
	}
	e.Bus.Publish(e.JobID, events.Drop(row.RowID))
	e.reject(ctx, row, reason, matched)
}

// acceptDirect handles a row that never went through pending (empty
// candidate pool, or no-conflict Tier-0/fuzzy check): it emits `item`.
func (e *Engine) acceptDirect(ctx context.Context, row canon.Row) {
	e.commitAccepted(ctx, row)
	e.Bus.Publish(e.JobID, events.Item(row.Raw.Data))
}

// acceptFromPending handles a row that was already broadcast as `pending`:
// per §4.6 the acceptance broadcast is suppressed to avoid a double emit,
// so only `confirm` goes out, never a second `item`.
func (e *Engine) acceptFromPending(ctx context.Context, row canon.Row) {
	e.commitAccepted(ctx, row)
	e.Bus.Publish(e.JobID, events.Confirm(row.Raw.Data))
}

// commitAccepted persists row and indexes it for future matching. Per §4.6
// the vector add is awaited in entity mode (the caller's serial per-job loop
// depends on the index being current for the next item) but fire-and-forget
// in company mode, where items are processed concurrently and must not
// block on it.
func (e *Engine) commitAccepted(ctx context.Context, row canon.Row) {
	e.Table.Put(row)
	if e.Mode == canon.ModeCompany {
		go e.Vector.Add(context.WithoutCancel(ctx), row.RowID, compareText(row))
	} else {
		e.Vector.Add(ctx, row.RowID, compareText(row))
	}
	e.Recorder.RecordAccepted(ctx, e.JobID, row)
}

func (e *Engine) reject(ctx context.Context, row canon.Row, reason string, matched canon.Row) {
	e.Recorder.RecordRejected(ctx, e.JobID, row, reason, matched.RowID)
	e.Bus.Publish(e.JobID, events.Rejected(row.Raw.Data, reason, matched.RowID, matched.Raw.Data))
}

func compareText(row canon.Row) string {
	if row.NormalizedTitle != "" {
		return row.NormalizedTitle
	}
	return row.Name
}
