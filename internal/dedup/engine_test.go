package dedup

import (
	"context"
	"testing"
	"time"

	"horse.fit/websetdedup/internal/broadcast"
	"horse.fit/websetdedup/internal/canon"
	"horse.fit/websetdedup/internal/events"
)

type fakeAdjudicator struct {
	verdict Verdict
}

func (f *fakeAdjudicator) Submit(d Decision, resolve func(Verdict)) {
	resolve(f.verdict)
}

type fakeVector struct{}

func (fakeVector) Add(ctx context.Context, rowID, text string)          {}
func (fakeVector) Query(ctx context.Context, text string, k int) []string { return nil }

type fakeRecorder struct {
	accepted []canon.Row
	rejected []string // reasons, in order
}

func (f *fakeRecorder) RecordAccepted(ctx context.Context, jobID string, row canon.Row) {
	f.accepted = append(f.accepted, row)
}

func (f *fakeRecorder) RecordRejected(ctx context.Context, jobID string, row canon.Row, reason string, details any) {
	f.rejected = append(f.rejected, reason)
}

type fakeResolver struct {
	byURL map[string]string
}

func (f *fakeResolver) ResolveEtld1(ctx context.Context, rawURL string) (string, bool) {
	etld1, ok := f.byURL[rawURL]
	return etld1, ok
}

func newTestEngine(mode canon.Mode, adjudicator Adjudicator, recorder *fakeRecorder) (*Engine, *broadcast.Bus) {
	bus := broadcast.New()
	bus.CreateJob("job-1")
	e := NewEngine("job-1", mode, adjudicator, fakeVector{}, bus, recorder)
	return e, bus
}

// drainEvents returns every live event already buffered on sub, without
// blocking. Replay only ever holds item events, so a test that needs to see
// rejected/pending/drop events must subscribe before processing and drain
// the live channel instead.
func drainEvents(sub broadcast.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev, open := <-sub.Events:
			if !open {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// waitForOutcomes blocks until n items have reached a terminal outcome
// (item, confirm or rejected) on sub's live channel. Company mode resolves
// its pending verdicts on a separate goroutine (Engine.ProcessItem dispatches
// awaitVerdict via go), so a test that calls ProcessItem and immediately
// inspects a fakeRecorder without this would be racing that goroutine. Every
// terminal event is published only after the corresponding recorder call
// (commitAccepted/reject happen before their Bus.Publish), so receiving n of
// them here happens-after those calls and makes the recorder state that
// follows safe to read.
func waitForOutcomes(t *testing.T, sub broadcast.Subscription, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < n {
		select {
		case ev := <-sub.Events:
			switch ev.Type {
			case events.KindItem, events.KindConfirm, events.KindRejected:
				seen++
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d terminal events, saw %d", n, seen)
		}
	}
}

func item(id, name, url string) canon.RawItem {
	return canon.RawItem{ID: id, Data: map[string]any{"name": name, "url": url}}
}

func TestProcessItemPassThroughWhenDedupDisabled(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	e, _ := newTestEngine(canon.ModeCompany, &fakeAdjudicator{}, recorder)
	e.EnableDedup = false

	e.ProcessItem(context.Background(), item("a", "Acme Corp", "https://acme.com"))
	e.ProcessItem(context.Background(), item("b", "Acme Corp", "https://acme.com"))

	if len(recorder.accepted) != 2 {
		t.Fatalf("expected both items accepted with dedup disabled, got %d", len(recorder.accepted))
	}
	if len(recorder.rejected) != 0 {
		t.Fatalf("expected no rejections with dedup disabled, got %v", recorder.rejected)
	}
}

func TestProcessItemNoURLItemsDoNotFalseMatchAtTier0(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	// A verdict of Duplicate:false here stands in for "whatever the fuzzy
	// cascade or LLM decides" — the point of this test is only that Tier-0
	// itself never fires a false exact_match between two hostless rows, not
	// what happens further down the pipeline.
	e, bus := newTestEngine(canon.ModeCompany, &fakeAdjudicator{verdict: Verdict{Duplicate: false}}, recorder)

	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatal("expected job-1 to be subscribable")
	}
	defer sub.Cancel()

	e.ProcessItem(context.Background(), item("a", "Some Company", ""))
	e.ProcessItem(context.Background(), item("b", "Totally Different Org", ""))
	waitForOutcomes(t, sub, 2)

	if len(recorder.rejected) != 0 {
		t.Fatalf("expected no exact_match rejection between hostless items (no genuine fingerprint), got %v", recorder.rejected)
	}
	if len(recorder.accepted) != 2 {
		t.Fatalf("expected both hostless items accepted, got %d accepted, %d rejected (%v)",
			len(recorder.accepted), len(recorder.rejected), recorder.rejected)
	}
}

func TestProcessItemExactMatchCompanyModeStillRejects(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	e, _ := newTestEngine(canon.ModeCompany, &fakeAdjudicator{}, recorder)

	e.ProcessItem(context.Background(), item("a", "Acme Corp", "https://acme.com"))
	e.ProcessItem(context.Background(), item("b", "Acme Corp", "https://acme.com"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonExactMatch {
		t.Fatalf("expected one exact_match rejection, got %v", recorder.rejected)
	}
}

func TestProcessItemEntityModeNormalizedTitleBulletproofLayer(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	e, _ := newTestEngine(canon.ModeEntity, &fakeAdjudicator{}, recorder)

	e.ProcessItem(context.Background(), item("a", "District 9", "https://news.example/a"))
	e.ProcessItem(context.Background(), item("b", "District 9 (2009)", "https://other.example/b"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonNormalizedTitleDuplicate {
		t.Fatalf("expected normalized_title_duplicate rejection, got %v", recorder.rejected)
	}
}

func TestProcessItemEntityModeURLBulletproofLayer(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	e, _ := newTestEngine(canon.ModeEntity, &fakeAdjudicator{}, recorder)

	e.ProcessItem(context.Background(), item("a", "Some Story", "https://news.example/story"))
	e.ProcessItem(context.Background(), item("b", "Some Story Retitled", "https://news.example/story"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonExactURLDuplicate {
		t.Fatalf("expected exact_url_duplicate rejection, got %v", recorder.rejected)
	}
}

func TestAwaitVerdictReportsCacheHitReason(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	// Ambiguous, cross-domain pair: same brand on two domains, titles about
	// 0.85 similar (below the 0.92 fuzzy-duplicate and 0.90 pool-rejection
	// thresholds), so no bulletproof layer or fuzzy-cascade shortcut fires
	// and the row reaches the LLM/cache path.
	adjudicator := &fakeAdjudicator{verdict: Verdict{Duplicate: true, MatchedID: "existing", FromCache: true}}
	e, bus := newTestEngine(canon.ModeEntity, adjudicator, recorder)

	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatal("expected job-1 to be subscribable")
	}
	defer sub.Cancel()

	e.ProcessItem(context.Background(), item("existing", "Alpha Wildfire Coverage", "https://alphanews.com/wildfire"))
	e.ProcessItem(context.Background(), item("incoming", "Alpha Storm Coverage", "https://alphanews.net/storm"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonCacheHit {
		t.Fatalf("expected cache_hit rejection, got %v", recorder.rejected)
	}

	found := false
	for _, ev := range drainEvents(sub) {
		if ev.Type == events.KindRejected && ev.Data["reason"] == ReasonCacheHit {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a rejected event carrying reason cache_hit")
	}
}

func TestAwaitVerdictReportsLLMReasonWhenNotFromCache(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	adjudicator := &fakeAdjudicator{verdict: Verdict{Duplicate: true, MatchedID: "existing", FromCache: false}}
	e, _ := newTestEngine(canon.ModeEntity, adjudicator, recorder)

	e.ProcessItem(context.Background(), item("existing", "Alpha Wildfire Coverage", "https://alphanews.com/wildfire"))
	e.ProcessItem(context.Background(), item("incoming", "Alpha Storm Coverage", "https://alphanews.net/storm"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonEntityLLMDuplicate {
		t.Fatalf("expected entity_llm_duplicate rejection, got %v", recorder.rejected)
	}
}

// Same brand, different eTLD+1, mixed subdomain class: rule 3's "mixed"
// branch leaves this pair Ambiguous rather than Duplicate or Unique, so it
// reaches the candidate pool where URL resolution gets a chance to run.
func TestProcessItemCompanyModeURLResolutionRejectsRedirectedDuplicate(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	e, _ := newTestEngine(canon.ModeCompany, &fakeAdjudicator{}, recorder)
	e.EnableURLResolution = true
	e.URLResolver = &fakeResolver{byURL: map[string]string{
		"https://careers.acme.io/x": "acme.com",
		"https://acme.com/":         "acme.com",
	}}

	e.ProcessItem(context.Background(), item("existing", "Acme Careers", "https://acme.com/"))
	e.ProcessItem(context.Background(), item("incoming", "Acme Talent Network", "https://careers.acme.io/x"))

	if len(recorder.rejected) != 1 || recorder.rejected[0] != ReasonURLResolutionDuplicate {
		t.Fatalf("expected url_resolution_duplicate rejection, got %v (accepted=%d)", recorder.rejected, len(recorder.accepted))
	}
}

func TestProcessItemCompanyModeURLResolutionDisabledLeavesPairUnresolved(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	// Ambiguous with the flag off falls through to the LLM path, which company
	// mode resolves on its own goroutine; a Duplicate:false verdict keeps the
	// pair from rejecting for any reason other than the one under test.
	e, bus := newTestEngine(canon.ModeCompany, &fakeAdjudicator{verdict: Verdict{Duplicate: false}}, recorder)
	e.URLResolver = &fakeResolver{byURL: map[string]string{
		"https://careers.acme.io/x": "acme.com",
		"https://acme.com/":         "acme.com",
	}}
	// EnableURLResolution left false (default).

	sub, ok := bus.Subscribe("job-1")
	if !ok {
		t.Fatal("expected job-1 to be subscribable")
	}
	defer sub.Cancel()

	e.ProcessItem(context.Background(), item("existing", "Acme Careers", "https://acme.com/"))
	e.ProcessItem(context.Background(), item("incoming", "Acme Talent Network", "https://careers.acme.io/x"))
	waitForOutcomes(t, sub, 2)

	for _, reason := range recorder.rejected {
		if reason == ReasonURLResolutionDuplicate {
			t.Fatalf("did not expect url_resolution_duplicate rejection when the flag is off")
		}
	}
}
