// Package llm implements the batched LLM adjudicator (§4.5): an HTTP client
// against an OpenAI/Gemini-compatible chat-completions endpoint, flushed by
// size or latency timeout, globally serialized to one in-flight request,
// fail-open to "unique" on any transport or parse error, with a host-pair
// decision cache to skip repeat verdicts for the same two sites.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"horse.fit/websetdedup/internal/dedup"
)

// Config configures the adjudicator's batching and HTTP behavior.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int
	BatchLat  time.Duration
}

type queued struct {
	decision dedup.Decision
	resolve  func(dedup.Verdict)
}

// Adjudicator batches pending decisions and judges them with one LLM call
// per batch, never running two LLM requests concurrently.
type Adjudicator struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger
	sem    *semaphore.Weighted

	mu    sync.Mutex
	queue []queued
	timer *time.Timer

	cacheMu sync.Mutex
	cache   map[string]bool // sorted(hostA,hostB) -> duplicate
}

func New(cfg Config, logger zerolog.Logger) *Adjudicator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.BatchLat <= 0 {
		cfg.BatchLat = 300 * time.Millisecond
	}
	return &Adjudicator{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    logger.With().Str("component", "llm_adjudicator").Logger(),
		sem:    semaphore.NewWeighted(1),
		cache:  make(map[string]bool),
	}
}

// Submit enqueues d for adjudication. If any candidate's host pair is cached
// as a duplicate, or every candidate's pair is cached as unique, resolve
// fires synchronously without ever touching the batch queue.
func (a *Adjudicator) Submit(d dedup.Decision, resolve func(dedup.Verdict)) {
	if v, ok := a.cacheLookup(d); ok {
		resolve(v)
		return
	}

	a.mu.Lock()
	a.queue = append(a.queue, queued{decision: d, resolve: resolve})
	size := len(a.queue)
	if size >= a.cfg.BatchSize {
		batch := a.drainLocked()
		a.mu.Unlock()
		go a.flush(batch)
		return
	}
	if a.timer == nil {
		a.timer = time.AfterFunc(a.cfg.BatchLat, a.onTimer)
	}
	a.mu.Unlock()
}

func (a *Adjudicator) onTimer() {
	a.mu.Lock()
	batch := a.drainLocked()
	a.mu.Unlock()
	if len(batch) > 0 {
		a.flush(batch)
	}
}

// drainLocked must be called with a.mu held; it takes ownership of the
// queue and resets the pending timer.
func (a *Adjudicator) drainLocked() []queued {
	batch := a.queue
	a.queue = nil
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	return batch
}

func (a *Adjudicator) cacheKey(hostA, hostB string) string {
	if hostA == "" || hostB == "" {
		return ""
	}
	pair := []string{hostA, hostB}
	sort.Strings(pair)
	return pair[0] + "|" + pair[1]
}

func (a *Adjudicator) cacheLookup(d dedup.Decision) (dedup.Verdict, bool) {
	if len(d.Candidates) == 0 {
		return dedup.Verdict{}, false
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	for _, c := range d.Candidates {
		key := a.cacheKey(d.NewRow.Etld1, hostOf(c))
		if key == "" {
			continue
		}
		if dup, ok := a.cache[key]; ok && dup {
			return dedup.Verdict{Duplicate: true, MatchedID: c.ID, FromCache: true}, true
		}
	}
	// Only a full-pool cache-covered-and-unique result allows the fast
	// path to report unique; a partial cache hit with no duplicate found
	// still needs the LLM for the uncached pairs.
	allCached := true
	for _, c := range d.Candidates {
		key := a.cacheKey(d.NewRow.Etld1, hostOf(c))
		if key == "" {
			allCached = false
			break
		}
		if _, ok := a.cache[key]; !ok {
			allCached = false
			break
		}
	}
	if allCached {
		return dedup.Verdict{Duplicate: false, FromCache: true}, true
	}
	return dedup.Verdict{}, false
}

func hostOf(c dedup.CandidateRef) string {
	return c.Etld1
}

func (a *Adjudicator) cacheStore(hostA, hostB string, duplicate bool) {
	key := a.cacheKey(hostA, hostB)
	if key == "" {
		return
	}
	a.cacheMu.Lock()
	a.cache[key] = duplicate
	a.cacheMu.Unlock()
}

// flush runs one globally-serialized LLM request for batch and resolves
// every decision in it. Any transport or parse error fails open: every
// decision in the batch resolves to unique (B3).
func (a *Adjudicator) flush(batch []queued) {
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := a.sem.Acquire(ctx, 1); err != nil {
		a.failOpen(batch)
		return
	}
	defer a.sem.Release(1)

	verdicts, err := a.callModel(ctx, batch)
	if err != nil {
		a.log.Warn().Err(err).Int("batch_size", len(batch)).Msg("llm adjudication failed, failing open to unique")
		a.failOpen(batch)
		return
	}

	for i, q := range batch {
		v := dedup.Verdict{Duplicate: false}
		if i < len(verdicts) {
			v = verdicts[i]
		}
		if v.Duplicate {
			matchHost := ""
			for _, c := range q.decision.Candidates {
				if c.ID == v.MatchedID {
					matchHost = c.Etld1
					break
				}
			}
			a.cacheStore(q.decision.NewRow.Etld1, matchHost, true)
		}
		q.resolve(v)
	}
}

func (a *Adjudicator) failOpen(batch []queued) {
	for _, q := range batch {
		q.resolve(dedup.Verdict{Duplicate: false})
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type verdictEntry struct {
	Index     int    `json:"index"`
	Duplicate bool   `json:"duplicate"`
	MatchedID string `json:"matched_id,omitempty"`
}

type verdictPayload struct {
	Decisions []verdictEntry `json:"decisions"`
	Pairs     []verdictEntry `json:"pairs"`
}

func (a *Adjudicator) callModel(ctx context.Context, batch []queued) ([]dedup.Verdict, error) {
	prompt := buildPrompt(batch)
	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(batch)},
			{Role: "user", Content: prompt},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal adjudication request: %w", err)
	}

	url := strings.TrimRight(a.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build adjudication request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send adjudication request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read adjudication response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("adjudication endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode adjudication response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("adjudication response missing choices")
	}

	var payload verdictPayload
	content := extractJSON(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("decode adjudication verdict payload: %w", err)
	}

	entries := payload.Decisions
	if len(entries) == 0 {
		entries = payload.Pairs
	}

	verdicts := make([]dedup.Verdict, len(batch))
	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(verdicts) {
			continue
		}
		verdicts[e.Index] = dedup.Verdict{Duplicate: e.Duplicate, MatchedID: e.MatchedID}
	}
	return verdicts, nil
}

// extractJSON strips a ```json fenced block if the model wrapped its
// answer in markdown, otherwise returns content unchanged.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}

const companySystemPrompt = `You judge whether a newly-seen company record is the same real-world business as any of its listed candidates.

Apply these rules, in order, to each candidate:
1. Same legal name or an obvious abbreviation/rebrand of it (e.g. "International Business Machines" / "IBM") is a duplicate.
2. A regional or language-localized site of the same business (e.g. "acme.com" and "acme.co.uk", or a "/de/" vs "/fr/" path on the same domain) is a duplicate, not a distinct business.
3. A subsidiary, parent, or division that trades under the same brand as the candidate is a duplicate; a subsidiary with an unrelated brand name is not, even if ownership is shared.
4. A franchise or reseller location of the same chain is a duplicate of the chain itself.
5. Two businesses with similar names but unrelated products, industries, or founding stories are unique, even if the name similarity score is high (e.g. "Delta Air Lines" vs "Delta Faucet").
6. A news article, review, or directory listing about a company is not itself the company: only judge two records that both represent the company as an entity.

Respond with strict JSON: {"pairs":[{"index":N,"duplicate":bool,"matched_id":"..."}]} aligned by index to the input batch.`

const entitySystemPrompt = `You judge whether a newly-seen entity record refers to the same real-world thing as any of its listed candidates.

Apply these rules, in order, to each candidate:
1. The same title/headline with a different publication year, edition, or "(remastered)"/"(director's cut)"-style suffix is a duplicate — the underlying work is the same.
2. The same series or franchise but a different season, episode, or installment number is unique, not a duplicate.
3. The same news event covered by two different outlets, or syndicated/reprinted under a different headline, is a duplicate.
4. A sequel, prequel, or spin-off with its own distinct title is unique, even if it shares characters or a franchise name with the candidate.
5. Near-identical wording with only punctuation, capitalization, or a trailing site-name suffix ("... - Acme News") differing is a duplicate.
6. Two records about the same broad topic or person that describe different specific happenings (a different event, a different quote, a different date) are unique.

Respond with strict JSON: {"decisions":[{"index":N,"duplicate":bool,"matched_id":"..."}]} aligned by index to the input batch.`

func systemPrompt(batch []queued) string {
	if len(batch) > 0 && batch[0].decision.Kind == dedup.DecisionCompany {
		return companySystemPrompt
	}
	return entitySystemPrompt
}

func buildPrompt(batch []queued) string {
	var b strings.Builder
	b.WriteString("Batch items:\n")
	for i, q := range batch {
		d := q.decision
		fmt.Fprintf(&b, "%d. new: id=%s name=%q url=%q\n", i, d.NewRow.RowID, d.NewRow.Name, d.NewRow.URL)
		for _, c := range d.Candidates {
			fmt.Fprintf(&b, "   candidate: id=%s name=%q url=%q brand=%q\n", c.ID, c.Name, c.URL, c.Brand)
		}
	}
	return b.String()
}
