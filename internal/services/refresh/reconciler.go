// Package refresh keeps the partition store in step with the external price
// sources: it decides when a fetch is due, runs it, writes the resulting
// partitions and maintains the derived indexes.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"agriassist-prices/internal/metrics"
	"agriassist-prices/internal/models"
	"agriassist-prices/internal/services/agmarknet"
	"agriassist-prices/internal/storage"
)

// Outcome is the result class of a run.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRefreshed Outcome = "refreshed"
	OutcomeDegraded  Outcome = "degraded"
)

// fetchConcurrency bounds concurrent per-state fetches.
const fetchConcurrency = 4

// Archiver receives every record written by a successful run.
type Archiver interface {
	UpsertPrices(ctx context.Context, records []models.PriceRecord) (int64, error)
}

// Invalidator drops memoized query results.
type Invalidator interface {
	Invalidate()
}

// Notifier receives run lifecycle events.
type Notifier interface {
	Notify(Event)
}

// Event types broadcast during a run.
const (
	EventStarted   = "refresh.started"
	EventCompleted = "refresh.completed"
	EventFailed    = "refresh.failed"
)

type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Records    int       `json:"records,omitempty"`
	Partitions int       `json:"partitions,omitempty"`
	Error      string    `json:"error,omitempty"`
	Time       time.Time `json:"time"`
}

// RunOptions controls a single run. A zero Date fetches today in the policy
// location.
type RunOptions struct {
	Force bool
	Date  time.Time
}

// Result describes a finished run. Err holds the upstream error of a
// degraded run.
type Result struct {
	RunID      string    `json:"run_id,omitempty"`
	Outcome    Outcome   `json:"outcome"`
	Date       string    `json:"date,omitempty"`
	Records    int       `json:"records"`
	Dropped    int       `json:"dropped"`
	Partitions int       `json:"partitions"`
	States     []string  `json:"states,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Err        error     `json:"-"`
}

// Degraded reports whether the run fell back to the previously stored data.
func (r *Result) Degraded() bool { return r.Outcome == OutcomeDegraded }

// Deps wires a Reconciler. Archive, Cache and Notifier are optional.
type Deps struct {
	Source     agmarknet.Source
	Partitions *storage.PartitionStore
	Meta       *storage.MetaStore
	Popular    *storage.PopularStore
	Archive    Archiver
	Cache      Invalidator
	Notifier   Notifier
}

// Options tunes a Reconciler.
type Options struct {
	Policy        Policy
	FetchTimeout  time.Duration
	States        []string
	RetentionDays int
}

type Reconciler struct {
	source  agmarknet.Source
	parts   *storage.PartitionStore
	meta    *storage.MetaStore
	popular *storage.PopularStore
	archive Archiver
	cache   Invalidator
	notify  Notifier

	policy        Policy
	fetchTimeout  time.Duration
	states        []string
	retentionDays int

	running atomic.Bool
	now     func() time.Time
}

func NewReconciler(deps Deps, opts Options) *Reconciler {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	if opts.Policy.Location == nil {
		opts.Policy = NewPolicy(opts.Policy.Anchor, nil)
	}
	return &Reconciler{
		source:        deps.Source,
		parts:         deps.Partitions,
		meta:          deps.Meta,
		popular:       deps.Popular,
		archive:       deps.Archive,
		cache:         deps.Cache,
		notify:        deps.Notifier,
		policy:        opts.Policy,
		fetchTimeout:  opts.FetchTimeout,
		states:        opts.States,
		retentionDays: opts.RetentionDays,
		now:           time.Now,
	}
}

// Running reports whether a run is in progress.
func (r *Reconciler) Running() bool { return r.running.Load() }

// Policy returns the due-date policy in use.
func (r *Reconciler) Policy() Policy { return r.policy }

// Run performs one reconciliation. Upstream failures produce a degraded
// result and a nil error; only storage failures are returned as errors.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRefreshInProgress
	}
	defer r.running.Store(false)

	now := r.now()
	idx, err := r.meta.Read()
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	if !opts.Force && !r.policy.Due(idx.Fetch.LastSuccessAt, now) {
		metrics.RefreshRuns.WithLabelValues(string(OutcomeSkipped)).Inc()
		slog.Debug("refresh not due", "last_success_at", idx.Fetch.LastSuccessAt)
		return &Result{Outcome: OutcomeSkipped, StartedAt: now, FinishedAt: now}, nil
	}

	date := opts.Date
	if date.IsZero() {
		date = now
	}
	date = date.In(r.policy.loc())

	res := &Result{
		RunID:     uuid.NewString(),
		Date:      date.Format(models.DateLayout),
		StartedAt: now,
	}
	log := slog.With("run_id", res.RunID, "date", res.Date, "forced", opts.Force)
	log.Info("refresh started")

	if _, err := r.meta.Update(func(m *models.MetaIndex) {
		m.RefreshStatus = models.RefreshRunning
		m.RefreshError = ""
		m.Fetch.LastAttemptAt = &now
		m.Fetch.LastRunID = res.RunID
	}); err != nil {
		return nil, fmt.Errorf("mark refresh running: %w", err)
	}
	r.emit(Event{Type: EventStarted, RunID: res.RunID, Time: now})

	records, failed := r.fetch(ctx, date)
	if len(records) == 0 {
		if len(failed) == 0 {
			failed = map[string]error{"": agmarknet.ErrNoData}
		}
		return r.degrade(res, &UpstreamFetchError{States: failed}, log)
	}

	written, err := r.store(res, records)
	if err != nil {
		r.fail(res, err)
		return nil, err
	}
	if res.Partitions == 0 {
		if failed == nil {
			failed = map[string]error{}
		}
		failed[""] = fmt.Errorf("all %d fetched records invalid", res.Dropped)
		return r.degrade(res, &UpstreamFetchError{States: failed}, log)
	}

	var upstream *UpstreamFetchError
	if len(failed) > 0 {
		upstream = &UpstreamFetchError{States: failed}
		res.Outcome = OutcomeDegraded
		res.Err = upstream
		res.Error = upstream.Error()
	} else {
		res.Outcome = OutcomeRefreshed
	}

	finished := r.now()
	if _, err := r.meta.Rebuild(r.parts, finished, func(m *models.MetaIndex) {
		m.Fetch.LastRunID = res.RunID
		if upstream == nil {
			m.RefreshStatus = models.RefreshIdle
			m.RefreshError = ""
			m.Fetch.LastSuccessAt = &finished
			m.Fetch.LastFetchSuccess = true
			m.Fetch.LastFetchError = ""
			m.Fetch.FetchAttempts = 0
			return
		}
		m.RefreshStatus = models.RefreshError
		m.RefreshError = upstream.Error()
		m.Fetch.LastFetchSuccess = false
		m.Fetch.LastFetchError = upstream.Error()
		m.Fetch.FetchAttempts++
	}); err != nil {
		err = fmt.Errorf("rebuild meta: %w", err)
		r.fail(res, err)
		return nil, err
	}

	for _, state := range res.States {
		if _, err := r.popular.Refresh(state); err != nil {
			log.Warn("popular index refresh failed", "state", state, "error", err)
		}
	}

	if r.archive != nil {
		if n, err := r.archive.UpsertPrices(ctx, written); err != nil {
			log.Warn("archive upsert failed", "error", err)
		} else {
			log.Debug("archived prices", "rows", n)
		}
	}

	if r.cache != nil {
		r.cache.Invalidate()
	}

	res.FinishedAt = finished
	metrics.RefreshRuns.WithLabelValues(string(res.Outcome)).Inc()
	r.emit(Event{
		Type:       EventCompleted,
		RunID:      res.RunID,
		Outcome:    res.Outcome,
		Records:    res.Records,
		Partitions: res.Partitions,
		Error:      res.Error,
		Time:       finished,
	})
	log.Info("refresh finished", "outcome", res.Outcome, "records", res.Records,
		"partitions", res.Partitions, "dropped", res.Dropped, "failed_states", len(failed))
	return res, nil
}

// fetch pulls records for date, per configured state when there are any.
// Failed states map to their errors.
func (r *Reconciler) fetch(ctx context.Context, date time.Time) ([]models.PriceRecord, map[string]error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	if len(r.states) == 0 {
		records, err := r.source.Fetch(ctx, models.FetchRequest{Date: date})
		if err != nil {
			return nil, map[string]error{"": err}
		}
		return records, nil
	}

	var (
		mu      sync.Mutex
		records []models.PriceRecord
		failed  = map[string]error{}
	)
	g := new(errgroup.Group)
	g.SetLimit(fetchConcurrency)
	for _, state := range r.states {
		state := state
		g.Go(func() error {
			recs, err := r.source.Fetch(ctx, models.FetchRequest{Date: date, State: state})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[state] = err
				return nil
			}
			records = append(records, recs...)
			return nil
		})
	}
	_ = g.Wait()
	return records, failed
}

type partitionKey struct {
	date, slug string
}

// store validates, groups and writes the fetched records, filling in res.
// It returns the records that were written.
func (r *Reconciler) store(res *Result, records []models.PriceRecord) ([]models.PriceRecord, error) {
	groups := map[partitionKey]*models.Partition{}
	dropped := map[partitionKey]int{}
	var keys []partitionKey

	for _, rec := range records {
		rec.Normalize()
		key := partitionKey{date: rec.Date, slug: storage.Slug(rec.State)}
		if err := rec.Validate(); err != nil {
			dropped[key]++
			res.Dropped++
			continue
		}
		p, ok := groups[key]
		if !ok {
			p = &models.Partition{Date: rec.Date, State: rec.State, FetchStatus: models.FetchSuccess}
			groups[key] = p
			keys = append(keys, key)
		}
		if rec.Source == models.SourceSyntheticFallback {
			p.FetchStatus = models.FetchPartial
			p.ErrorMessage = "synthetic fallback data"
		}
		rec.State = p.State
		p.Records = append(p.Records, rec)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].slug < keys[j].slug
	})

	var written []models.PriceRecord
	seen := map[string]bool{}
	now := r.now()
	for _, key := range keys {
		p := groups[key]
		if n := dropped[key]; n > 0 {
			p.FetchStatus = models.FetchPartial
			msg := fmt.Sprintf("%d invalid records dropped", n)
			if p.ErrorMessage != "" {
				msg = p.ErrorMessage + "; " + msg
			}
			p.ErrorMessage = msg
		}
		p.TotalRecords = len(p.Records)
		p.LastUpdated = now

		if err := r.parts.Write(p.Date, p.State, p); err != nil {
			return nil, fmt.Errorf("write partition %s/%s: %w", p.Date, p.State, err)
		}
		written = append(written, p.Records...)
		res.Partitions++
		res.Records += p.TotalRecords
		if !seen[key.slug] {
			seen[key.slug] = true
			res.States = append(res.States, p.State)
		}
	}
	return written, nil
}

// degrade records an upstream failure without touching any partition.
func (r *Reconciler) degrade(res *Result, upstream *UpstreamFetchError, log *slog.Logger) (*Result, error) {
	finished := r.now()
	if _, err := r.meta.Update(func(m *models.MetaIndex) {
		m.RefreshStatus = models.RefreshError
		m.RefreshError = upstream.Error()
		m.Fetch.LastFetchSuccess = false
		m.Fetch.LastFetchError = upstream.Error()
		m.Fetch.FetchAttempts++
	}); err != nil {
		return nil, fmt.Errorf("record fetch failure: %w", err)
	}

	res.Outcome = OutcomeDegraded
	res.Err = upstream
	res.Error = upstream.Error()
	res.FinishedAt = finished
	metrics.RefreshRuns.WithLabelValues(string(OutcomeDegraded)).Inc()
	r.emit(Event{Type: EventFailed, RunID: res.RunID, Outcome: OutcomeDegraded, Error: res.Error, Time: finished})
	log.Warn("refresh degraded, serving stored data", "error", upstream)
	return res, nil
}

// fail marks the index after a storage failure. The original error wins
// over any failure to record it.
func (r *Reconciler) fail(res *Result, cause error) {
	if _, err := r.meta.Update(func(m *models.MetaIndex) {
		m.RefreshStatus = models.RefreshError
		m.RefreshError = cause.Error()
	}); err != nil {
		slog.Error("record refresh failure", "run_id", res.RunID, "error", err)
	}
	metrics.RefreshRuns.WithLabelValues("error").Inc()
	r.emit(Event{Type: EventFailed, RunID: res.RunID, Error: cause.Error(), Time: r.now()})
	slog.Error("refresh failed", "run_id", res.RunID, "error", cause)
}

func (r *Reconciler) emit(ev Event) {
	if r.notify != nil {
		r.notify.Notify(ev)
	}
}

// Cleanup removes partitions older than the retention window and rebuilds
// the index when anything was removed.
func (r *Reconciler) Cleanup(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := r.now()
	removed, err := r.parts.Cleanup(r.retentionDays, now.In(r.policy.loc()))
	if err != nil {
		return removed, fmt.Errorf("cleanup partitions: %w", err)
	}
	if removed > 0 {
		if _, err := r.RebuildMeta(); err != nil {
			return removed, err
		}
		if r.cache != nil {
			r.cache.Invalidate()
		}
		slog.Info("removed expired partitions", "dates", removed, "retention_days", r.retentionDays)
	}
	return removed, nil
}

// RebuildMeta rescans the partitions into the index, keeping fetch state.
func (r *Reconciler) RebuildMeta() (*models.MetaIndex, error) {
	idx, err := r.meta.Rebuild(r.parts, r.now(), nil)
	if err != nil {
		return nil, fmt.Errorf("rebuild meta: %w", err)
	}
	return idx, nil
}

// String summarizes a result for CLI output.
func (r *Result) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "outcome=%s", r.Outcome)
	if r.RunID != "" {
		fmt.Fprintf(&b, " run=%s date=%s records=%d partitions=%d dropped=%d",
			r.RunID, r.Date, r.Records, r.Partitions, r.Dropped)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%q", r.Error)
	}
	return b.String()
}
