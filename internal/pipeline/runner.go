package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talmage/graceworks/internal/cache"
	"github.com/talmage/graceworks/internal/oracle"
	"github.com/talmage/graceworks/internal/results"
	"github.com/talmage/graceworks/internal/storage"
	"github.com/talmage/graceworks/internal/talks"
)

// Skip reasons beyond those produced by metadata and content extraction.
const (
	reasonReadError      = "read_error"
	reasonClassification = "classification_failed"
)

// Classifier scores one talk.
type Classifier interface {
	Classify(ctx context.Context, md talks.TalkMetadata, speaker, text string) (oracle.Classification, error)
	Model() string
}

// ResultStore persists classified records and answers which talks are
// already done.
type ResultStore interface {
	LoadProcessedKeys() (map[string]bool, error)
	AppendBatch(records []results.Record) error
}

// CacheStore persists the classification cache across runs.
type CacheStore interface {
	SaveCacheEntry(e storage.CacheEntry) error
	LoadCacheEntries() ([]storage.CacheEntry, error)
}

// Options tune one run. Zero values take documented defaults.
type Options struct {
	FlushEvery  int           // records per CSV flush; default 10
	MaxAttempts int           // attempts per talk for retryable failures; default 3
	RateLimit   time.Duration // minimum spacing between model calls; 0 disables
	Workers     int           // concurrent talks in flight; default 1
	Limit       int           // stop after this many newly processed talks; 0 means all
	SingleFile  string        // process only this file; empty means whole directory
}

func (o Options) withDefaults() Options {
	if o.FlushEvery <= 0 {
		o.FlushEvery = 10
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Summary reports what a run did. Skipped talks are recoverable and will be
// retried by the next run; failed talks exhausted their attempts.
type Summary struct {
	Discovered  int
	AlreadyDone int
	Processed   int
	Skipped     int
	Failed      int
	CacheHits   int
	SkipReasons map[string]int
}

// Runner drives talks through discovery, reconciliation, classification,
// and incremental persistence. Safe to re-run: completed talks are never
// re-processed, and completed work survives any mid-run abort.
type Runner struct {
	classifier Classifier
	store      ResultStore
	cache      *cache.Cache
	persist    CacheStore // may be nil
	logger     *slog.Logger
	opts       Options

	mu      sync.Mutex
	batch   []results.Record
	summary Summary

	// flushMu serializes AppendBatch calls; the results file has a single
	// writer.
	flushMu sync.Mutex
}

// NewRunner creates a Runner. persist may be nil to run without the durable
// cache.
func NewRunner(classifier Classifier, store ResultStore, c *cache.Cache, persist CacheStore, logger *slog.Logger, opts Options) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New(logger)
	}
	return &Runner{
		classifier: classifier,
		store:      store,
		cache:      c,
		persist:    persist,
		logger:     logger,
		opts:       opts.withDefaults(),
	}
}

// Run classifies every unprocessed talk in dir. Persistence failures abort
// the run; everything flushed before the abort stays durable.
func (r *Runner) Run(ctx context.Context, dir string) (Summary, error) {
	r.summary = Summary{SkipReasons: make(map[string]int)}
	r.batch = nil

	files, err := talks.Discover(dir)
	if err != nil {
		return r.summary, err
	}
	if r.opts.SingleFile != "" {
		files = filterSingle(files, r.opts.SingleFile)
		if len(files) == 0 {
			return r.summary, fmt.Errorf("file %s not found in %s", r.opts.SingleFile, dir)
		}
	}
	r.summary.Discovered = len(files)

	processed, err := r.store.LoadProcessedKeys()
	if err != nil {
		return r.summary, err
	}

	var pending []string
	for _, path := range files {
		if processed[filepath.Base(path)] {
			r.summary.AlreadyDone++
			continue
		}
		pending = append(pending, path)
	}
	if r.opts.Limit > 0 && len(pending) > r.opts.Limit {
		pending = pending[:r.opts.Limit]
	}

	if err := r.warmCache(); err != nil {
		return r.summary, err
	}

	r.logger.Info("run starting",
		"discovered", r.summary.Discovered,
		"already_done", r.summary.AlreadyDone,
		"pending", len(pending),
		"model", r.classifier.Model())

	var limiter <-chan time.Time
	if r.opts.RateLimit > 0 {
		t := time.NewTicker(r.opts.RateLimit)
		defer t.Stop()
		limiter = t.C
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, path := range pending {
		path := path
		g.Go(func() error {
			return r.processOne(gctx, path, limiter)
		})
	}
	if err := g.Wait(); err != nil {
		// Flush what completed before the abort.
		if ferr := r.flush(true); ferr != nil {
			r.logger.Error("flushing after abort", "error", ferr)
		}
		return r.snapshot(), err
	}

	if err := r.flush(true); err != nil {
		return r.snapshot(), err
	}

	s := r.snapshot()
	r.logger.Info("run finished",
		"processed", s.Processed,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"cache_hits", s.CacheHits)
	return s, nil
}

func (r *Runner) processOne(ctx context.Context, path string, limiter <-chan time.Time) error {
	md, err := talks.ParseFilename(path)
	if err != nil {
		r.skip(path, talks.ReasonUnparseableFilename, err)
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		r.skip(path, reasonReadError, err)
		return nil
	}

	content, err := talks.ExtractContent(raw)
	if err != nil {
		reason := reasonReadError
		var cerr *talks.ContentError
		if errors.As(err, &cerr) {
			reason = cerr.Reason
		}
		r.skip(path, reason, err)
		return nil
	}

	speaker := content.SpeakerName
	if speaker == "" {
		speaker = md.SpeakerName
	}

	hash := cache.Key(content.Text)
	result, hit, err := r.cache.GetOrCompute(hash, func() (oracle.Classification, error) {
		return r.classifyWithRetry(ctx, md, speaker, content.Text, limiter)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.fail(path, err)
		return nil
	}
	if hit {
		r.mu.Lock()
		r.summary.CacheHits++
		r.mu.Unlock()
	} else if r.persist != nil {
		if err := r.saveCacheEntry(hash, result); err != nil {
			r.logger.Warn("persisting cache entry", "file", md.Filename, "error", err)
		}
	}

	record := results.Record{
		Filename:       md.Filename,
		Year:           md.Year,
		Month:          md.Month,
		SessionID:      md.SessionID,
		TalkIdentifier: md.TalkIdentifier,
		SpeakerName:    speaker,
		TextPreview:    results.Preview(content.Text),
		Score:          result.Score,
		Explanation:    result.Explanation,
		KeyPhrases:     result.KeyPhrases,
		ModelUsed:      result.ModelUsed,
	}

	r.mu.Lock()
	r.batch = append(r.batch, record)
	r.summary.Processed++
	flushNow := len(r.batch) >= r.opts.FlushEvery
	r.mu.Unlock()

	r.logger.Info("talk classified",
		"file", md.Filename,
		"score", result.Score,
		"cache_hit", hit)

	if flushNow {
		return r.flush(false)
	}
	return nil
}

// classifyWithRetry calls the model with exponential backoff on retryable
// failures. Invalid responses are permanent for the attempt and surface
// immediately; the talk stays unprocessed for the next run.
func (r *Runner) classifyWithRetry(ctx context.Context, md talks.TalkMetadata, speaker, text string, limiter <-chan time.Time) (oracle.Classification, error) {
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if limiter != nil {
			select {
			case <-limiter:
			case <-ctx.Done():
				return oracle.Classification{}, ctx.Err()
			}
		}

		result, err := r.classifier.Classify(ctx, md, speaker, text)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var oerr *oracle.Error
		if !errors.As(err, &oerr) || !oerr.Retryable {
			return oracle.Classification{}, err
		}
		if attempt == r.opts.MaxAttempts {
			break
		}

		backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
		r.logger.Warn("retrying classification",
			"file", md.Filename,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return oracle.Classification{}, ctx.Err()
		}
	}
	return oracle.Classification{}, lastErr
}

// flush appends the buffered batch to the results file. force flushes even
// a partial batch.
func (r *Runner) flush(force bool) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if !force && len(r.batch) < r.opts.FlushEvery {
		r.mu.Unlock()
		return nil
	}
	batch := r.batch
	r.batch = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := r.store.AppendBatch(batch); err != nil {
		return fmt.Errorf("flushing %d records: %w", len(batch), err)
	}
	r.logger.Debug("flushed results", "records", len(batch))
	return nil
}

func (r *Runner) warmCache() error {
	if r.persist == nil {
		return nil
	}
	entries, err := r.persist.LoadCacheEntries()
	if err != nil {
		return fmt.Errorf("loading cache entries: %w", err)
	}
	for _, e := range entries {
		var phrases []string
		if e.KeyPhrases != "" {
			if err := json.Unmarshal([]byte(e.KeyPhrases), &phrases); err != nil {
				r.logger.Warn("discarding cache entry with bad key_phrases", "hash", e.ContentHash)
				continue
			}
		}
		r.cache.Put(e.ContentHash, oracle.Classification{
			Score:       e.Score,
			Explanation: e.Explanation,
			KeyPhrases:  phrases,
			ModelUsed:   e.Model,
		})
	}
	if len(entries) > 0 {
		r.logger.Debug("cache warmed", "entries", len(entries))
	}
	return nil
}

func (r *Runner) saveCacheEntry(hash string, result oracle.Classification) error {
	phrases, err := json.Marshal(result.KeyPhrases)
	if err != nil {
		return err
	}
	return r.persist.SaveCacheEntry(storage.CacheEntry{
		ContentHash: hash,
		Score:       result.Score,
		Explanation: result.Explanation,
		KeyPhrases:  string(phrases),
		Model:       result.ModelUsed,
		CreatedAt:   time.Now(),
	})
}

func (r *Runner) skip(path, reason string, err error) {
	r.mu.Lock()
	r.summary.Skipped++
	r.summary.SkipReasons[reason]++
	r.mu.Unlock()
	r.logger.Warn("skipping talk", "file", filepath.Base(path), "reason", reason, "error", err)
}

func (r *Runner) fail(path string, err error) {
	reason := reasonClassification
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		reason = oerr.Reason
	}
	r.mu.Lock()
	r.summary.Failed++
	r.summary.SkipReasons[reason]++
	r.mu.Unlock()
	r.logger.Error("talk failed", "file", filepath.Base(path), "reason", reason, "error", err)
}

func (r *Runner) snapshot() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.summary
	reasons := make(map[string]int, len(s.SkipReasons))
	for k, v := range s.SkipReasons {
		reasons[k] = v
	}
	s.SkipReasons = reasons
	return s
}

func filterSingle(files []string, name string) []string {
	base := filepath.Base(name)
	for _, f := range files {
		if filepath.Base(f) == base {
			return []string{f}
		}
	}
	return nil
}
