// Package novelty orchestrates the scoring pipeline: validate the input,
// embed it, optionally persist it, query the nearest neighbors and turn
// their similarities into a novelty score. Each request is independent;
// the store is the only shared state.
package novelty

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scorelab/noveltyd/internal/embedding"
	"github.com/scorelab/noveltyd/internal/observability"
	"github.com/scorelab/noveltyd/internal/scoring"
	"github.com/scorelab/noveltyd/internal/store"
)

const (
	// MinTextLength is the smallest text accepted for scoring.
	MinTextLength = 10
	// DefaultNeighborLimit is the number of neighbors fed into the score.
	DefaultNeighborLimit = 5
)

// Config holds orchestrator settings.
type Config struct {
	// Mode selects the corpus identity policy (one per deployment).
	Mode store.Mode
	// NeighborLimit caps the similarity query (default 5).
	NeighborLimit int
}

// Report is the outcome of a novelty check.
type Report struct {
	Key            string
	Score          float64
	Interpretation string
	Description    string
	Neighbors      []store.Neighbor
	TotalChecked   int64
}

// Service coordinates the embedding provider, similarity store and
// scoring engine. Safe for concurrent use.
type Service struct {
	provider embedding.Provider
	store    store.Store
	mode     store.Mode
	limit    int
}

// New creates a Service. The provider is injected (typically an
// embedding.Lazy) rather than discovered globally, so tests substitute a
// fake.
func New(provider embedding.Provider, st store.Store, cfg Config) *Service {
	limit := cfg.NeighborLimit
	if limit <= 0 {
		limit = DefaultNeighborLimit
	}
	mode := cfg.Mode
	if mode == "" {
		mode = store.ModeUpsert
	}
	return &Service{provider: provider, store: st, mode: mode, limit: limit}
}

// Mode returns the deployment's corpus identity policy.
func (s *Service) Mode() store.Mode { return s.mode }

// CheckAndStore runs the "check and remember" pipeline: the text is
// persisted first (upsert or append per mode), then compared against the
// rest of the corpus with its own key excluded.
func (s *Service) CheckAndStore(ctx context.Context, key, text string) (report *Report, err error) {
	ctx, span := observability.StartCheckSpan(ctx, "check_and_store")
	defer span.End()
	defer recordCheck(time.Now(), &report, &err)

	if err := validateText(text); err != nil {
		return nil, observability.FailSpan(span, stageErr(StageValidate, err))
	}
	key, err = s.resolveKey(key)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageValidate, err))
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageEmbed, err))
	}

	if _, err := s.persist(ctx, key, text, vec); err != nil {
		return nil, observability.FailSpan(span, stageErr(StageStore, err))
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageQuery, err))
	}

	neighbors, err := s.nearest(ctx, vec, key, total)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageQuery, err))
	}

	report = buildReport(key, neighbors, total)
	observability.RecordScore(span, report.Score, len(neighbors))
	return report, nil
}

// Check runs the read-only pipeline: the text is never persisted. An
// empty corpus short-circuits to the defined score-100 case without
// touching the embedding provider.
func (s *Service) Check(ctx context.Context, text string) (report *Report, err error) {
	ctx, span := observability.StartCheckSpan(ctx, "check")
	defer span.End()
	defer recordCheck(time.Now(), &report, &err)

	if err := validateText(text); err != nil {
		return nil, observability.FailSpan(span, stageErr(StageValidate, err))
	}

	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageQuery, err))
	}
	if total == 0 {
		report = buildReport("", nil, 0)
		observability.RecordScore(span, report.Score, 0)
		return report, nil
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageEmbed, err))
	}

	neighbors, err := s.nearest(ctx, vec, "", total)
	if err != nil {
		return nil, observability.FailSpan(span, stageErr(StageQuery, err))
	}

	report = buildReport("", neighbors, total)
	observability.RecordScore(span, report.Score, len(neighbors))
	return report, nil
}

// Ingest persists a document without scoring it. Returns the record's
// durable id and the key it was stored under.
func (s *Service) Ingest(ctx context.Context, key, text string) (int64, string, error) {
	ctx, span := observability.StartCheckSpan(ctx, "ingest")
	defer span.End()

	if err := validateText(text); err != nil {
		return 0, "", observability.FailSpan(span, stageErr(StageValidate, err))
	}
	key, err := s.resolveKey(key)
	if err != nil {
		return 0, "", observability.FailSpan(span, stageErr(StageValidate, err))
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return 0, "", observability.FailSpan(span, stageErr(StageEmbed, err))
	}

	id, err := s.persist(ctx, key, text, vec)
	observability.Metrics().RecordIngest(err)
	if err != nil {
		return 0, "", observability.FailSpan(span, stageErr(StageStore, err))
	}
	return id, key, nil
}

// embed runs the provider call under its own span and records its
// latency.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := observability.StartEmbedSpan(ctx, s.provider.Name(), 1)
	defer span.End()

	start := time.Now()
	vec, err := embedding.EmbedOne(ctx, s.provider, text)
	observability.Metrics().RecordEmbed(time.Since(start), err)
	if err != nil {
		return nil, observability.FailSpan(span, err)
	}
	return vec, nil
}

// nearest runs the similarity query and records the corpus size it ran
// against.
func (s *Service) nearest(ctx context.Context, vec []float32, excludeKey string, total int64) ([]store.Neighbor, error) {
	start := time.Now()
	neighbors, err := s.store.Nearest(ctx, vec, excludeKey, s.limit)
	if err != nil {
		return nil, err
	}
	observability.Metrics().RecordStoreQuery(time.Since(start), total)
	return neighbors, nil
}

// recordCheck feeds the check outcome into the metric set; deferred so
// every exit path of a check reports exactly once.
func recordCheck(start time.Time, report **Report, err *error) {
	var score float64
	if *report != nil {
		score = (*report).Score
	}
	observability.Metrics().RecordCheck(time.Since(start), score, *err)
}

func (s *Service) persist(ctx context.Context, key, text string, vec []float32) (int64, error) {
	if s.mode == store.ModeAppend {
		return s.store.Insert(ctx, key, text, vec)
	}
	return s.store.Upsert(ctx, key, text, vec)
}

// resolveKey enforces the key policy: upsert mode requires a caller key;
// append mode generates one when absent.
func (s *Service) resolveKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key != "" {
		return key, nil
	}
	if s.mode == store.ModeAppend {
		return uuid.NewString(), nil
	}
	return "", &ValidationError{Field: "key", Reason: "required and cannot be empty"}
}

// validateText counts characters of the raw input, not bytes and not a
// trimmed form, so multi-byte text is measured by length as typed.
func validateText(text string) error {
	if utf8.RuneCountInString(text) < MinTextLength {
		return &ValidationError{
			Field:  "text",
			Reason: "too short, provide at least 10 characters",
		}
	}
	return nil
}

func buildReport(key string, neighbors []store.Neighbor, total int64) *Report {
	sims := make([]float64, len(neighbors))
	for i, n := range neighbors {
		sims[i] = n.Similarity
	}
	score := scoring.Score(sims)
	report := &Report{
		Key:            key,
		Score:          score,
		Interpretation: scoring.Interpretation(score),
		Description:    scoring.Describe(score),
		Neighbors:      neighbors,
		TotalChecked:   total,
	}
	if total == 0 {
		report.Description = "No proposals in database - completely novel by default"
	}
	if report.Neighbors == nil {
		report.Neighbors = []store.Neighbor{}
	}
	return report
}
