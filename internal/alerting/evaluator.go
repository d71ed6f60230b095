package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fuelwatch/internal/domain"
	"fuelwatch/internal/geocode"
	"fuelwatch/internal/search"
	"fuelwatch/internal/storage"
)

// Searcher answers radius queries for the evaluator. Satisfied by
// *search.Service.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// Options tune evaluator behaviour.
type Options struct {
	Workers      int
	MaxPerWindow int
	Window       time.Duration
}

// Evaluator runs the alert pass: every enabled rule is checked for a
// qualifying price drop inside its search area, dispatching and recording
// notifications under the per-rule throttle.
type Evaluator struct {
	rules      storage.AlertRuleStore
	runs       storage.RunStore
	searcher   Searcher
	dispatcher Dispatcher
	opts       Options
	now        func() time.Time
	logger     zerolog.Logger
}

// New constructs the evaluator.
func New(rules storage.AlertRuleStore, runs storage.RunStore, searcher Searcher, dispatcher Dispatcher, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxPerWindow <= 0 {
		opts.MaxPerWindow = 2
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Evaluator{
		rules:      rules,
		runs:       runs,
		searcher:   searcher,
		dispatcher: dispatcher,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With().Str("component", "alert_evaluator").Logger(),
	}
}

type outcome string

const (
	outcomeNotified   outcome = "notified"
	outcomeSuppressed outcome = "suppressed"
	outcomeBaselined  outcome = "baselined"
	outcomeNoDrop     outcome = "no_drop"
	outcomeNoMarket   outcome = "no_market"
	outcomeUnchanged  outcome = "unchanged"
	outcomeLostRace   outcome = "lost_race"
)

// Run evaluates every enabled rule and records the pass. Rules are
// independent, so evaluation is parallelised; dispatch-and-record for one
// rule is made atomic by the guarded trigger-state update in storage.
func (e *Evaluator) Run(ctx context.Context) (domain.Run, error) {
	startedAt := e.now()

	rules, err := e.rules.ListEnabledAlertRules(ctx)
	if err != nil {
		run := e.buildRun(startedAt, domain.RunFailed, nil, []string{fmt.Sprintf("list rules: %v", err)})
		e.record(run)
		return run, fmt.Errorf("list enabled rules: %w", err)
	}

	var (
		mu       sync.Mutex
		counters = map[string]int{"rules_evaluated": 0}
		errs     []string
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Workers)

	for _, rule := range rules {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}

			result, evalErr := e.evaluateRule(groupCtx, rule)

			mu.Lock()
			defer mu.Unlock()
			counters["rules_evaluated"]++
			if evalErr != nil {
				counters["failed"]++
				errs = append(errs, fmt.Sprintf("rule %s: %v", rule.ID, evalErr))
				return nil
			}
			counters[string(result)]++
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		run := e.buildRun(startedAt, domain.RunFailed, counters,
			append(errs, fmt.Sprintf("pass aborted: %v", err)))
		e.record(run)
		return run, err
	}

	succeeded := counters["rules_evaluated"] - counters["failed"]
	status := domain.ClassifyStatus(succeeded, len(errs))
	if counters["rules_evaluated"] == 0 {
		status = domain.RunSuccess
	}

	run := e.buildRun(startedAt, status, counters, errs)
	e.record(run)

	e.logger.Info().
		Str("status", string(run.Status)).
		Int("rules", counters["rules_evaluated"]).
		Int("notified", counters[string(outcomeNotified)]).
		Int("suppressed", counters[string(outcomeSuppressed)]).
		Int("errors", len(errs)).
		Msg("alert pass finished")

	return run, nil
}

func (e *Evaluator) evaluateRule(ctx context.Context, rule domain.AlertRule) (outcome, error) {
	q := search.Query{
		RadiusMiles: rule.RadiusMiles,
		Fuel:        rule.Fuel,
	}
	if rule.HasCoordinates() {
		q.Latitude = rule.Latitude
		q.Longitude = rule.Longitude
	} else {
		q.Postcode = rule.Postcode
	}

	results, err := e.searcher.Search(ctx, q)
	if err != nil {
		if errors.Is(err, geocode.ErrNotResolvable) {
			return "", fmt.Errorf("location not resolvable: %w", err)
		}
		return "", fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		return outcomeNoMarket, nil
	}

	// Results are sorted by price; the head is the in-radius cheapest.
	cheapest := results[0]

	ref := rule.ReferencePpl()
	if ref == nil {
		// First sighting of a market for this rule: capture the baseline
		// instead of notifying against nothing.
		if err := e.rules.SetAlertBaseline(ctx, rule.ID.String(), cheapest.PricePpl); err != nil {
			return "", fmt.Errorf("set baseline: %w", err)
		}
		return outcomeBaselined, nil
	}

	if rule.LastNotifiedPpl != nil && cheapest.PricePpl == *rule.LastNotifiedPpl {
		return outcomeUnchanged, nil
	}

	drop := *ref - cheapest.PricePpl
	if drop < rule.ThresholdPpl {
		return outcomeNoDrop, nil
	}

	now := e.now()
	recent := trimWindow(rule.NotifiedAt, now.Add(-e.opts.Window))

	if len(recent) >= e.opts.MaxPerWindow {
		// Over the cap: remember the price so this drop is not retried,
		// but send nothing and leave the dispatch window untouched.
		applied, err := e.rules.MarkAlertSuppressed(ctx, rule.ID.String(), cheapest.PricePpl, rule.LastNotifiedPpl)
		if err != nil {
			return "", fmt.Errorf("mark suppressed: %w", err)
		}
		if !applied {
			return outcomeLostRace, nil
		}
		return outcomeSuppressed, nil
	}

	note := Notification{
		RuleID:      rule.ID.String(),
		UserID:      rule.UserID,
		StationID:   cheapest.Station.ID,
		StationName: cheapest.Station.Name,
		Fuel:        rule.Fuel,
		PricePpl:    cheapest.PricePpl,
		DropPpl:     drop,
		ObservedAt:  cheapest.SourceTS,
	}
	if err := e.dispatcher.Dispatch(ctx, note); err != nil {
		// Trigger state untouched: the same drop is retried next pass.
		return "", fmt.Errorf("dispatch: %w", err)
	}

	window := append(recent, now)
	applied, err := e.rules.MarkAlertNotified(ctx, rule.ID.String(), cheapest.PricePpl, now, window, rule.LastNotifiedPpl)
	if err != nil {
		return "", fmt.Errorf("mark notified: %w", err)
	}
	if !applied {
		return outcomeLostRace, nil
	}
	return outcomeNotified, nil
}

func (e *Evaluator) buildRun(startedAt time.Time, status domain.RunStatus, counters map[string]int, errs []string) domain.Run {
	if counters == nil {
		counters = map[string]int{}
	}
	return domain.Run{
		ID:         uuid.New(),
		Kind:       domain.RunAlert,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: e.now(),
		Counters:   counters,
		Errors:     errs,
	}
}

func (e *Evaluator) record(run domain.Run) {
	if e.runs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.runs.InsertRun(ctx, run); err != nil {
		e.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("failed to record run")
	}
}

func trimWindow(stamps []time.Time, cutoff time.Time) []time.Time {
	trimmed := make([]time.Time, 0, len(stamps))
	for _, ts := range stamps {
		if ts.After(cutoff) {
			trimmed = append(trimmed, ts)
		}
	}
	return trimmed
}
