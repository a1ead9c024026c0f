// Package poller runs poll cycles: select stale sources, fetch them
// concurrently, advance watermarks and fan new content out to subscribers.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tubewatch/db"
	"tubewatch/models"
	"tubewatch/notify"
	"tubewatch/registry"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const DefaultBatchSize = 50

type Config struct {
	// BatchSize bounds the sources fetched per cycle
	BatchSize int
	// MaxFailures unsubscribes everyone from a source after that many
	// consecutive failed fetches. Zero disables it.
	MaxFailures int
}

type Deliverer interface {
	Deliver(ctx context.Context, inst *models.Installation, scope models.Scope, sourceID, message string) models.DeliveryOutcome
}

type Poller struct {
	registry   *registry.Registry
	dispatcher Deliverer
	config     Config
	now        func() time.Time

	// one cycle or refresh at a time
	mu sync.Mutex
}

type Option func(*Poller)

func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

func New(reg *registry.Registry, dispatcher Deliverer, cfg Config, opts ...Option) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	p := &Poller{
		registry:   reg,
		dispatcher: dispatcher,
		config:     cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CycleReport summarises one pass.
type CycleReport struct {
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	DurationMS         int64         `json:"duration_ms"`
	SourcesProcessed   int           `json:"sources_processed"`
	SourcesWithContent int           `json:"sources_with_content"`
	FetchFailures      int           `json:"fetch_failures"`
	DroppedSources     int           `json:"dropped_sources"`
	Notifications      int           `json:"notifications"`
	Delivered          int           `json:"delivered"`
	DeliveryFailures   int           `json:"delivery_failures"`
	Revoked            int           `json:"revoked"`
	Skipped            int           `json:"skipped"`
}

func (r *CycleReport) finish(at time.Time) {
	r.Duration = at.Sub(r.StartedAt)
	r.DurationMS = r.Duration.Milliseconds()
}

func (r CycleReport) fields() log.Fields {
	return log.Fields{
		"sources":          r.SourcesProcessed,
		"withContent":      r.SourcesWithContent,
		"fetchFailures":    r.FetchFailures,
		"dropped":          r.DroppedSources,
		"notifications":    r.Notifications,
		"delivered":        r.Delivered,
		"deliveryFailures": r.DeliveryFailures,
		"revoked":          r.Revoked,
		"skipped":          r.Skipped,
		"duration":         r.Duration,
	}
}

// RunCycle runs one poll cycle to completion. Only storage failures while
// pruning or selecting the batch are returned; everything else is counted in
// the report.
func (p *Poller) RunCycle(ctx context.Context) (CycleReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := CycleReport{StartedAt: p.now()}
	fail := func(err error) (CycleReport, error) {
		report.finish(p.now())
		cyclesTotal.WithLabelValues("error").Inc()
		log.WithError(err).Error("Error processing subscriptions")
		return report, err
	}

	if _, err := p.registry.Prune(ctx); err != nil {
		return fail(fmt.Errorf("prune: %w", err))
	}
	due, err := p.registry.DueSources(ctx, p.config.BatchSize)
	if err != nil {
		return fail(fmt.Errorf("select batch: %w", err))
	}

	p.process(ctx, due, &report)

	report.finish(p.now())
	cyclesTotal.WithLabelValues("ok").Inc()
	cycleDuration.Observe(report.Duration.Seconds())
	log.WithFields(report.fields()).Info("Refreshed all subscriptions")
	return report, nil
}

// RefreshScope polls the sources scope is subscribed to right away. New
// content is delivered to every subscriber of those sources, not only to
// scope, because the watermark it advances is shared.
func (p *Poller) RefreshScope(ctx context.Context, scope models.Scope) (CycleReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := CycleReport{StartedAt: p.now()}
	inst, err := p.registry.Installation(ctx, scope)
	if err != nil {
		return report, err
	}
	if !inst.CanNotify() {
		return report, registry.ErrNotInstalled
	}
	sources, err := p.registry.List(ctx, scope)
	if err != nil {
		return report, err
	}

	p.process(ctx, sources, &report)

	report.finish(p.now())
	log.WithFields(report.fields()).WithField("scope", scope.String()).Info("Refreshed scope")
	return report, nil
}

type delivery struct {
	sub     db.Subscriber
	message string
}

func (p *Poller) process(ctx context.Context, sources []models.FeedSource, report *CycleReport) {
	report.SourcesProcessed = len(sources)
	if len(sources) == 0 {
		return
	}

	fetchedAt := p.now()
	results := p.fetchAll(ctx, sources)

	var deliveries []delivery
	for _, src := range sources {
		fields := log.Fields{"source": src.SourceID}

		switch res := results[src.SourceID].(type) {
		case models.FeedItems:
			if _, err := p.registry.AdvanceWatermark(ctx, src.SourceID, fetchedAt); err != nil {
				log.WithFields(fields).WithError(err).Warn("Error advancing watermark")
			}
			if len(res.Items) == 0 {
				fetchesTotal.WithLabelValues("empty").Inc()
				continue
			}
			fetchesTotal.WithLabelValues("ok").Inc()
			report.SourcesWithContent++

			idx, err := p.registry.Interest(ctx, []string{src.SourceID})
			if err != nil {
				log.WithFields(fields).WithError(err).Warn("Error resolving subscribers")
				continue
			}
			message := notify.FormatItems(res.Items)
			for _, sub := range idx.Subscribers(src.SourceID) {
				if !sub.Installation.CanNotify() {
					report.Skipped++
					continue
				}
				deliveries = append(deliveries, delivery{sub: sub, message: message})
			}

		case models.FetchFailed:
			fetchesTotal.WithLabelValues("failed").Inc()
			report.FetchFailures++
			if p.recordFailure(ctx, src.SourceID) {
				report.DroppedSources++
			}

		default:
			log.WithFields(fields).Errorf("Unexpected feed result %T", res)
		}
	}

	for _, outcome := range p.dispatchAll(ctx, deliveries) {
		report.Notifications++
		notificationsTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case models.Delivered:
			report.Delivered++
		case models.DeliveryFailed:
			report.DeliveryFailures++
		case models.AuthorizationRevoked:
			report.Revoked++
			autoUnsubscribes.WithLabelValues("revoked").Inc()
		}
	}
}

// fetchAll fetches every source concurrently. A failing fetch never
// cancels the others.
func (p *Poller) fetchAll(ctx context.Context, sources []models.FeedSource) map[string]models.FeedResult {
	log.WithField("sources", len(sources)).Info("Checking for new content")

	feeds := p.registry.Feeds()
	results := make([]models.FeedResult, len(sources))
	var g errgroup.Group
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = feeds.FetchSince(ctx, src.SourceID, src.Watermark())
			return nil
		})
	}
	_ = g.Wait()

	byID := make(map[string]models.FeedResult, len(sources))
	for i, src := range sources {
		byID[src.SourceID] = results[i]
	}
	return byID
}

// dispatchAll delivers concurrently and waits for every delivery to settle.
func (p *Poller) dispatchAll(ctx context.Context, deliveries []delivery) []models.DeliveryOutcome {
	outcomes := make([]models.DeliveryOutcome, len(deliveries))
	var g errgroup.Group
	for i, d := range deliveries {
		i, d := i, d
		g.Go(func() error {
			outcomes[i] = p.dispatcher.Deliver(ctx, d.sub.Installation, d.sub.Scope, d.sub.SourceID, d.message)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// recordFailure bumps the failure counter and drops the source once it
// reaches MaxFailures. Reports whether the source was dropped.
func (p *Poller) recordFailure(ctx context.Context, sourceID string) bool {
	fields := log.Fields{"source": sourceID}
	count, err := p.registry.RecordFailure(ctx, sourceID)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Error recording fetch failure")
		return false
	}
	if p.config.MaxFailures <= 0 || count < p.config.MaxFailures {
		return false
	}

	links, err := p.registry.DropSource(ctx, sourceID)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("Error dropping failing source")
		return false
	}
	autoUnsubscribes.WithLabelValues("fetch_failures").Add(float64(links))
	log.WithFields(fields).WithFields(log.Fields{
		"failures": count,
		"links":    links,
	}).Warn("Feed failed too many times, unsubscribed everyone")
	return true
}
