package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marketplace-relay/internal/config"
	apperrors "github.com/marketplace-relay/internal/errors"
	"github.com/marketplace-relay/internal/logging"
	"github.com/marketplace-relay/internal/mail"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// NotificationStore is the dedup persistence surface. Implemented by
// storage.NotificationRepository.
type NotificationStore interface {
	HasBeenSent(ctx context.Context, entityID string, emailType types.EmailType) (bool, error)
	RecordSent(ctx context.Context, entityID string, emailType types.EmailType, sentAt time.Time) error
}

// ProbeStore is the run-checkpoint persistence surface. Implemented by
// storage.CronProbeRepository.
type ProbeStore interface {
	Get(ctx context.Context, emailType types.EmailType) (*models.CronProbe, error)
	Upsert(ctx context.Context, probe *models.CronProbe) error
}

// RecipientDirectory resolves a wallet address to the local account, used to
// find the plain email address when SMTP delivery is active.
type RecipientDirectory interface {
	GetByAddress(ctx context.Context, address string) (*models.User, error)
}

// RunInput selects what a single dispatch run covers. A non-nil Since
// overrides the stored watermark and marks the run as manual: manual runs
// never advance the checkpoint.
type RunInput struct {
	EmailType types.EmailType
	Since     *time.Time
}

// RunStats is the outcome of one dispatch run. Failed counts messages that
// were attempted and not confirmed; they stay eligible for the next run.
type RunStats struct {
	Sent   int
	Failed int
}

// Summary renders the stats in the fixed plain-text report format.
func (s RunStats) Summary() string {
	return fmt.Sprintf("%d emails sent | %d non-sent", s.Sent, s.Failed)
}

// Dispatcher runs the notification pipeline for one category at a time:
// fetch, dedup, preference filter, render, send, persist. Sends run on a
// bounded worker pool; the dedup record is written only after the provider
// confirms delivery, so delivery is at-least-once and duplicates are
// prevented across overlapping windows.
type Dispatcher struct {
	source        EventSource
	prefs         PreferenceFilter
	renderer      *mail.Renderer
	provider      mail.Provider
	notifications NotificationStore
	probes        ProbeStore
	directory     RecipientDirectory
	mode          types.NotificationMode
	cfg           *config.NotifyConfig
	now           func() time.Time
}

// NewDispatcher creates a dispatcher. directory may be nil when the web3
// provider is active; wallet addresses are then used as recipients directly.
func NewDispatcher(
	source EventSource,
	prefs PreferenceFilter,
	renderer *mail.Renderer,
	provider mail.Provider,
	notifications NotificationStore,
	probes ProbeStore,
	directory RecipientDirectory,
	mode types.NotificationMode,
	cfg *config.NotifyConfig,
) *Dispatcher {
	return &Dispatcher{
		source:        source,
		prefs:         prefs,
		renderer:      renderer,
		provider:      provider,
		notifications: notifications,
		probes:        probes,
		directory:     directory,
		mode:          mode,
		cfg:           cfg,
		now:           time.Now,
	}
}

// Run executes one dispatch run. Empty stages end the run early with zero
// stats and no error. The checkpoint is upserted for every scheduled run,
// including empty and failed ones, so the next watermark always moves.
func (d *Dispatcher) Run(ctx context.Context, input RunInput) (RunStats, error) {
	start := d.now()
	logger := logging.FromContext(ctx).WithField("email_type", string(input.EmailType))

	if d.cfg.RunBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.RunBudget)
		defer cancel()
	}

	since, err := d.watermark(ctx, input, start)
	if err != nil {
		return RunStats{}, err
	}

	stats, runErr := d.runStages(ctx, input.EmailType, since, logger)

	if input.Since == nil {
		d.checkpoint(ctx, input.EmailType, start, stats, logger)
	}

	if runErr != nil {
		var empty *apperrors.EmptyError
		if errors.As(runErr, &empty) {
			logger.WithField("stage", empty.Stage).Info("Dispatch run ended early: nothing to send")
			return stats, nil
		}
		return stats, runErr
	}

	logger.WithFields(map[string]interface{}{
		"sent":     stats.Sent,
		"failed":   stats.Failed,
		"duration": d.now().Sub(start).String(),
	}).Info("Dispatch run finished")

	return stats, nil
}

// watermark computes the lookback start. Scheduled runs use the stored
// checkpoint, widened by the retry factor so a missed run's events are
// re-covered; over-fetching is safe because dedup is enforced at send time.
func (d *Dispatcher) watermark(ctx context.Context, input RunInput, now time.Time) (time.Time, error) {
	if input.Since != nil {
		return *input.Since, nil
	}

	probe, err := d.probes.Get(ctx, input.EmailType)
	if err != nil {
		return time.Time{}, err
	}
	if probe == nil {
		return now.Add(-d.cfg.DefaultWindow), nil
	}

	since := probe.LastRanAt
	if d.cfg.RetryFactor > 0 {
		widened := now.Add(-time.Duration(d.cfg.RetryFactor) * d.cfg.BaseInterval)
		if widened.Before(since) {
			since = widened
		}
	}

	return since, nil
}

func (d *Dispatcher) runStages(ctx context.Context, emailType types.EmailType, since time.Time, logger *logging.Logger) (RunStats, error) {
	events, err := d.source.Fetch(ctx, emailType, since)
	if err != nil {
		return RunStats{}, err
	}
	if len(events) == 0 {
		return RunStats{}, apperrors.NewEmptyError("fetching", "no new events since watermark")
	}
	logger.WithField("fetched", len(events)).Debug("Fetched candidate events")

	fresh, err := d.dedup(ctx, emailType, events)
	if err != nil {
		return RunStats{}, err
	}
	if len(fresh) == 0 {
		return RunStats{}, apperrors.NewEmptyError("dedup", "all events already notified")
	}

	wanted, err := d.prefs.Filter(ctx, emailType, fresh)
	if err != nil {
		return RunStats{}, err
	}
	if len(wanted) == 0 {
		return RunStats{}, apperrors.NewEmptyError("preferences", "no recipient opted into this category")
	}

	return d.sendAll(ctx, emailType, wanted, logger), nil
}

func (d *Dispatcher) dedup(ctx context.Context, emailType types.EmailType, events []types.NotificationEvent) ([]types.NotificationEvent, error) {
	fresh := make([]types.NotificationEvent, 0, len(events))
	for _, event := range events {
		sent, err := d.notifications.HasBeenSent(ctx, event.EntityID, emailType)
		if err != nil {
			return nil, err
		}
		if !sent {
			fresh = append(fresh, event)
		}
	}
	return fresh, nil
}

// sendAll delivers the surviving events on a bounded worker pool. A failed
// message is counted, logged and left unrecorded; it will be retried by a
// later run. Nothing here aborts the whole batch.
func (d *Dispatcher) sendAll(ctx context.Context, emailType types.EmailType, events []types.NotificationEvent, logger *logging.Logger) RunStats {
	concurrency := d.cfg.MaxConcurrent
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu    sync.Mutex
		stats RunStats
		wg    sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	for _, event := range events {
		wg.Add(1)
		sem <- struct{}{}
		go func(event types.NotificationEvent) {
			defer wg.Done()
			defer func() { <-sem }()

			err := d.sendOne(ctx, emailType, event)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				logger.WithError(err).WithField("entity_id", event.EntityID).Warn("Notification not sent")
				return
			}
			stats.Sent++
		}(event)
	}

	wg.Wait()
	return stats
}

func (d *Dispatcher) sendOne(ctx context.Context, emailType types.EmailType, event types.NotificationEvent) error {
	msg, err := d.renderer.Render(emailType, event)
	if err != nil {
		return err
	}

	recipient, err := d.resolveRecipient(ctx, event)
	if err != nil {
		return err
	}
	msg.Recipients = []string{recipient}

	if err := d.provider.Send(ctx, msg); err != nil {
		return err
	}

	// The send is confirmed; record it immediately so a crash between here
	// and the end of the run cannot cause a duplicate later.
	if err := d.notifications.RecordSent(ctx, event.EntityID, emailType, d.now()); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("entity_id", event.EntityID).Error("Sent notification could not be recorded")
	}

	return nil
}

// resolveRecipient picks the delivery target. The web3 gateway addresses
// inboxes by wallet; SMTP needs the account's verified email.
func (d *Dispatcher) resolveRecipient(ctx context.Context, event types.NotificationEvent) (string, error) {
	if d.mode == types.ModeWeb3 {
		return event.RecipientAddress, nil
	}

	if d.directory == nil {
		return "", apperrors.NewInternalError("no recipient directory configured for smtp delivery", nil)
	}

	user, err := d.directory.GetByAddress(ctx, event.RecipientAddress)
	if err != nil {
		return "", err
	}
	return user.Email, nil
}

// checkpoint upserts the run probe. Failures are logged, not surfaced: a
// missing checkpoint only widens the next run's window.
func (d *Dispatcher) checkpoint(ctx context.Context, emailType types.EmailType, start time.Time, stats RunStats, logger *logging.Logger) {
	probe := &models.CronProbe{
		EmailType:   emailType,
		LastRanAt:   start,
		SentCount:   stats.Sent,
		FailedCount: stats.Failed,
		DurationMs:  d.now().Sub(start).Milliseconds(),
	}

	// The budget context may already be expired; the checkpoint write gets
	// its own short deadline.
	probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := d.probes.Upsert(probeCtx, probe); err != nil {
		logger.WithError(err).Error("Failed to checkpoint dispatch run")
	}
}
