package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketplace-relay/internal/config"
	"github.com/marketplace-relay/internal/mail"
	"github.com/marketplace-relay/internal/models"
	"github.com/marketplace-relay/internal/types"
)

// Fakes for the dispatch pipeline

type fakeSource struct {
	events    []types.NotificationEvent
	optedOut  map[string]bool
	lastSince time.Time
}

func (f *fakeSource) Fetch(ctx context.Context, emailType types.EmailType, since time.Time) ([]types.NotificationEvent, error) {
	f.lastSince = since
	return f.events, nil
}

func (f *fakeSource) Filter(ctx context.Context, emailType types.EmailType, events []types.NotificationEvent) ([]types.NotificationEvent, error) {
	kept := make([]types.NotificationEvent, 0, len(events))
	for _, event := range events {
		if !f.optedOut[event.RecipientAddress] {
			kept = append(kept, event)
		}
	}
	return kept, nil
}

type fakeNotificationStore struct {
	mu       sync.Mutex
	sent     map[string]bool
	recorded []string
}

func newFakeNotificationStore(alreadySent ...string) *fakeNotificationStore {
	sent := make(map[string]bool)
	for _, id := range alreadySent {
		sent[id] = true
	}
	return &fakeNotificationStore{sent: sent}
}

func (f *fakeNotificationStore) HasBeenSent(ctx context.Context, entityID string, emailType types.EmailType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[entityID], nil
}

func (f *fakeNotificationStore) RecordSent(ctx context.Context, entityID string, emailType types.EmailType, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[entityID] = true
	f.recorded = append(f.recorded, entityID)
	return nil
}

type fakeProbeStore struct {
	probe   *models.CronProbe
	upserts []*models.CronProbe
}

func (f *fakeProbeStore) Get(ctx context.Context, emailType types.EmailType) (*models.CronProbe, error) {
	return f.probe, nil
}

func (f *fakeProbeStore) Upsert(ctx context.Context, probe *models.CronProbe) error {
	f.upserts = append(f.upserts, probe)
	return nil
}

type fakeProvider struct {
	mu      sync.Mutex
	sent    []mail.Message
	failFor map[string]bool // keyed by recipient
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Send(ctx context.Context, msg mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, recipient := range msg.Recipients {
		if f.failFor[recipient] {
			return fmt.Errorf("delivery refused for %s", recipient)
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

func event(id, recipient string) types.NotificationEvent {
	return types.NotificationEvent{
		EntityID:           id,
		RecipientAddress:   recipient,
		RecipientHandle:    "carol",
		ServiceID:          "12",
		ServiceTitle:       "Logo design",
		CounterpartyHandle: "dave",
		Amount:             "1000000000000000000",
		PlatformName:       "Example Marketplace",
	}
}

func testNotifyConfig() *config.NotifyConfig {
	return &config.NotifyConfig{
		BaseInterval:  time.Hour,
		RetryFactor:   0,
		DefaultWindow: 24 * time.Hour,
		MaxConcurrent: 2,
		Domain:        "https://example.com",
	}
}

type dispatchFixture struct {
	dispatcher    *Dispatcher
	source        *fakeSource
	notifications *fakeNotificationStore
	probes        *fakeProbeStore
	provider      *fakeProvider
}

func newDispatchFixture(cfg *config.NotifyConfig, source *fakeSource, notifications *fakeNotificationStore, probes *fakeProbeStore) *dispatchFixture {
	provider := &fakeProvider{failFor: map[string]bool{}}
	return &dispatchFixture{
		dispatcher: NewDispatcher(
			source, source, mail.NewRenderer(cfg.Domain), provider,
			notifications, probes, nil, types.ModeWeb3, cfg,
		),
		source:        source,
		notifications: notifications,
		probes:        probes,
		provider:      provider,
	}
}

func TestDispatcher_FullPipeline(t *testing.T) {
	source := &fakeSource{
		events: []types.NotificationEvent{
			event("p-1", "0xaaa"),
			event("p-2", "0xbbb"), // already notified
			event("p-3", "0xccc"), // opted out
		},
		optedOut: map[string]bool{"0xccc": true},
	}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore("p-2"), &fakeProbeStore{})

	stats, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, "1 emails sent | 0 non-sent", stats.Summary())

	require.Len(t, f.provider.sent, 1)
	assert.Equal(t, []string{"0xaaa"}, f.provider.sent[0].Recipients)
	assert.Contains(t, f.provider.sent[0].Body, "https://example.com/work/12")

	assert.Equal(t, []string{"p-1"}, f.notifications.recorded)

	require.Len(t, f.probes.upserts, 1)
	assert.Equal(t, 1, f.probes.upserts[0].SentCount)
}

func TestDispatcher_EmptyFetchStillCheckpoints(t *testing.T) {
	f := newDispatchFixture(testNotifyConfig(), &fakeSource{}, newFakeNotificationStore(), &fakeProbeStore{})

	stats, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	assert.Equal(t, "0 emails sent | 0 non-sent", stats.Summary())
	assert.Len(t, f.probes.upserts, 1, "empty runs must still advance the checkpoint")
}

func TestDispatcher_ExplicitSinceSkipsCheckpoint(t *testing.T) {
	source := &fakeSource{events: []types.NotificationEvent{event("p-1", "0xaaa")}}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore(), &fakeProbeStore{})

	since := time.Now().Add(-48 * time.Hour)
	stats, err := f.dispatcher.Run(context.Background(), RunInput{
		EmailType: types.EmailProposalValidated,
		Since:     &since,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.True(t, source.lastSince.Equal(since))
	assert.Empty(t, f.probes.upserts, "manual runs must not advance the checkpoint")
}

func TestDispatcher_PartialFailureIsCountedNotFatal(t *testing.T) {
	source := &fakeSource{events: []types.NotificationEvent{
		event("p-1", "0xaaa"),
		event("p-2", "0xbbb"),
	}}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore(), &fakeProbeStore{})
	f.provider.failFor["0xbbb"] = true

	stats, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, "1 emails sent | 1 non-sent", stats.Summary())

	// The failed message stays unrecorded so the next run retries it.
	assert.Equal(t, []string{"p-1"}, f.notifications.recorded)
	require.Len(t, f.probes.upserts, 1)
	assert.Equal(t, 1, f.probes.upserts[0].FailedCount)
}

func TestDispatcher_OverlappingWindowsSendOnce(t *testing.T) {
	source := &fakeSource{events: []types.NotificationEvent{event("p-1", "0xaaa")}}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore(), &fakeProbeStore{})

	first, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)

	// The second run re-fetches the same event; dedup must suppress it.
	second, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Sent)
	assert.Len(t, f.provider.sent, 1)
}

func TestDispatcher_WatermarkUsesCheckpoint(t *testing.T) {
	lastRan := time.Now().Add(-30 * time.Minute)
	probes := &fakeProbeStore{probe: &models.CronProbe{
		EmailType: types.EmailProposalValidated,
		LastRanAt: lastRan,
	}}
	source := &fakeSource{}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore(), probes)

	_, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	assert.True(t, source.lastSince.Equal(lastRan))
}

func TestDispatcher_RetryFactorWidensLookback(t *testing.T) {
	cfg := testNotifyConfig()
	cfg.RetryFactor = 3

	// The checkpoint is recent, but the retry factor demands a lookback of
	// at least three base intervals.
	probes := &fakeProbeStore{probe: &models.CronProbe{
		EmailType: types.EmailProposalValidated,
		LastRanAt: time.Now().Add(-10 * time.Minute),
	}}
	source := &fakeSource{}
	f := newDispatchFixture(cfg, source, newFakeNotificationStore(), probes)

	_, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	lookback := time.Since(source.lastSince)
	assert.GreaterOrEqual(t, lookback, 3*time.Hour-time.Minute)
}

func TestDispatcher_NoCheckpointUsesDefaultWindow(t *testing.T) {
	source := &fakeSource{}
	f := newDispatchFixture(testNotifyConfig(), source, newFakeNotificationStore(), &fakeProbeStore{})

	_, err := f.dispatcher.Run(context.Background(), RunInput{EmailType: types.EmailProposalValidated})
	require.NoError(t, err)

	lookback := time.Since(source.lastSince)
	assert.GreaterOrEqual(t, lookback, 24*time.Hour-time.Minute)
	assert.Less(t, lookback, 25*time.Hour)
}
