package service

import (
	"context"
	"time"
)

// StatsCounters is the aggregate query surface. Implemented by
// storage.NotificationRepository and storage.CronProbeRepository.
type StatsCounters interface {
	Count(ctx context.Context) (int64, error)
	CountByMonth(ctx context.Context, year int) ([12]int64, error)
}

// ProbeCounter counts stored run checkpoints. Implemented by
// storage.CronProbeRepository.
type ProbeCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Stats is the notification activity report.
type Stats struct {
	TotalSent          int64     `json:"totalSent"`
	TotalSentByMonth   [12]int64 `json:"totalSentByMonth"`
	TotalSentThisMonth int64     `json:"totalSentThisMonth"`
	TotalCronRunning   int64     `json:"totalCronRunning"`
}

// StatsService aggregates delivery counters for the current calendar year.
type StatsService struct {
	notifications StatsCounters
	probes        ProbeCounter
	now           func() time.Time
}

// NewStatsService creates a stats service.
func NewStatsService(notifications StatsCounters, probes ProbeCounter) *StatsService {
	return &StatsService{
		notifications: notifications,
		probes:        probes,
		now:           time.Now,
	}
}

// Snapshot computes the current report.
func (s *StatsService) Snapshot(ctx context.Context) (*Stats, error) {
	total, err := s.notifications.Count(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	byMonth, err := s.notifications.CountByMonth(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	probes, err := s.probes.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalSent:          total,
		TotalSentByMonth:   byMonth,
		TotalSentThisMonth: byMonth[now.Month()-1],
		TotalCronRunning:   probes,
	}, nil
}
