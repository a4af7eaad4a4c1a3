package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"houseparty-server/metrics"
	"houseparty-server/store"
	"houseparty-server/utils/logger"
)

// Sweeper periodically marks lapsed invitations expired and deletes dead
// OTPs. Mongo TTL indexes delete documents eventually; this keeps statuses
// right in between and does the whole job for the memory store.
type Sweeper struct {
	otps    store.OTPStore
	invites store.InvitationStore
	cron    *cron.Cron
	now     func() time.Time
}

func NewSweeper(otps store.OTPStore, invites store.InvitationStore) *Sweeper {
	return &Sweeper{
		otps:    otps,
		invites: invites,
		cron:    cron.New(),
		now:     time.Now,
	}
}

func (s *Sweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) Sweep(ctx context.Context) {
	log := logger.FromContext(ctx).WithField("job", "sweeper")
	now := s.now()

	expired, err := s.invites.ExpirePending(ctx, now)
	if err != nil {
		log.WithError(err).Warn("failed to expire invitations")
	}
	deleted, err := s.otps.DeleteExpired(ctx, now)
	if err != nil {
		log.WithError(err).Warn("failed to delete expired otps")
	}

	metrics.RecordSweep("invitations", expired)
	metrics.RecordSweep("otps", deleted)
	if expired > 0 || deleted > 0 {
		log.WithField("invitations_expired", expired).WithField("otps_deleted", deleted).Info("sweep complete")
	}
}
