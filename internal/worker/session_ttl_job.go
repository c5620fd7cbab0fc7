package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

const sessionExpirationHours = 24

// sessionExpirer fails stale pending checkout sessions in bulk.
type sessionExpirer interface {
	ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SessionTTLJobParams struct {
	Logger          *logger.Logger
	Sessions        sessionExpirer
	ExpirationHours int
}

// NewSessionTTLJob builds the job that expires checkout sessions the buyer
// abandoned before committing.
func NewSessionTTLJob(params SessionTTLJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sessions == nil {
		return nil, fmt.Errorf("session repository required")
	}
	hours := params.ExpirationHours
	if hours <= 0 {
		hours = sessionExpirationHours
	}
	return &sessionTTLJob{
		logg:     params.Logger,
		sessions: params.Sessions,
		hours:    hours,
		now:      time.Now,
	}, nil
}

type sessionTTLJob struct {
	logg     *logger.Logger
	sessions sessionExpirer
	hours    int
	now      func() time.Time
}

func (j *sessionTTLJob) Name() string { return "session-ttl" }

func (j *sessionTTLJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.hours) * time.Hour)
	expired, err := j.sessions.ExpirePendingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire pending sessions: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"expired": expired,
	})
	j.logg.Info(logCtx, "session expiration complete")
	return nil
}
