package worker

import (
	"context"
	"fmt"

	"github.com/keymartlabs/keymart-backend/internal/payouts"
	"github.com/keymartlabs/keymart-backend/pkg/logger"
)

// payoutReleaser is the slice of the payouts service the job drives.
type payoutReleaser interface {
	ReleaseDue(ctx context.Context) (payouts.ReleaseStats, error)
}

type PayoutReleaseJobParams struct {
	Logger  *logger.Logger
	Payouts payoutReleaser
}

// NewPayoutReleaseJob builds the job that disburses escrow holds whose
// hold window elapsed.
func NewPayoutReleaseJob(params PayoutReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payouts service required")
	}
	return &payoutReleaseJob{
		logg:    params.Logger,
		payouts: params.Payouts,
	}, nil
}

type payoutReleaseJob struct {
	logg    *logger.Logger
	payouts payoutReleaser
}

func (j *payoutReleaseJob) Name() string { return "payout-release" }

func (j *payoutReleaseJob) Run(ctx context.Context) error {
	stats, err := j.payouts.ReleaseDue(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"examined": stats.Examined,
		"released": stats.Released,
		"blocked":  stats.Blocked,
		"failed":   stats.Failed,
		"skipped":  stats.Skipped,
	})
	if err != nil {
		return fmt.Errorf("payout release: %w", err)
	}
	j.logg.Info(logCtx, "payout release run complete")
	return nil
}
