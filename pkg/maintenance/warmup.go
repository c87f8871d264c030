package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/tokenprinter/powfaucet/pkg/common"
	"github.com/tokenprinter/powfaucet/pkg/faucet"
)

type SettingsSource interface {
	Settings(ctx context.Context) (*faucet.Settings, error)
}

type DifficultyObserver interface {
	ObserveMinDifficulty(difficulty uint32)
}

// WarmupSettingsJob loads faucet settings into the cache once the server is
// up and publishes the difficulty gauge.
type WarmupSettingsJob struct {
	Faucet  SettingsSource
	Metrics DifficultyObserver
	Pause   time.Duration
}

var _ common.OneOffJob = (*WarmupSettingsJob)(nil)

func (j *WarmupSettingsJob) Name() string                { return "warmup_settings_job" }
func (j *WarmupSettingsJob) InitialPause() time.Duration { return j.Pause }
func (j *WarmupSettingsJob) NewParams() any              { return struct{}{} }

func (j *WarmupSettingsJob) RunOnce(ctx context.Context, _ any) error {
	settings, err := j.Faucet.Settings(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to warm up settings", common.ErrAttr(err))
		return err
	}

	if j.Metrics != nil {
		j.Metrics.ObserveMinDifficulty(settings.MinDifficulty)
	}

	slog.InfoContext(ctx, "Warmed up faucet settings", "difficulty", settings.MinDifficulty, "amount", settings.TransferAmount.String())

	return nil
}
