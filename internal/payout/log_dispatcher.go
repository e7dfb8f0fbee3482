package payout

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher only records intents. It stands in for the host platform
// when no chain endpoint is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Transfer(_ context.Context, in *Intent) error {
	d.log.Info("transfer (log only)",
		zap.String("intent", in.ID),
		zap.String("account", in.Account),
		zap.String("amount", in.Amount.Dec()),
	)
	return nil
}
