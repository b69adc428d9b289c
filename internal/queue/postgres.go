package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ugcserver/internal/infra"
	"ugcserver/internal/sqlinline"
)

// NotifyChannel is the Postgres channel signalled on every submission.
const NotifyChannel = "generation_job_queued"

// PGNotifier signals NotifyChannel with pg_notify.
type PGNotifier struct {
	runner infra.SQLExecutor
}

func NewPGNotifier(runner infra.SQLExecutor) *PGNotifier {
	return &PGNotifier{runner: runner}
}

func (n *PGNotifier) Notify(ctx context.Context, jobID string) error {
	if _, err := n.runner.Exec(ctx, sqlinline.QJobNotify, NotifyChannel, jobID); err != nil {
		return fmt.Errorf("queue: notify: %w", err)
	}
	return nil
}

// Listen subscribes to NotifyChannel with a lib/pq listener and turns
// notifications into dispatcher wake-ups. The listener reconnects on its own
// and is closed when ctx ends.
func Listen(ctx context.Context, dsn string, logger *infra.Logger) (<-chan struct{}, error) {
	log := infra.LoggerOrDiscard(logger)
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("queue: listener event")
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("queue: listen %s: %w", NotifyChannel, err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer listener.Close()
		ping := time.NewTicker(90 * time.Second)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Notify:
				// A nil notification follows a reconnect; jobs may have been
				// queued meanwhile, so wake either way.
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					log.Debug().Err(err).Msg("queue: listener ping failed")
				}
			}
		}
	}()
	return wake, nil
}
