package db

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Prune deletes events older than retention every interval until ctx is done.
// A retention of zero or less disables it.
func Prune(ctx context.Context, s Storage, retention, interval time.Duration, log *logrus.Entry) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = retention
	}
	log = log.WithField("component", "journal")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := s.DeleteEvents(pruneCtx, "", cutoff)
			cancel()
			if err != nil {
				log.WithError(err).Warn("Journal | Failed to prune events")
				continue
			}
			log.WithField("before", cutoff.UTC().Format(time.RFC3339)).Debug("Journal | Pruned events")
		}
	}
}
