package ethstats

import (
	"time"
)

const retentionPeriod = 24 * time.Hour

// DeleteOlderData removes the snapshots older than the given number of days.
func (a *Archive) DeleteOlderData(days int) (int64, error) {
	res, err := a.db.Exec(`DELETE FROM snapshots WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InitCleanCRON prunes the archive once a day until the archive is closed.
// A zero retention keeps everything.
func (a *Archive) InitCleanCRON(days int) {
	if days <= 0 {
		return
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ticker := time.NewTicker(retentionPeriod)
		defer ticker.Stop()

		for {
			a.prune(days)

			select {
			case <-ticker.C:
			case <-a.closeCh:
				return
			}
		}
	}()
}

func (a *Archive) prune(days int) {
	deleted, err := a.DeleteOlderData(days)
	if err != nil {
		a.logger.Error("failed to prune the archive", "days", days, "err", err)
		return
	}
	if deleted != 0 {
		a.logger.Info("archive pruned", "days", days, "deleted", deleted)
	}
}
