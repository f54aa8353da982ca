package session

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/8bitGames/creative-mut-app/internal/logging"
)

// CleanupReport lists what a cleanup pass did.
type CleanupReport struct {
	Removed []string `json:"removed"`
	Locked  []string `json:"locked"`
	Kept    []string `json:"kept"`
}

// Cleanup removes session directories older than the retention period.
// Directories with a lock younger than LockStaleAfter are skipped; older
// locks are treated as abandoned. Entries that do not look like sessions
// are never touched.
func (m *Manager) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return report, err
	}

	now := m.now()
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() || !IsID(entry.Name()) {
			continue
		}

		dir := filepath.Join(m.root, entry.Name())
		log := m.logger.With().Str(logging.FieldSessionID, entry.Name()).Logger()

		if lock, err := ReadLock(filepath.Join(dir, LockName)); err == nil {
			age := now.Sub(lock.Created)
			if age < m.opts.LockStaleAfter {
				log.Debug().Dur("lock_age", age).Int("pid", lock.PID).Msg("skipping locked session")
				report.Locked = append(report.Locked, entry.Name())
				continue
			}
			log.Warn().Dur("lock_age", age).Int("pid", lock.PID).Msg("lock is stale, treating session as abandoned")
		}

		info, err := entry.Info()
		if err != nil {
			log.Warn().Err(err).Msg("stat session")
			continue
		}
		if now.Sub(sessionTime(entry.Name(), info.ModTime())) < m.opts.RetainFor {
			report.Kept = append(report.Kept, entry.Name())
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			log.Error().Err(err).Msg("failed to remove session")
			continue
		}
		log.Info().Msg("removed expired session")
		report.Removed = append(report.Removed, entry.Name())
	}

	return report, nil
}

// sessionTime returns the later of the time encoded in the id and the
// directory modification time, so a session still being written to is not
// considered old.
func sessionTime(id string, modTime time.Time) time.Time {
	created, err := time.ParseInLocation("20060102_150405", id[:15], time.Local)
	if err != nil || modTime.After(created) {
		return modTime
	}
	return created
}
