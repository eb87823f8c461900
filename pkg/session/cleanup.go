package session

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPruneAge is the idle age after which `sessions prune` removes a session.
const DefaultPruneAge = 30 * 24 * time.Hour

// Prune deletes sessions whose last update is older than maxAge and returns
// the deleted keys.
func (m *Manager) Prune(maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		maxAge = DefaultPruneAge
	}

	infos, err := m.ListSessions()
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var deleted []string
	for _, info := range infos {
		if info.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := m.Delete(info.Key); err != nil {
			return deleted, fmt.Errorf("failed to prune session %s: %w", info.Key, err)
		}
		deleted = append(deleted, info.Key)
	}

	if len(deleted) > 0 {
		log.Info().Int("count", len(deleted)).Dur("max_age", maxAge).Msg("Pruned idle sessions")
	}
	return deleted, nil
}
