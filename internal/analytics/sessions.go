package analytics

import (
	"sort"

	"github.com/iamgideonidoko/pulse/internal/models"
)

// CollapseSessions reduces snapshots to one per session: the one with the
// largest timeSpent, ties going to the later timestamp. sessionEnded is kept if
// any snapshot of the session carried it, whatever the arrival order.
// The result is ordered by timestamp, then session id.
func CollapseSessions(events []models.TelemetryEvent) []models.TelemetryEvent {
	if len(events) == 0 {
		return []models.TelemetryEvent{}
	}

	latest := make(map[string]models.TelemetryEvent, len(events))
	ended := make(map[string]bool)

	for _, e := range events {
		if e.SessionEnded {
			ended[e.SessionID] = true
		}
		cur, ok := latest[e.SessionID]
		if !ok || advances(e, cur) {
			latest[e.SessionID] = e
		}
	}

	sessions := make([]models.TelemetryEvent, 0, len(latest))
	for id, e := range latest {
		e.SessionEnded = ended[id]
		sessions = append(sessions, e)
	}

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Timestamp.Equal(sessions[j].Timestamp) {
			return sessions[i].SessionID < sessions[j].SessionID
		}
		return sessions[i].Timestamp.Before(sessions[j].Timestamp)
	})
	return sessions
}

func advances(candidate, current models.TelemetryEvent) bool {
	if candidate.TimeSpent != current.TimeSpent {
		return candidate.TimeSpent > current.TimeSpent
	}
	return candidate.Timestamp.After(current.Timestamp)
}
