package api

import (
	"net/http"

	"github.com/nerrad567/mqtt-dbus-bridge/internal/reading"
)

func (s *Server) handleListReadings(w http.ResponseWriter, _ *http.Request) {
	entries := []reading.Entry{}
	if s.readings != nil {
		entries = append(entries, s.readings.Snapshot()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": entries,
		"count":    len(entries),
	})
}
