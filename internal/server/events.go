package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/runguard-ai/runguard/internal/telemetry"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := telemetry.ListEventsParams{
		RunID:     q.Get("run_id"),
		EventName: q.Get("event"),
		Tool:      q.Get("tool"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.Limit = n
		}
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}

	events, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events: make([]EventResp, 0, len(events)),
		Total:  len(events),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, EventResp{
			Event:       e.Name,
			Timestamp:   e.Timestamp,
			RunID:       e.RunID,
			Tool:        e.Tool,
			Reason:      e.Reason,
			CallSig:     e.CallSig,
			Amount:      e.Amount,
			Cumulative:  e.Cumulative,
			Limit:       e.Limit,
			Pct:         e.Pct,
			CostAvoided: e.CostAvoided,
			Count:       e.Count,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
