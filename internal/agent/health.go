package agent

import (
	"sync/atomic"
	"time"

	"rfm-gateway/internal/ingest"
)

type HealthStatus struct {
	radioConnected  atomic.Bool
	loopState       atomic.Value
	lastFrameAt     atomic.Int64
	lastDeliveredAt atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	h := &HealthStatus{}
	h.radioConnected.Store(false)
	h.loopState.Store(ingest.StateIdle)
	return h
}

func (h *HealthStatus) SetRadioConnected(ok bool) {
	h.radioConnected.Store(ok)
}

func (h *HealthStatus) SetLoopState(s ingest.State) {
	h.loopState.Store(s)
}

func (h *HealthStatus) MarkFrame(ts time.Time) {
	if !ts.IsZero() {
		h.lastFrameAt.Store(ts.UnixNano())
	}
}

func (h *HealthStatus) MarkDelivery(ts time.Time) {
	if !ts.IsZero() {
		h.lastDeliveredAt.Store(ts.UnixNano())
	}
}

// Healthy reports whether the radio is attached and the loop is not backing off.
func (h *HealthStatus) Healthy() bool {
	return h.radioConnected.Load() && h.loopState.Load().(ingest.State) == ingest.StateIdle
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"radio_connected": h.radioConnected.Load(),
		"loop_state":      string(h.loopState.Load().(ingest.State)),
	}
	if v := h.lastFrameAt.Load(); v > 0 {
		out["last_frame_at"] = time.Unix(0, v).UTC()
	}
	if v := h.lastDeliveredAt.Load(); v > 0 {
		out["last_delivered_at"] = time.Unix(0, v).UTC()
	}
	return out
}
