package eufy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/joshp123/eufyscope/internal/core"
	"github.com/joshp123/eufyscope/internal/investigation"
)

const handlerTimeout = 20 * time.Second

var _ core.HTTPRegistrant = (*Plugin)(nil)

func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	registerRoutes(mux, p.poller)
}

func registerRoutes(mux *http.ServeMux, poller *Poller) {
	h := handlers{poller: poller}
	mux.HandleFunc("GET /eufy/status", h.status)
	mux.HandleFunc("POST /eufy/investigation/baseline", h.capture(func(ctx context.Context, id string) (any, error) {
		return poller.CaptureBaseline(ctx, id)
	}))
	mux.HandleFunc("POST /eufy/investigation/post_cleaning", h.capture(func(ctx context.Context, id string) (any, error) {
		return poller.CapturePostCleaning(ctx, id)
	}))
	mux.HandleFunc("POST /eufy/investigation/manual", func(w http.ResponseWriter, r *http.Request) {
		label := r.URL.Query().Get("label")
		h.capture(func(ctx context.Context, id string) (any, error) {
			return poller.CaptureManual(ctx, id, label)
		})(w, r)
	})
	mux.HandleFunc("POST /eufy/investigation/compare", h.capture(func(ctx context.Context, id string) (any, error) {
		return poller.Compare(ctx, id)
	}))
	mux.HandleFunc("GET /eufy/investigation/summary", h.capture(func(ctx context.Context, id string) (any, error) {
		summary, path, err := poller.Summary(ctx, id)
		if err != nil {
			return nil, err
		}
		return struct {
			investigation.SessionSummary
			Path string `json:"path"`
		}{summary, path}, nil
	}))
	mux.HandleFunc("GET /eufy/accessories", h.accessories)
}

type handlers struct {
	poller *Poller
}

func (h handlers) available(w http.ResponseWriter) bool {
	if h.poller == nil {
		http.Error(w, "eufy unavailable", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// deviceID reads ?device_id=, defaulting to the only configured device.
func (h handlers) deviceID(r *http.Request) (string, bool) {
	if id := r.URL.Query().Get("device_id"); id != "" {
		return id, true
	}
	if len(h.poller.order) == 1 {
		return h.poller.order[0], true
	}
	return "", false
}

func (h handlers) status(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	if id := r.URL.Query().Get("device_id"); id != "" {
		st, err := h.poller.State(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": h.poller.States()})
}

func (h handlers) capture(fn func(ctx context.Context, id string) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.available(w) {
			return
		}
		id, ok := h.deviceID(r)
		if !ok {
			http.Error(w, "device_id is required", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()

		out, err := fn(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (h handlers) accessories(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	id, ok := h.deviceID(r)
	if !ok {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}
	f, validation, err := h.poller.AccessoryConfig(id)
	if err != nil {
		writeError(w, err)
		return
	}
	st, _ := h.poller.State(id)
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id":  id,
		"config":     f,
		"validation": validation,
		"readings":   st.Accessories,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownDevice):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvestigationDisabled), errors.Is(err, ErrNoAccessoryConfig):
		status = http.StatusNotImplemented
	case errors.Is(err, ErrNoData), errors.Is(err, investigation.ErrNoPayload),
		errors.Is(err, investigation.ErrNoBaseline), errors.Is(err, investigation.ErrNoPostCleaning):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
