package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// ok — успешный ответ с обёрткой data.
func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{"data": data})
}

func writeError(w http.ResponseWriter, status int, msg string, meta map[string]any) {
	body := envelope{"message": msg}
	if len(meta) > 0 {
		body["meta"] = meta
	}
	writeJSON(w, status, envelope{"error": body})
}
