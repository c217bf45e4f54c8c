package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/models"
	"github.com/flowrooms/server/internal/relay"
)

func GetMessages(rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.get_messages"
		roomID := mux.Vars(r)["id"]
		q := r.URL.Query()

		limit := 0
		if s := q.Get("limit"); s != "" {
			l, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, r, models.Validation(op, "limit must be an integer"))
				return
			}
			limit = l
		}

		var (
			messages []models.Message
			err      error
		)
		if s := q.Get("after"); s != "" {
			after, perr := strconv.ParseInt(s, 10, 64)
			if perr != nil {
				writeError(w, r, models.Validation(op, "after must be an integer"))
				return
			}
			messages, err = rl.ReadAfter(r.Context(), roomID, after, limit)
		} else {
			messages, err = rl.Read(r.Context(), roomID, limit)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, messages)
	}
}

func PostMessage(eng *engine.Engine, rl *relay.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		roomID := mux.Vars(r)["id"]

		var req struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			writeError(w, r, models.Validation("handlers.post_message", "invalid request body"))
			return
		}
		if err := eng.RequireMember(r.Context(), id.UserID, roomID); err != nil {
			writeError(w, r, err)
			return
		}

		msg, err := rl.Append(r.Context(), roomID, id.UserID, id.Alias, req.Body)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}
