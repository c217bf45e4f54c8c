package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flowrooms/server/internal/auth"
	"github.com/flowrooms/server/internal/engine"
	"github.com/flowrooms/server/internal/models"
	"github.com/flowrooms/server/internal/presence"
)

func caller(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeErrorCode(w, http.StatusUnauthorized, "unauthorized", "missing identity", false)
	}
	return id, ok
}

func NextRoom(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fromSeq int64
		if s := r.URL.Query().Get("from_seq"); s != "" {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				writeError(w, r, models.Validation("handlers.next_room", "from_seq must be an integer"))
				return
			}
			fromSeq = v
		}
		res, err := eng.NextRoom(r.Context(), fromSeq)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func GetRoom(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		room, err := eng.GetRoom(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func CurrentRoom(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		room, err := eng.CurrentRoom(r.Context(), id.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if room == nil {
			writeError(w, r, models.NotFound("handlers.current_room", "not in a room"))
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func JoinRoom(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		room, err := eng.Join(r.Context(), id, mux.Vars(r)["id"])
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, room)
	}
}

func LeaveRoom(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		if err := eng.Leave(r.Context(), id.UserID, mux.Vars(r)["id"]); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "left"})
	}
}

func Heartbeat(eng *engine.Engine, tracker *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := caller(w, r)
		if !ok {
			return
		}
		roomID := mux.Vars(r)["id"]
		if err := eng.RequireMember(r.Context(), id.UserID, roomID); err != nil {
			writeError(w, r, err)
			return
		}
		if err := tracker.Heartbeat(r.Context(), roomID, id); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func Occupants(eng *engine.Engine, tracker *presence.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := mux.Vars(r)["id"]
		if _, err := eng.GetRoom(r.Context(), roomID); err != nil {
			writeError(w, r, err)
			return
		}
		entries, err := tracker.Snapshot(r.Context(), roomID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
