// internal/handlers/match.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/sirupsen/logrus"
)

// MatchHandler exposes match.Service over HTTP.
type MatchHandler struct {
	svc    *match.Service
	logger *logrus.Logger
	debug  bool
}

func NewMatchHandler(svc *match.Service, logger *logrus.Logger, debug bool) *MatchHandler {
	return &MatchHandler{svc: svc, logger: logger, debug: debug}
}

// Register mounts the match routes on mux.
func (h *MatchHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /matches/invite", h.withUser(h.invite))
	mux.HandleFunc("GET /matches", h.withUser(h.list))
	mux.HandleFunc("GET /matches/{id}", h.withMatch(h.get))
	mux.HandleFunc("POST /matches/{id}/accept", h.withMatch(h.accept))
	mux.HandleFunc("POST /matches/{id}/board", h.withMatch(h.setBoard))
	mux.HandleFunc("GET /matches/{id}/state", h.withMatch(h.state))
	mux.HandleFunc("POST /matches/{id}/move", h.withMatch(h.move))
	mux.HandleFunc("POST /matches/{id}/bingo", h.withMatch(h.bingo))
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID uuid.UUID)

type matchHandler func(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID)

func (h *MatchHandler) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authenticate(r)
		if err != nil {
			writeUnauthorized(w, err)
			return
		}
		next(w, r, userID)
	}
}

func (h *MatchHandler) withMatch(next matchHandler) http.HandlerFunc {
	return h.withUser(func(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
		matchID, err := pathID(r)
		if err != nil {
			writeBadRequest(w, "invalid_match_id", "invalid match id")
			return
		}
		next(w, r, userID, matchID)
	})
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *MatchHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, h.debug, err)
}

// invite handles POST /matches/invite.
//
// Request payload: { "friend_id": "some-uuid-string" }
func (h *MatchHandler) invite(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	var req struct {
		FriendID string `json:"friend_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid_payload", "invalid payload")
		return
	}
	friendID, err := uuid.Parse(req.FriendID)
	if err != nil {
		writeBadRequest(w, "invalid_friend_id", "invalid friend_id")
		return
	}

	m, err := h.svc.Invite(r.Context(), userID, friendID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "match invite sent", m)
}

func (h *MatchHandler) list(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	ms, err := h.svc.List(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "matches retrieved", ms)
}

func (h *MatchHandler) get(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	m, err := h.svc.Get(r.Context(), userID, matchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "match retrieved", m)
}

func (h *MatchHandler) accept(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	m, err := h.svc.AcceptInvite(r.Context(), userID, matchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "match accepted", m)
}

// setBoard handles POST /matches/{id}/board.
//
// Request payload: { "mode": "custom|straight|random", "numbers": [25 ints] }
func (h *MatchHandler) setBoard(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	var req match.BoardRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid_payload", "invalid payload")
		return
	}
	res, err := h.svc.SetBoard(r.Context(), userID, matchID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := "board saved"
	if res.Started {
		msg = "board saved, match started"
	}
	writeData(w, http.StatusCreated, msg, res)
}

func (h *MatchHandler) state(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	view, err := h.svc.State(r.Context(), userID, matchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "match state retrieved", view)
}

// move handles POST /matches/{id}/move.
//
// Request payload: { "number": 1..25 }
func (h *MatchHandler) move(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	var req struct {
		Number *int `json:"number"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid_payload", "invalid payload")
		return
	}
	// A missing number is out of range; the service reports it after the
	// participant and turn checks.
	number := 0
	if req.Number != nil {
		number = *req.Number
	}
	res, err := h.svc.MakeMove(r.Context(), userID, matchID, number)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "move recorded", res)
}

func (h *MatchHandler) bingo(w http.ResponseWriter, r *http.Request, userID, matchID uuid.UUID) {
	res, err := h.svc.ClaimBingo(r.Context(), userID, matchID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	msg := "bingo!"
	if !res.Success {
		msg = res.Reason
	}
	writeData(w, http.StatusOK, msg, res)
}

// HealthHandler answers liveness probes.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]string{"status": "ok"})
}
