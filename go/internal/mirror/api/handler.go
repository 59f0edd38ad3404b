package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/internal/diagnostics"
	"github.com/mcdev12/kifu/go/internal/gameclock"
	"github.com/mcdev12/kifu/go/internal/mirror/historic"
	"github.com/mcdev12/kifu/go/internal/mirror/submit"
	"github.com/mcdev12/kifu/go/internal/models"
	"github.com/mcdev12/kifu/go/internal/store"
)

// ActiveGames is the active game set exposed by the API.
type ActiveGames interface {
	Games() []models.Game
	MyTurnGames() []models.Game
	ConnectedIDs() []int64
	RefreshActiveGames(ctx context.Context) error
}

// GameStore reads single games.
type GameStore interface {
	GetGame(ctx context.Context, id int64) (models.Game, error)
}

// History serves pages of completed games.
type History interface {
	MonitorOlder(ctx context.Context, endedBefore *time.Time) <-chan historic.Page
	Metadata() models.HistoricGamesMetadata
}

// Moves submits the user's moves.
type Moves interface {
	Submit(id int64, cell models.Cell, moveNo int) error
	Pass(id int64, moveNo int) error
	Retry(id int64) error
	Dismiss(id int64)
	State(id int64) submit.State
}

// Handler serves the mirrored state to local clients.
type Handler struct {
	active   ActiveGames
	games    GameStore
	history  History
	moves    Moves
	drift    *gameclock.DriftTracker
	reporter *diagnostics.Reporter
	gatherer prometheus.Gatherer
}

// NewHandler returns the API handler. gatherer may be nil to skip /metrics.
func NewHandler(active ActiveGames, games GameStore, history History, moves Moves, drift *gameclock.DriftTracker, reporter *diagnostics.Reporter, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		active:   active,
		games:    games,
		history:  history,
		moves:    moves,
		drift:    drift,
		reporter: reporter,
		gatherer: gatherer,
	}
}

// RegisterRoutes registers every API route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/games/active", h.HandleActiveGames)
	mux.HandleFunc("GET /api/games/my-turn", h.HandleMyTurnGames)
	mux.HandleFunc("GET /api/games/history", h.HandleHistory)
	mux.HandleFunc("POST /api/games/refresh", h.HandleRefresh)
	mux.HandleFunc("GET /api/games/{id}", h.HandleGetGame)
	mux.HandleFunc("GET /api/games/{id}/clock", h.HandleGetClock)
	mux.HandleFunc("GET /api/games/{id}/submission", h.HandleGetSubmission)
	mux.HandleFunc("POST /api/games/{id}/move", h.HandleSubmitMove)
	mux.HandleFunc("POST /api/games/{id}/pass", h.HandlePass)
	mux.HandleFunc("POST /api/games/{id}/submission/retry", h.HandleRetry)
	mux.HandleFunc("DELETE /api/games/{id}/submission", h.HandleDismiss)
	mux.HandleFunc("GET /health", h.HandleHealth)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

// ActiveGamesResponse lists active games with their push connection state.
type ActiveGamesResponse struct {
	Games     []models.Game `json:"games"`
	Connected []int64       `json:"connected"`
}

// HandleActiveGames handles GET /api/games/active
func (h *Handler) HandleActiveGames(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ActiveGamesResponse{
		Games:     nonNil(h.active.Games()),
		Connected: h.active.ConnectedIDs(),
	})
}

// MyTurnResponse lists the games waiting on the user.
type MyTurnResponse struct {
	Count int           `json:"count"`
	Games []models.Game `json:"games"`
}

// HandleMyTurnGames handles GET /api/games/my-turn
func (h *Handler) HandleMyTurnGames(w http.ResponseWriter, r *http.Request) {
	games := nonNil(h.active.MyTurnGames())
	writeJSON(w, http.StatusOK, MyTurnResponse{Count: len(games), Games: games})
}

// HandleGetGame handles GET /api/games/{id}
func (h *Handler) HandleGetGame(w http.ResponseWriter, r *http.Request) {
	game, ok := h.loadGame(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// ClockResponse is the countdown of a game at the estimated server time.
type ClockResponse struct {
	GameID      int64              `json:"game_id"`
	Visible     bool               `json:"visible"`
	Display     *gameclock.Display `json:"display,omitempty"`
	RemainingMS *int64             `json:"remaining_ms,omitempty"`
	RefreshMS   int64              `json:"refresh_ms"`
	ServerTime  time.Time          `json:"server_time"`
}

// HandleGetClock handles GET /api/games/{id}/clock
func (h *Handler) HandleGetClock(w http.ResponseWriter, r *http.Request) {
	game, ok := h.loadGame(w, r)
	if !ok {
		return
	}

	now := time.Now()
	if h.drift != nil {
		now = h.drift.ServerTime()
	}
	resp := ClockResponse{GameID: game.ID, ServerTime: now}
	display, visible := gameclock.Compute(game, now, false)
	resp.Visible = visible
	resp.RefreshMS = gameclock.RefreshInterval(nil).Milliseconds()
	if visible {
		resp.Display = &display
		resp.RefreshMS = gameclock.RefreshInterval(display.Remaining).Milliseconds()
		if display.Remaining != nil {
			ms := display.Remaining.Milliseconds()
			resp.RemainingMS = &ms
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HistoryResponse is one page of completed games.
type HistoryResponse struct {
	historic.Page
	Metadata models.HistoricGamesMetadata `json:"metadata"`
}

// HandleHistory handles GET /api/games/history?ended_before=ms
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	var endedBefore *time.Time
	if v := r.URL.Query().Get("ended_before"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "Invalid ended_before", http.StatusBadRequest)
			return
		}
		ts := time.UnixMilli(ms)
		endedBefore = &ts
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	page, ok := <-h.history.MonitorOlder(ctx, endedBefore)
	if !ok {
		// The client went away before the first page.
		return
	}
	page.Games = nonNil(page.Games)
	writeJSON(w, http.StatusOK, HistoryResponse{Page: page, Metadata: h.history.Metadata()})
}

// HandleRefresh handles POST /api/games/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.active.RefreshActiveGames(r.Context()); err != nil {
		log.Error().Err(err).Msg("failed to refresh active games")
		http.Error(w, "Failed to refresh active games", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmissionResponse is the move submission state of a game.
type SubmissionResponse struct {
	submit.State
	Status submit.Status `json:"status"`
}

func submission(st submit.State) SubmissionResponse {
	return SubmissionResponse{State: st, Status: st.Status()}
}

// HandleGetSubmission handles GET /api/games/{id}/submission
func (h *Handler) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, submission(h.moves.State(id)))
}

// MoveRequest is the body of a move or pass submission.
type MoveRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	MoveNo int `json:"move_no"`
}

// HandleSubmitMove handles POST /api/games/{id}/move
func (h *Handler) HandleSubmitMove(w http.ResponseWriter, r *http.Request) {
	h.handleSubmit(w, r, false)
}

// HandlePass handles POST /api/games/{id}/pass
func (h *Handler) HandlePass(w http.ResponseWriter, r *http.Request) {
	h.handleSubmit(w, r, true)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request, pass bool) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	var req MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MoveNo < 0 {
		http.Error(w, "move_no must not be negative", http.StatusBadRequest)
		return
	}

	var err error
	if pass {
		err = h.moves.Pass(id, req.MoveNo)
	} else {
		err = h.moves.Submit(id, models.Cell{X: req.X, Y: req.Y}, req.MoveNo)
	}
	if err != nil {
		// The move stays pending and is resent.
		log.Warn().Err(err).Int64("game_id", id).Int("move_no", req.MoveNo).Msg("first send of move failed")
	}
	writeJSON(w, http.StatusAccepted, submission(h.moves.State(id)))
}

// HandleRetry handles POST /api/games/{id}/submission/retry
func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	err := h.moves.Retry(id)
	if errors.Is(err, submit.ErrNothingToRetry) {
		http.Error(w, "No move waiting for retry", http.StatusConflict)
		return
	}
	if err != nil {
		log.Warn().Err(err).Int64("game_id", id).Msg("first resend of move failed")
	}
	writeJSON(w, http.StatusAccepted, submission(h.moves.State(id)))
}

// HandleDismiss handles DELETE /api/games/{id}/submission
func (h *Handler) HandleDismiss(w http.ResponseWriter, r *http.Request) {
	id, ok := gameID(w, r)
	if !ok {
		return
	}
	h.moves.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

// HealthResponse reports standing diagnostic flags.
type HealthResponse struct {
	Status string          `json:"status"`
	Flags  map[string]bool `json:"flags"`
}

// HandleHealth handles GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Flags: map[string]bool{}}
	if h.reporter != nil {
		resp.Flags = h.reporter.Flags()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loadGame(w http.ResponseWriter, r *http.Request) (models.Game, bool) {
	id, ok := gameID(w, r)
	if !ok {
		return models.Game{}, false
	}
	game, err := h.games.GetGame(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Game not found", http.StatusNotFound)
		return models.Game{}, false
	}
	if err != nil {
		log.Error().Err(err).Int64("game_id", id).Msg("failed to get game")
		http.Error(w, "Failed to get game", http.StatusInternalServerError)
		return models.Game{}, false
	}
	return game, true
}

func gameID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid game ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func nonNil(games []models.Game) []models.Game {
	if games == nil {
		return []models.Game{}
	}
	return games
}
