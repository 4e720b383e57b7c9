package relay

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/errors"
	"github.com/guhur/plus-proche/internal/leaderboard"
	"github.com/guhur/plus-proche/internal/pin"
)

type Leaderboards interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

type (
	RoomView struct {
		Room    string       `json:"room"`
		Peers   int          `json:"peers"`
		State   StateView    `json:"state"`
		Players []PlayerView `json:"players"`
		Answers int          `json:"answers"`
	}

	StateView struct {
		Pin          string `json:"pin"`
		Phase        string `json:"phase"`
		HostID       string `json:"hostId"`
		Theme        string `json:"theme,omitempty"`
		Difficulty   int    `json:"difficulty,omitempty"`
		Question     string `json:"question,omitempty"`
		RoundNumber  int    `json:"roundNumber"`
		NextPickerID string `json:"nextPickerId,omitempty"`
	}

	PlayerView struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Score  int    `json:"score"`
		IsHost bool   `json:"isHost"`
	}

	LeaderboardView struct {
		Pin     string                 `json:"pin"`
		Entries []LeaderboardEntryView `json:"entries"`
	}

	LeaderboardEntryView struct {
		PlayerID string  `json:"playerId"`
		Name     string  `json:"name"`
		Score    float64 `json:"score"`
	}
)

// Register mounts the relay routes on e.
func (h *Hub) Register(e *gin.Engine, lb Leaderboards) {
	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	e.GET("/ws/:room", h.serveWS)
	e.GET("/rooms/:pin", h.getRoom)

	if lb != nil {
		e.GET("/rooms/:pin/leaderboard", func(c *gin.Context) {
			getLeaderboard(c, lb)
		})
	}
}

func (h *Hub) serveWS(c *gin.Context) {
	r, err := h.Room(c.Request.Context(), c.Param("room"))
	if err != nil {
		abort(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c, "relay: websocket upgrade failed", "room", r.name, "error", err)
		return
	}

	client := newClient(r, conn)
	slog.InfoContext(c, "relay: client connected", "room", r.name, "client", client.id)

	client.run()

	slog.InfoContext(c, "relay: client disconnected", "room", r.name, "client", client.id)
}

func (h *Hub) getRoom(c *gin.Context) {
	p := c.Param("pin")
	if err := pin.Validate(p); err != nil {
		abort(c, err)
		return
	}

	r, err := h.Room(c.Request.Context(), pin.Room(p))
	if err != nil {
		abort(c, err)
		return
	}

	snap := r.doc.Snapshot()
	if !snap.State.Created() {
		abort(c, errors.New(errors.CodeNotFound,
			errors.WithMessagef("game not found: pin=%s", p),
			errors.WithCause(domain.ErrGameNotCreated),
		))
		return
	}

	c.JSON(http.StatusOK, newRoomView(r, snap.State, snap.Players, len(snap.Answers)))
}

func getLeaderboard(c *gin.Context, lb Leaderboards) {
	p := c.Param("pin")
	if err := pin.Validate(p); err != nil {
		abort(c, err)
		return
	}

	l, err := lb.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{Pin: p})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, NewLeaderboardView(*l))
}

func newRoomView(r *Room, s domain.GameState, players []domain.Player, answers int) RoomView {
	v := RoomView{
		Room:    r.name,
		Peers:   r.Peers(),
		Players: make([]PlayerView, 0, len(players)),
		Answers: answers,
		State: StateView{
			Pin:          s.Pin,
			Phase:        s.Phase.String(),
			HostID:       s.HostID,
			Theme:        s.Theme,
			Difficulty:   int(s.Difficulty),
			RoundNumber:  s.RoundNumber,
			NextPickerID: s.NextPickerID,
		},
	}

	if s.CurrentQuestion != nil {
		v.State.Question = s.CurrentQuestion.Text
	}

	for _, p := range players {
		v.Players = append(v.Players, PlayerView{ID: p.ID, Name: p.Name, Score: p.Score, IsHost: p.IsHost})
	}

	return v
}

func NewLeaderboardView(l domain.Leaderboard) LeaderboardView {
	v := LeaderboardView{
		Pin:     l.Pin,
		Entries: make([]LeaderboardEntryView, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		v.Entries = append(v.Entries, LeaderboardEntryView{PlayerID: e.PlayerID, Name: e.Name, Score: e.Score})
	}

	return v
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c, "relay: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}
