package ogs_client

import (
	"time"

	"github.com/mcdev12/kifu/go/internal/mirror/events"
	"github.com/mcdev12/kifu/go/internal/models"
)

type gamePlayers struct {
	White events.PlayerPayload `json:"white"`
	Black events.PlayerPayload `json:"black"`
}

// gameResponse is the body of the single game endpoint.
type gameResponse struct {
	ID       int64                  `json:"id"`
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Players  gamePlayers            `json:"players"`
	GameData events.GameDataPayload `json:"gamedata"`
	Ended    *time.Time             `json:"ended"`
}

// overviewGame is one entry of the overview listing.
type overviewGame struct {
	ID       int64                  `json:"id"`
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	White    events.PlayerPayload   `json:"white"`
	Black    events.PlayerPayload   `json:"black"`
	GameData events.GameDataPayload `json:"json"`
}

type overviewResponse struct {
	ActiveGames []overviewGame `json:"active_games"`
}

type playerGame struct {
	ID    int64      `json:"id"`
	Ended *time.Time `json:"ended"`
}

type playerGamesResponse struct {
	Count   int          `json:"count"`
	Results []playerGame `json:"results"`
}

func toPlayer(p events.PlayerPayload) models.Player {
	return models.Player{ID: p.ID, Username: p.Username, Rating: p.Rating, Country: p.Country}
}

// buildGame assembles a model game from a snapshot and the listing metadata
// around it. Player ids missing from the snapshot are taken from the listing.
func buildGame(id int64, width, height int, white, black events.PlayerPayload, data events.GameDataPayload, ended *time.Time) models.Game {
	if data.WhitePlayerID == 0 {
		data.WhitePlayerID = white.ID
	}
	if data.BlackPlayerID == 0 {
		data.BlackPlayerID = black.ID
	}
	if white.ID == 0 {
		white = data.Players["white"]
	}
	if black.ID == 0 {
		black = data.Players["black"]
	}
	if width == 0 {
		width = data.Width
	}
	if height == 0 {
		height = data.Height
	}

	g := models.Game{
		ID:          id,
		Width:       width,
		Height:      height,
		WhitePlayer: toPlayer(white),
		BlackPlayer: toPlayer(black),
		TimeControl: data.TimeControl,
	}
	data.ToUpdate().Apply(&g)
	if g.Ended == nil && ended != nil {
		e := time.UnixMilli(ended.UnixMilli())
		g.Ended = &e
	}
	return g
}

func (r gameResponse) toModel() models.Game {
	return buildGame(r.ID, r.Width, r.Height, r.Players.White, r.Players.Black, r.GameData, r.Ended)
}

func (o overviewGame) toModel() models.Game {
	return buildGame(o.ID, o.Width, o.Height, o.White, o.Black, o.GameData, nil)
}

func (p playerGame) toRef() models.GameRef {
	return models.GameRef{ID: p.ID, Ended: p.Ended}
}
