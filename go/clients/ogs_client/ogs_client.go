package ogs_client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/kifu/go/clients"
	"github.com/mcdev12/kifu/go/internal/models"
)

// OGSClient fetches games from the remote service on behalf of one user.
type OGSClient struct {
	*clients.BaseClient
	userID int64
}

func NewOGSClient(baseURL, token string, userID int64) *OGSClient {
	if baseURL == "" {
		baseURL = BaseURL
	}
	client := &OGSClient{
		BaseClient: clients.NewBaseClient(baseURL),
		userID:     userID,
	}

	client.SetHeader(AcceptHeader, ContentTypeJSON)
	if token != "" {
		client.SetHeader(AuthorizationHeader, BearerPrefix+token)
	}

	return client
}

// UserID is the id of the user the client acts for.
func (c *OGSClient) UserID() int64 {
	return c.userID
}

// FetchGame returns the full snapshot of one game.
func (c *OGSClient) FetchGame(ctx context.Context, id int64) (models.Game, error) {
	var resp gameResponse
	if err := c.GetJSON(ctx, fmt.Sprintf(GameEndpoint, id), &resp); err != nil {
		return models.Game{}, fmt.Errorf("fetch game %d: %w", id, err)
	}
	if resp.ID == 0 {
		resp.ID = id
	}
	return resp.toModel(), nil
}

// FetchActiveGames returns the user's unfinished games.
func (c *OGSClient) FetchActiveGames(ctx context.Context) ([]models.Game, error) {
	var resp overviewResponse
	if err := c.GetJSON(ctx, OverviewEndpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch active games: %w", err)
	}

	games := make([]models.Game, 0, len(resp.ActiveGames))
	for _, g := range resp.ActiveGames {
		games = append(games, g.toModel())
	}
	log.Debug().Int("count", len(games)).Msg("fetched active games")
	return games, nil
}

// FetchHistoricGamesAfter returns up to one page of finished games that ended
// after ts, oldest first. A nil ts asks for the most recent page.
func (c *OGSClient) FetchHistoricGamesAfter(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	q := url.Values{}
	if ts == nil {
		q.Set(EndedIsNullParam, "false")
		q.Set(OrderingParam, OrderByEndedDesc)
	} else {
		q.Set(EndedAfterParam, ts.UTC().Format(time.RFC3339Nano))
		q.Set(OrderingParam, OrderByEndedAsc)
	}
	return c.fetchPlayerGames(ctx, q)
}

// FetchHistoricGamesBefore returns up to one page of finished games that ended
// before ts, newest first. A nil ts starts from the most recent game.
func (c *OGSClient) FetchHistoricGamesBefore(ctx context.Context, ts *time.Time) ([]models.GameRef, error) {
	q := url.Values{}
	if ts == nil {
		q.Set(EndedIsNullParam, "false")
	} else {
		q.Set(EndedBeforeParam, ts.UTC().Format(time.RFC3339Nano))
	}
	q.Set(OrderingParam, OrderByEndedDesc)
	return c.fetchPlayerGames(ctx, q)
}

func (c *OGSClient) fetchPlayerGames(ctx context.Context, q url.Values) ([]models.GameRef, error) {
	q.Set(PageSizeParam, strconv.Itoa(HistoricPageSize))
	endpoint := fmt.Sprintf(PlayerGamesEndpoint, c.userID) + "?" + q.Encode()

	var resp playerGamesResponse
	if err := c.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch historic games: %w", err)
	}

	refs := make([]models.GameRef, 0, len(resp.Results))
	for _, g := range resp.Results {
		refs = append(refs, g.toRef())
	}
	return refs, nil
}
