package ogs_client

const (
	// Base URL
	BaseURL = "https://online-go.com"

	// API Endpoints
	GameEndpoint        = "/api/v1/games/%d"
	OverviewEndpoint    = "/api/v1/ui/overview"
	PlayerGamesEndpoint = "/api/v1/players/%d/games"

	// Query parameters
	EndedAfterParam  = "ended__gt"
	EndedBeforeParam = "ended__lt"
	EndedIsNullParam = "ended__isnull"
	OrderingParam    = "ordering"
	PageSizeParam    = "page_size"
	OrderByEndedAsc  = "ended"
	OrderByEndedDesc = "-ended"
	HistoricPageSize = 10

	// Headers
	AuthorizationHeader = "Authorization"
	AcceptHeader        = "Accept"
	ContentTypeJSON     = "application/json"
	BearerPrefix        = "Bearer "
)
