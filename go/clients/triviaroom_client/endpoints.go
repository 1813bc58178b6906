package triviaroom_client

const (
	SubjectsEndpoint = "/api/subjects"
	ResolveEndpoint  = "/api/games/resolve"

	TopEndpoint          = "/api/ranking/top"
	PlayerEndpoint       = "/api/ranking/players/%s"
	PositionEndpoint     = "/api/ranking/players/%s/position"
	GamesEndpoint        = "/api/ranking/players/%s/games"
	NameEndpoint         = "/api/ranking/players/%s/name"
	RoomRecordEndpoint   = "/api/rooms/%s/players/%s/record"
	RoomSummaryEndpoint  = "/multiplayer/%s"
	WebSocketEndpoint    = "/ws"
	DefaultServerBaseURL = "http://localhost:8080"
)
