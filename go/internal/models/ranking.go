package models

// GameRecord is one completed game in a player's ranking log.
type GameRecord struct {
	Timestamp           int64   `json:"timestamp"`
	XPGained            int     `json:"xpGained"`
	CorrectAnswers      int     `json:"correctAnswers"`
	TotalQuestions      int     `json:"totalQuestions"`
	CorrectResponseTime float64 `json:"correctResponseTime"`
}

// WeeklyRankingPlayer is the persistent ranking record of one user.
type WeeklyRankingPlayer struct {
	UserID      string       `json:"userId"`
	PlayerName  string       `json:"playerName"`
	Games       []GameRecord `json:"games"`
	LastUpdated int64        `json:"lastUpdated"`
}

// RankingEntry is a derived leaderboard row.
type RankingEntry struct {
	UserID            string  `json:"userId"`
	PlayerName        string  `json:"playerName"`
	WeeklyXP          int     `json:"weeklyXP"`
	GamesPlayed       int     `json:"gamesPlayed"`
	TotalCorrect      int     `json:"totalCorrect"`
	TotalQuestions    int     `json:"totalQuestions"`
	TotalResponseTime float64 `json:"totalResponseTime"`
	Accuracy          float64 `json:"accuracy"`
	AverageSpeed      float64 `json:"averageSpeed"`
	Position          int     `json:"position"`
}
