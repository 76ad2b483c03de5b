// Package checkmatedto holds the JSON shapes of the HTTP API.
package checkmatedto

import "time"

type CreateGameRequest struct {
	// IsWhite is the creator's color; omitted means white.
	IsWhite   *bool  `json:"is_white,omitempty"`
	Timer     string `json:"timer,omitempty"`
	TimeLimit *int   `json:"time_limit,omitempty"`
}

type CreateGameResponse struct {
	GameID  int64 `json:"game_id"`
	IsWhite bool  `json:"is_white"`
}

type EnterGameRequest struct {
	IsWhite *bool `json:"is_white,omitempty"`
}

type MoveRequest struct {
	Move string `json:"move"`
}

type Player struct {
	Username   *string `json:"username"`
	UserID     *int64  `json:"userId"`
	IsWhite    bool    `json:"isWhite"`
	Rank       *int    `json:"rank"`
	AvatarHash string  `json:"avatar_hash"`
}

type Clock struct {
	LimitMs          int64 `json:"limit_ms"`
	WhiteRemainingMs int64 `json:"white_remaining_ms"`
	BlackRemainingMs int64 `json:"black_remaining_ms"`
	WhiteToMove      bool  `json:"white_to_move"`
}

// Game is the public view of a match.
type Game struct {
	GameID      int64      `json:"game_id"`
	TimeStarted *time.Time `json:"time_started"`
	TimeEnded   *time.Time `json:"time_ended"`
	WhiteWon    *bool      `json:"white_won"`
	Players     []Player   `json:"players"`
	Timer       string     `json:"timer"`
	TimeLimit   *int       `json:"time_limit"`
	Game        string     `json:"game"`
	IsWhite     *bool      `json:"is_white"`
	Result      string     `json:"result"`
	Termination string     `json:"termination,omitempty"`
	FEN         string     `json:"fen,omitempty"`
	Opening     *Opening   `json:"opening,omitempty"`
	Clock       *Clock     `json:"clock,omitempty"`
}

type Opening struct {
	ECO   string `json:"eco"`
	Title string `json:"title"`
}

type GameList struct {
	Games []Game `json:"games"`
	Page  int    `json:"page"`
}
