package checkmatedto

import "time"

type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
	Captcha    string `json:"frc-captcha-solution"`
}

type SignupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email,omitempty"`
	Captcha  string `json:"frc-captcha-solution"`
}

type UpdateRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password,omitempty"`
	NewEmail    string `json:"new_email,omitempty"`
}

type Profile struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Email     *string   `json:"email,omitempty"`
	Rank      int       `json:"rank"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse answers login, signup and update. Message carries the user-facing text.
type AuthResponse struct {
	Accept  bool     `json:"accept"`
	Message string   `json:"message"`
	Profile *Profile `json:"profile,omitempty"`
}

type IdentifyResponse struct {
	LoggedIn bool     `json:"logged_in"`
	Guest    bool     `json:"guest"`
	Profile  *Profile `json:"profile,omitempty"`
}

type Opponent struct {
	Username   *string `json:"username"`
	UserID     *int64  `json:"userId"`
	AvatarHash string  `json:"avatar_hash"`
	Games      int     `json:"games"`
}

type Stats struct {
	GamesPlayed       int       `json:"games_played"`
	GamesWon          int       `json:"games_won"`
	PercentWhite      float64   `json:"percent_white"`
	FavouriteOpponent *Opponent `json:"favourite_opponent"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error Error `json:"error"`
}
