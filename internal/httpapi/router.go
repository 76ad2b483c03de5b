// Package httpapi is the HTTP transport of the match server.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/captcha"
	"github.com/park285/checkmate-server/internal/identity"
	"github.com/park285/checkmate-server/internal/match"
	"github.com/park285/checkmate-server/internal/msgcat"
	"github.com/park285/checkmate-server/internal/watch"
)

type Config struct {
	Matches  *match.Service
	Identity *identity.Service
	Captcha  *captcha.Verifier
	Messages *msgcat.Catalog
	// Relay is optional; without it the watch route answers 404.
	Relay  *watch.Relay
	Logger *zap.Logger
	// AllowedOrigins feeds CORS. Empty means same-origin only.
	AllowedOrigins []string
	SecureCookies  bool
}

type api struct {
	matches *match.Service
	ids     *identity.Service
	captcha *captcha.Verifier
	msgs    *msgcat.Catalog
	relay   *watch.Relay
	log     *zap.Logger
	secure  bool
}

func NewRouter(cfg Config) http.Handler {
	a := &api{
		matches: cfg.Matches,
		ids:     cfg.Identity,
		captcha: cfg.Captcha,
		msgs:    cfg.Messages,
		relay:   cfg.Relay,
		log:     cfg.Logger,
		secure:  cfg.SecureCookies,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.msgs == nil {
		a.msgs = msgcat.MustDefault()
	}
	if a.captcha == nil {
		a.captcha = captcha.New("", "")
	}

	r := mux.NewRouter()
	r.Use(a.recovery, a.logging)
	r.HandleFunc("/healthz", health).Methods(http.MethodGet)

	app := r.NewRoute().Subrouter()
	app.Use(a.resolve)

	app.HandleFunc("/chess/game", a.createGame).Methods(http.MethodPost)
	app.HandleFunc("/chess/games", a.listGames).Methods(http.MethodGet)
	app.HandleFunc("/chess/game/{id:[0-9]+}", a.getGame).Methods(http.MethodGet)
	app.HandleFunc("/chess/game/{id:[0-9]+}/enter", a.enterGame).Methods(http.MethodPatch)
	app.HandleFunc("/chess/game/{id:[0-9]+}/move", a.move).Methods(http.MethodPatch)
	app.HandleFunc("/chess/game/{id:[0-9]+}/resign", a.resign).Methods(http.MethodPost)
	app.HandleFunc("/chess/game/{id:[0-9]+}/board.png", a.board).Methods(http.MethodGet)
	app.HandleFunc("/chess/game/{id:[0-9]+}/watch", a.watch).Methods(http.MethodGet)

	app.HandleFunc("/user/login", a.login).Methods(http.MethodPost)
	app.HandleFunc("/user/new", a.signup).Methods(http.MethodPost)
	app.HandleFunc("/user/logout", a.logout).Methods(http.MethodDelete)
	app.HandleFunc("/user/identify", a.identify).Methods(http.MethodGet)
	app.HandleFunc("/user/update", a.update).Methods(http.MethodPatch)
	app.HandleFunc("/user/stats", a.stats).Methods(http.MethodGet)

	if len(cfg.AllowedOrigins) == 0 {
		return r
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	return c.Handler(r)
}

func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
