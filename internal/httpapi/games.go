package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/gorilla/mux"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/match"
	"github.com/park285/checkmate-server/internal/record"
	"github.com/park285/checkmate-server/internal/render"
	"github.com/park285/checkmate-server/pkg/checkmatedto"
)

const maxBody = 1 << 16

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return faults.Invalid("malformed request body")
	}
	return nil
}

func matchID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, faults.ErrNotFound
	}
	return id, nil
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request) {
	var req checkmatedto.CreateGameRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	created, err := a.matches.Create(r.Context(), identityFrom(r.Context()), match.CreateOptions{
		CreatorWhite: req.IsWhite,
		Timer:        domain.TimerKind(req.Timer),
		TimeLimit:    req.TimeLimit,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !a.issueSession(w, r, created.Session) {
		return
	}
	writeJSON(w, http.StatusCreated, checkmatedto.CreateGameResponse{GameID: created.MatchID, IsWhite: created.White})
}

func (a *api) getGame(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.matches.Get(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameDTO(v))
}

func (a *api) enterGame(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req checkmatedto.EnterGameRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	entered, err := a.matches.Enter(r.Context(), id, req.IsWhite, identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !a.issueSession(w, r, entered.Session) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) move(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req checkmatedto.MoveRequest
	if err := decode(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Move) == "" {
		a.writeError(w, r, faults.ErrIllegalMove)
		return
	}
	v, err := a.matches.Move(r.Context(), id, req.Move, identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameDTO(v))
}

func (a *api) resign(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.matches.Resign(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gameDTO(v))
}

func (a *api) listGames(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	mine, _ := strconv.ParseBool(q.Get("mine"))
	views, err := a.matches.List(r.Context(), identityFrom(r.Context()), match.ListOptions{Mine: mine, Page: page, PageSize: size})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := checkmatedto.GameList{Games: make([]checkmatedto.Game, 0, len(views)), Page: page}
	for _, v := range views {
		out.Games = append(out.Games, gameDTO(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) board(w http.ResponseWriter, r *http.Request) {
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	v, err := a.matches.Get(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	game := v.Game
	if game == nil {
		game = nchess.NewGame()
	}
	png, err := render.PNG(r.Context(), game.Position().Board(), render.Options{
		Flip:      v.IsWhite != nil && !*v.IsWhite,
		Highlight: render.Highlighted(game),
		Title:     title(v),
		Status:    status(v),
	})
	if err != nil {
		a.writeError(w, r, faults.Fault("render board", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (a *api) watch(w http.ResponseWriter, r *http.Request) {
	if a.relay == nil {
		a.writeError(w, r, faults.ErrNotFound)
		return
	}
	id, err := matchID(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := a.matches.Get(r.Context(), id, identityFrom(r.Context())); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.relay.Serve(w, r, id)
}

func title(v *match.View) string {
	names := map[bool]string{true: record.Anonymous, false: record.Anonymous}
	for _, p := range v.Players {
		if p.Username != nil {
			names[p.White] = *p.Username
		}
	}
	return fmt.Sprintf("#%d  %s vs %s", v.ID, names[true], names[false])
}

func status(v *match.View) string {
	switch {
	case v.TimeStarted == nil:
		return "waiting for an opponent"
	case v.TimeEnded != nil:
		if v.Termination != "" {
			return v.Result + " (" + v.Termination + ")"
		}
		return v.Result
	case v.Clock != nil && v.Clock.WhiteToMove:
		return "white to move"
	default:
		return "black to move"
	}
}

func gameDTO(v *match.View) checkmatedto.Game {
	g := checkmatedto.Game{
		GameID:      v.ID,
		TimeStarted: v.TimeStarted,
		TimeEnded:   v.TimeEnded,
		WhiteWon:    v.WhiteWon,
		Players:     make([]checkmatedto.Player, 0, len(v.Players)),
		Timer:       string(v.Timer),
		TimeLimit:   v.TimeLimit,
		Game:        v.Record,
		IsWhite:     v.IsWhite,
		Result:      v.Result,
		Termination: v.Termination,
		FEN:         v.FEN,
	}
	for _, p := range v.Players {
		g.Players = append(g.Players, checkmatedto.Player{
			Username:   p.Username,
			UserID:     p.UserID,
			IsWhite:    p.White,
			Rank:       p.Rating,
			AvatarHash: p.AvatarHash,
		})
	}
	if o := v.Opening; o != nil {
		g.Opening = &checkmatedto.Opening{ECO: o.ECO, Title: o.Title}
	}
	if c := v.Clock; c != nil {
		g.Clock = &checkmatedto.Clock{
			LimitMs:          c.Limit.Milliseconds(),
			WhiteRemainingMs: c.WhiteRemaining.Milliseconds(),
			BlackRemainingMs: c.BlackRemaining.Milliseconds(),
			WhiteToMove:      c.WhiteToMove,
		}
	}
	return g
}
