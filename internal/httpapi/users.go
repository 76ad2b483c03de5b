package httpapi

import (
	"net/http"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/identity"
	"github.com/park285/checkmate-server/pkg/checkmatedto"
)

func profileDTO(u *domain.User) *checkmatedto.Profile {
	if u == nil {
		return nil
	}
	return &checkmatedto.Profile{
		UserID:    u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Rank:      u.Rating,
		CreatedAt: u.CreatedAt,
	}
}

// refuse answers an auth form with accept=false and the mapped status.
func (a *api) refuse(w http.ResponseWriter, r *http.Request, err error) {
	e := faults.Classify(err)
	status := statusOf(e)
	if status == http.StatusInternalServerError {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, status, checkmatedto.AuthResponse{Accept: false, Message: message(a.msgs, e)})
}

// gate runs the captcha check. It writes the refusal itself and returns the notice to pass on.
func (a *api) gate(w http.ResponseWriter, r *http.Request, solution string) (string, bool) {
	v := a.captcha.Verify(r.Context(), solution)
	if !v.Accept {
		writeJSON(w, http.StatusBadRequest, checkmatedto.AuthResponse{Accept: false, Message: v.Message})
		return "", false
	}
	return v.Message, true
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req checkmatedto.LoginRequest
	if err := decode(r, &req); err != nil {
		a.refuse(w, r, err)
		return
	}
	notice, ok := a.gate(w, r, req.Captcha)
	if !ok {
		return
	}
	res, err := a.ids.Login(r.Context(), identityFrom(r.Context()), req.Username, req.Password, req.RememberMe)
	if err != nil {
		a.refuse(w, r, err)
		return
	}
	a.setCredential(w, res.Credential, res.Expires)
	msg := a.msgs.Text("user.login_ok", map[string]string{"Username": res.User.Username}, "")
	if notice != "" {
		msg = notice
	}
	writeJSON(w, http.StatusOK, checkmatedto.AuthResponse{Accept: true, Message: msg, Profile: profileDTO(res.User)})
}

func (a *api) signup(w http.ResponseWriter, r *http.Request) {
	var req checkmatedto.SignupRequest
	if err := decode(r, &req); err != nil {
		a.refuse(w, r, err)
		return
	}
	notice, ok := a.gate(w, r, req.Captcha)
	if !ok {
		return
	}
	u, err := a.ids.Signup(r.Context(), identityFrom(r.Context()), identity.SignupRequest{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		a.refuse(w, r, err)
		return
	}
	msg := a.msgs.Text("user.signup_ok", map[string]string{"Username": u.Username}, "")
	if notice != "" {
		msg = notice
	}
	writeJSON(w, http.StatusOK, checkmatedto.AuthResponse{Accept: true, Message: msg, Profile: profileDTO(u)})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	res, err := a.ids.Logout(r.Context(), ident)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if res.Deleted || ident.Session == nil {
		a.clearCredential(w)
	} else {
		sess := *ident.Session
		sess.UserID = nil
		cred, exp, err := a.ids.Credential(&sess, false)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		a.setCredential(w, cred, exp)
	}
	writeJSON(w, http.StatusOK, checkmatedto.AuthResponse{Accept: true, Message: a.msgs.Text("user.logout_ok", nil, "")})
}

func (a *api) identify(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, checkmatedto.IdentifyResponse{
		LoggedIn: ident.User != nil,
		Guest:    ident.User == nil && ident.Session != nil,
		Profile:  profileDTO(ident.User),
	})
}

func (a *api) update(w http.ResponseWriter, r *http.Request) {
	var req checkmatedto.UpdateRequest
	if err := decode(r, &req); err != nil {
		a.refuse(w, r, err)
		return
	}
	u, err := a.ids.Update(r.Context(), identityFrom(r.Context()), identity.UpdateRequest{
		OldPassword: req.OldPassword,
		NewPassword: req.NewPassword,
		NewEmail:    req.NewEmail,
	})
	if err != nil {
		a.refuse(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkmatedto.AuthResponse{Accept: true, Message: a.msgs.Text("user.update_ok", nil, ""), Profile: profileDTO(u)})
}

func (a *api) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.matches.Stats(r.Context(), identityFrom(r.Context()))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := checkmatedto.Stats{
		GamesPlayed:  st.GamesPlayed,
		GamesWon:     st.GamesWon,
		PercentWhite: st.PercentWhite,
	}
	if f := st.Favourite; f != nil {
		out.FavouriteOpponent = &checkmatedto.Opponent{
			Username:   f.Username,
			UserID:     f.UserID,
			AvatarHash: f.AvatarHash,
			Games:      f.Games,
		}
	}
	writeJSON(w, http.StatusOK, out)
}
