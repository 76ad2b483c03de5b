package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/msgcat"
	"github.com/park285/checkmate-server/pkg/checkmatedto"
)

// statusOf maps a classified error to its HTTP status.
func statusOf(e *faults.Error) int {
	switch e {
	case faults.ErrNotParticipant, faults.ErrAlreadyJoined, faults.ErrFull,
		faults.ErrColorUnavailable, faults.ErrInvalidCredentials:
		return http.StatusUnauthorized
	}
	switch e.Kind {
	case faults.KindUserInput:
		return http.StatusBadRequest
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// message renders the catalog text for a code. Validation reasons pass through.
func message(cat *msgcat.Catalog, e *faults.Error) string {
	if e.Code == "INVALID_INPUT" {
		return e.Message
	}
	return cat.Text("errors."+e.Code, nil, e.Message)
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := faults.Classify(err)
	status := statusOf(e)
	if status == http.StatusInternalServerError {
		a.log.Error("request_fault",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, checkmatedto.ErrorResponse{Error: checkmatedto.Error{
		Code:    e.Code,
		Message: message(a.msgs, e),
	}})
}
