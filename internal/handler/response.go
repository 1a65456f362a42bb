package handler

import (
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	apperrors "github.com/pulsefit/coach-server-go/internal/errors"
	"github.com/pulsefit/coach-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

// writeError logs server-side failures before rendering the error.
func writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if status := httputil.StatusFromCode(apperrors.GetCode(err)); status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("requestId", chimiddleware.GetReqID(r.Context())).Msg(msg)
	}
	httputil.WriteError(w, err)
}
