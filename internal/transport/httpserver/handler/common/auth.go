package common

import (
	"net/http"

	"smartpot-app-go/internal/transport/httpserver/middleware"
)

type authMeResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (h *Handlers) AuthMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		WriteUnauthorized(w)
		return
	}

	WriteJSON(w, http.StatusOK, authMeResponse{ID: user.ID, Email: user.Email})
}
