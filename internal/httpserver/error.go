package httpserver

import (
	"net/http"

	"github.com/agentctl/controlplane/internal/apperr"
)

// RespondAppError writes err as a JSON error envelope, translating its
// apperr.Kind to an HTTP status and machine-readable code in one place.
func RespondAppError(w http.ResponseWriter, err error) {
	RespondError(w, apperr.StatusFor(err), apperr.Code(err), err.Error())
}
