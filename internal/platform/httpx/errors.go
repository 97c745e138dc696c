// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-mfg/internal/shared"
)

// ErrBadRequest marks malformed request bodies and parameters.
var ErrBadRequest = shared.Validation("malformed request")

// RespondError maps domain error kinds to RFC7807 responses.
func RespondError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		Problem(w, http.StatusBadRequest, "Validation Failed", verrs.Error())
		return
	}
	switch shared.KindOf(err) {
	case shared.ErrValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.ErrNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.ErrStateConflict:
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
