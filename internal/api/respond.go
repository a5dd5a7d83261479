package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"parkeaya/internal/auth"
	"parkeaya/internal/entities"
	apperr "parkeaya/internal/errors"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.StatusOf(err), entities.ErrorResponse{
		Code:    string(apperr.KindOf(err)),
		Message: apperr.MessageOf(err),
	})
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when dst has no required fields.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Wrap(apperr.KindInvalidInput, "invalid request body", err)
	}
	if err := validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

func actorOf(r *http.Request) (entities.Actor, error) {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return entities.Actor{}, apperr.ErrUnauthorized("authentication required")
	}
	return a, nil
}
