package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
	"github.com/trinetra-eo/cogcatalog/internal/storage"
)

const maxBodyBytes = 4 << 20

// writeSuccess writes a successful response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeError writes an error envelope
func writeError(w http.ResponseWriter, err *apperrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}

// fail maps err onto the error taxonomy and writes it. Unclassified errors are
// logged with the correlation id and answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := CorrelationID(r.Context())
	span := trace.SpanFromContext(r.Context())
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var out *apperrors.Error
	switch e, ok := apperrors.As(err); {
	case ok:
		copied := *e
		out = &copied
		out.CorrelationID = correlationID
	case errors.Is(err, storage.ErrNotFound):
		out = apperrors.New(apperrors.CAT_NOT_FOUND, "resource not found", correlationID)
	case errors.Is(err, storage.ErrConflict):
		out = apperrors.New(apperrors.CAT_CONFLICT, "resource already exists", correlationID)
	default:
		slog.ErrorContext(r.Context(), "request failed", "correlation_id", correlationID, "path", r.URL.Path, "error", err)
		out = apperrors.New(apperrors.CAT_INTERNAL, "internal server error", correlationID)
	}
	writeError(w, out)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, apperrors.New(apperrors.CAT_NOT_FOUND, "route not found", CorrelationID(r.Context())))
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	e := apperrors.New(apperrors.CAT_BAD_REQUEST, "method not allowed", CorrelationID(r.Context()))
	e.HTTPStatus = http.StatusMethodNotAllowed
	writeError(w, e)
}

// readBody reads the request body up to maxBodyBytes.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "request body exceeds %d bytes", maxBodyBytes)
		}
		return nil, apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "failed to read request body")
	}
	return b, nil
}

// decodeInto unmarshals a schema-checked body into dst and runs struct validation.
func (s *Server) decodeInto(body []byte, dst interface{}) error {
	return s.unmarshal(body, dst, false)
}

// decode reads, unmarshals and validates a JSON body. Unknown fields are rejected.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return s.unmarshal(body, dst, true)
}

func (s *Server) unmarshal(body []byte, dst interface{}, strict bool) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(dst); err != nil {
		if e, ok := apperrors.As(err); ok {
			return e
		}
		return apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "invalid JSON: %v", err)
	}
	if dec.More() {
		return apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "invalid JSON: trailing data after object")
	}
	return s.validateStruct(dst)
}

func (s *Server) validateStruct(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("%v", err)
	}
	details := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: must satisfy %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: %s", fe.Namespace(), fe.Tag()))
		}
	}
	e := apperrors.Validation("invalid request: %s", strings.Join(details, "; "))
	e.Details = details
	return e
}
