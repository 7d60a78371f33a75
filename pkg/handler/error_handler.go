package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/billing/pkg/binder"
	"github.com/dmitrymomot/billing/pkg/logger"
	"github.com/dmitrymomot/billing/pkg/requestid"
)

// Classify turns binder failures into client errors. Other errors pass
// through unchanged.
func Classify(err error) error {
	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return errors.Join(ErrUnsupportedMediaType, err)
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrFailedToParsePath):
		return errors.Join(ErrBadRequest, err)
	}
	return err
}

// ErrorMapper translates domain errors into HTTPError values.
type ErrorMapper func(error) error

// NewErrorHandler renders errors as JSON after passing them through mappers,
// logging server errors at error level and client errors at debug level.
func NewErrorHandler[C Context](log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[C] {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("http"))

	return func(ctx C, err error) {
		r := ctx.Request()
		mapped := Classify(err)
		for _, m := range mappers {
			mapped = m(mapped)
		}

		status, _ := errorToDetail(mapped)
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if rerr := JSONError(mapped).Render(ctx.ResponseWriter(), r); rerr != nil {
			log.ErrorContext(r.Context(), "failed to write error response", logger.Error(rerr))
		}
	}
}
