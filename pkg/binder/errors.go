package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("binder: unsupported media type")
	ErrMissingContentType   = errors.New("binder: missing content type")
	ErrFailedToParseJSON    = errors.New("binder: malformed JSON body")
	ErrFailedToParsePath    = errors.New("binder: invalid path parameter")
)
