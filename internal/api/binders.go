package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/billing/pkg/binder"
)

var (
	bindJSON = binder.JSON()
	bindPath = binder.Path(chi.URLParam)
)
