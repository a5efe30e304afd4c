package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

// writeError maps domain errors to HTTP responses. Store failures are
// answered with an opaque body; the service has already logged them.
func writeError(c echo.Context, err error) error {
	var (
		validationErr *domain.ValidationError
		stageErr      *domain.InvalidStageError
		staleErr      *domain.StaleIndexError
		notFoundErr   *domain.NotFoundError
		storeErr      *domain.StoreUnavailableError
	)
	m := metricsFrom(c)
	switch {
	case errors.As(err, &validationErr):
		m.SetErrorStage("validation")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Message, Field: validationErr.Field})
	case errors.As(err, &stageErr):
		m.SetErrorStage("invalid_stage")
		return c.JSON(http.StatusBadRequest, errorResponse{Error: stageErr.Error(), Field: "stage"})
	case errors.As(err, &staleErr):
		m.SetErrorStage("stale_source")
		return c.JSON(http.StatusConflict, errorResponse{Error: "task is no longer at sourceIndex", Field: "sourceIndex"})
	case errors.As(err, &notFoundErr):
		m.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: notFoundErr.Error()})
	case errors.As(err, &storeErr):
		m.SetErrorStage("storage")
		m.SetError(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "store unavailable"})
	default:
		m.SetErrorStage("internal")
		m.SetError(err)
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
