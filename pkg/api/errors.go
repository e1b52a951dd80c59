package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ontosys/omscore/pkg/freezegate"
	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/omserr"
	"github.com/ontosys/omscore/pkg/store"
)

// errorBody is the JSON shape every non-2xx response carries.
type errorBody struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// toOMSError normalizes the narrow typed errors pkg/store and
// pkg/lockmanager return at their own boundary into the shared taxonomy,
// the way pkg/freezegate.Gate.Check already does at its call sites.
func toOMSError(err error) *omserr.Error {
	var omsErr *omserr.Error
	if errors.As(err, &omsErr) {
		return omsErr
	}

	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		return omserr.New(omserr.NotFound, notFound.Error())
	}

	var conflict *store.ErrVersionConflict
	if errors.As(err, &conflict) {
		return omserr.Newf(omserr.Conflict, "version conflict: expected %d, current %d", conflict.Expected, conflict.Actual).
			WithDetails(map[string]string{"current_version": strconv.FormatInt(conflict.Actual, 10)})
	}

	return omserr.Wrap(omserr.Internal, "unhandled error", err)
}

// httpErrorHandler is registered as the Echo instance's HTTPErrorHandler.
// A freezegate.Gate rejection is written out as the rich 423 payload
// verbatim; everything else becomes {error, message, details} at the
// Code's mapped HTTP status.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if rej, ok := freezegate.RejectionFrom(err); ok {
		_ = c.JSON(http.StatusLocked, rej)
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg, _ := httpErr.Message.(string)
		_ = c.JSON(httpErr.Code, errorBody{Error: "request_error", Message: msg})
		return
	}

	omsErr := toOMSError(err)
	if omsErr.Code == omserr.Internal {
		log.Error("api internal error: " + omsErr.Error())
	}
	_ = c.JSON(omsErr.HTTPStatus(), errorBody{
		Error:   string(omsErr.Code),
		Message: omsErr.Message,
		Details: omsErr.Details,
	})
}
