package apperror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorHandler returns an echo error handler that renders *apperror.Error
// values as structured JSON and hides internal causes from the response body.
func HTTPErrorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := map[string]any{
			"error": map[string]any{
				"code":    ErrInternal.Code,
				"message": ErrInternal.Message,
			},
		}

		var appErr *Error
		var echoErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = appErr.HTTPStatus
			errBody := map[string]any{
				"code":    appErr.Code,
				"message": appErr.Message,
			}
			if len(appErr.Details) > 0 {
				errBody["details"] = appErr.Details
			}
			body = map[string]any{"error": errBody}
			if appErr.Internal != nil {
				log.Error("request failed",
					slog.String("code", appErr.Code),
					slog.Any("error", appErr.Internal),
				)
			}
		case errors.As(err, &echoErr):
			status = echoErr.Code
			body = map[string]any{
				"error": map[string]any{
					"code":    "http_error",
					"message": echoErr.Message,
				},
			}
		default:
			log.Error("unhandled error", slog.Any("error", err))
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
