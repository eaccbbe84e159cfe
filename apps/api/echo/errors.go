package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
	"github.com/trezcool/kupanda/core/transition"
)

// statusOf maps domain sentinels to their HTTP status; 0 means not a domain error.
func statusOf(err error) int {
	switch errors.Cause(err) {
	case transition.ErrTransitionInProgress:
		return http.StatusConflict
	case transition.ErrNoDraft, transition.ErrStudentNotFound, school.ErrClassNotFound, core.ErrDocNotFound:
		return http.StatusNotFound
	}
	if school.IsLoadFailure(err) {
		return http.StatusServiceUnavailable
	}
	return 0
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if code = statusOf(err); code != 0 && !core.IsShutdown(err) {
				message = err.Error()
				if code == http.StatusServiceUnavailable {
					logger.Warn("roster load failed", err, sessionExtra(ctx))
				}
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg
			logger.Error(msg, errors.Wrap(err, msg), sessionExtra(ctx))

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead {
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// sessionExtra is the logger context of the request, if a session was resolved.
func sessionExtra(ctx echo.Context) interface{} {
	if sess, err := getContextSession(ctx); err == nil {
		return sess
	}
	return map[string]interface{}{"path": ctx.Request().URL.Path}
}
