package echoapi

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/school"
)

// The admin identity is resolved upstream; it only travels as headers.
const (
	HeaderAdminName  = "X-Admin-Name"
	HeaderAdminEmail = "X-Admin-Email"

	ctxSessionKey = "session"
)

var errSessionNotFoundInCtx = errors.New("session not found in echo.Context")

// sessionMiddleware builds the school.Session of the request from the :school param and the admin headers.
func sessionMiddleware(validate *validator.Validate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sess := school.Session{
				SchoolID:   core.CleanString(ctx.Param("school")),
				AdminName:  core.CleanString(ctx.Request().Header.Get(HeaderAdminName)),
				AdminEmail: core.CleanString(ctx.Request().Header.Get(HeaderAdminEmail), true /* lower */),
			}
			if err := sess.Validate(); err != nil {
				return err
			}
			if err := validate.Var(sess.AdminEmail, "omitempty,email"); err != nil {
				return core.NewValidationError(nil, core.FieldError{Field: "admin_email", Error: "must be a valid email address"})
			}
			ctx.Set(ctxSessionKey, sess)
			return next(ctx)
		}
	}
}

func getContextSession(ctx echo.Context) (school.Session, error) {
	sess, ok := ctx.Get(ctxSessionKey).(school.Session)
	if !ok {
		return school.Session{}, errSessionNotFoundInCtx
	}
	return sess, nil
}
