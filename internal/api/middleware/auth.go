package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/stormalert/stormalertapi/internal/service"
	"github.com/stormalert/stormalertapi/pkg/utils/response"
)

// AuthMiddleware verifies the `user_id:enctoken` Authorization header
// against the stored session. The check is local, no upstream call.
func AuthMiddleware(sessionService *service.SessionService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if auth == "" {
				return response.ErrorResponse(c, http.StatusUnauthorized, "AuthorizationException", "Missing Authorization header")
			}

			parts := strings.SplitN(auth, ":", 2)
			if len(parts) != 2 {
				return response.ErrorResponse(c, http.StatusUnauthorized, "AuthorizationException", "Invalid Authorization header format")
			}

			userID, enctoken := parts[0], parts[1]

			userSession, err := sessionService.VerifyUserAuthorization(userID, enctoken)
			if err != nil {
				return response.ErrorResponse(c, http.StatusUnauthorized, "AuthorizationException", "Invalid or expired session")
			}

			// Add session data to context for use in handlers
			c.Set("user_id", userSession.UserId)
			c.Set("enctoken", userSession.Enctoken)
			c.Set("user_session", userSession)

			return next(c)
		}
	}
}
