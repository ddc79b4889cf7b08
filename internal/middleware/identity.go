package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// currentUserID returns the authenticated user id as a string for rate
// limit keys and logs, or "anon" when the request carries no identity.
func currentUserID(c echo.Context) string {
	switch v := c.Get("user_id").(type) {
	case uint64:
		if v > 0 {
			return strconv.FormatUint(v, 10)
		}
	case string:
		if v != "" {
			return v
		}
	}
	return "anon"
}
