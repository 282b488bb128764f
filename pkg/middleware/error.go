package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"giftops/pkg/errutil"
)

// Error renders the last error a handler attached to the context. Handlers
// push domain errors with c.Error and return; this middleware owns the
// status mapping.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var base errutil.BaseError
		if errors.As(last.Err, &base) {
			c.JSON(base.Code.HTTPStatus(), base.JSON())
			return
		}
		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: last.Error(),
		}.JSON())
	}
}
