package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/notification-service/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents API error
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CursorPage is one page of a cursor-paginated list. Next is the cursor
// of the last item, empty when the page is empty.
type CursorPage struct {
	Items interface{} `json:"items"`
	Next  string      `json:"next,omitempty"`
}

// RespondWithSuccess sends a success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	RespondWithStatus(c, http.StatusOK, data)
}

func RespondWithStatus(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// RespondWithPage sends a cursor-paginated response
func RespondWithPage(c *gin.Context, items interface{}, next string) {
	RespondWithSuccess(c, CursorPage{Items: items, Next: next})
}

// RespondWithError sends an error response. The error code is the
// application code for AppErrors and the HTTP status otherwise.
func RespondWithError(c *gin.Context, err error) {
	status := errors.StatusOf(err)
	code := status

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		code = int(appErr.Code)
	}

	c.AbortWithStatusJSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: errors.MessageOf(err),
		},
	})
}
