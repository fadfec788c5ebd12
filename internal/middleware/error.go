package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
	"github.com/jwalitptl/notification-service/pkg/httputil"
)

// ErrorHandler renders the last error a handler attached with c.Error.
// Binding failures become 400s; everything else maps through AppError.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := classify(c.Errors.Last().Err)
		if apperrors.StatusOf(err) >= 500 {
			zerolog.Ctx(c.Request.Context()).Error().
				Err(err).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Msg("Request error")
		}
		httputil.RespondWithError(c, err)
	}
}

func classify(err error) error {
	var (
		validationErrs validator.ValidationErrors
		syntaxErr      *json.SyntaxError
		typeErr        *json.UnmarshalTypeError
		numErr         *strconv.NumError
	)
	switch {
	case errors.As(err, &validationErrs):
		return apperrors.NewBadRequest(describeValidation(validationErrs), err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.Is(err, io.EOF):
		return apperrors.NewBadRequest("malformed request body", err)
	case errors.As(err, &numErr):
		return apperrors.NewBadRequest("malformed number "+strconv.Quote(numErr.Num), err)
	}
	return err
}
