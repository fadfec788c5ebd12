package middleware

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/notification-service/internal/model"
)

var registerOnce sync.Once

var validationMessages = map[string]string{
	"required":  "is required",
	"readstate": "must be new or read",
}

// RegisterValidators installs the custom binding tags on gin's validator
// and reports json field names in errors. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
		if err := v.RegisterValidation("readstate", validateReadState); err != nil {
			panic(err)
		}
	})
}

func validateReadState(fl validator.FieldLevel) bool {
	s := model.ReadState(fl.Field().String())
	return s == model.ReadStateNew || s == model.ReadStateRead
}

// describeValidation flattens validator errors into one client message.
func describeValidation(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		msg, ok := validationMessages[e.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %q validation", e.Tag())
		}
		parts = append(parts, e.Field()+" "+msg)
	}
	return strings.Join(parts, "; ")
}
