package validator

import (
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/roadside-api/internal/model"
)

// Register adds the domain validations to gin's binding validator.
// It is safe to call more than once.
func Register() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected binding validator %T", binding.Validator.Engine())
	}
	if err := v.RegisterValidation("substatus", validSubStatus); err != nil {
		return fmt.Errorf("failed to register substatus validation: %w", err)
	}
	return nil
}

func validSubStatus(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case model.SubStatus:
		return v.Valid()
	case string:
		return model.SubStatus(v).Valid()
	}
	return false
}

// Message turns binding errors into a single readable line.
func Message(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok || len(errs) == 0 {
		return err.Error()
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "substatus":
		return fmt.Sprintf("%s is not a known sub-status", fe.Field())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
