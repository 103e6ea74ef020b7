package handlers

import (
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Site, instrument and item codes: letters, digits, dash, underscore, dot.
var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]{0,63}$`)

var registerOnce sync.Once

// RegisterValidators adds the "code" tag to gin's validator. Safe to call more than once.
func RegisterValidators() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("code", func(fl validator.FieldLevel) bool {
				return codePattern.MatchString(fl.Field().String())
			})
		}
	})
}

func validCode(s string) bool {
	return codePattern.MatchString(s)
}
