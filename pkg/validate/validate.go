// Package validate wraps go-playground/validator/v10, grounded on the
// teacher's use of the same library to validate bound request structs before
// handing them to application code.
package validate

import "github.com/go-playground/validator/v10"

var v = validator.New()

// Struct validates every `validate:"..."` tag on s, returning the
// validator's aggregated error if any field fails.
func Struct(s interface{}) error {
	return v.Struct(s)
}
