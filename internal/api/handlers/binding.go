package handlers

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/your-org/guarda/internal/access"
)

var registerOnce sync.Once

// strictPlates validates registration plates. OCR correction is never
// applied to text typed by an operator.
var strictPlates = access.NewNormalizer(false, nil)

// validPlate backs the "plate" binding tag: the field must normalize to a
// legacy or Mercosul plate.
func validPlate(fl validator.FieldLevel) bool {
	read, err := strictPlates.Normalize(fl.Field().String())
	return err == nil && read.Valid
}

// RegisterValidators installs the custom binding tags on gin's validator.
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		err = v.RegisterValidation("plate", validPlate)
	})
	return err
}
