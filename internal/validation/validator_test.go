package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yishak-cs/cartrecs/internal/apperr"
)

type sample struct {
	Name  string   `validate:"required"`
	Mode  string   `validate:"oneof=a b"`
	Ratio float64  `validate:"gte=0,lte=1"`
	IDs   []string `validate:"max=2,dive,required"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(&sample{Name: "x", Mode: "a", Ratio: 0.5, IDs: []string{"1"}}))

	err := ValidateStruct(&sample{Mode: "c", Ratio: 2, IDs: []string{"1", "", "3"}})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "sample.Name is required")
	assert.Contains(t, err.Error(), "sample.Mode must be one of [a b]")
	assert.Contains(t, err.Error(), "sample.Ratio must be at most 1")
	assert.Contains(t, err.Error(), "sample.IDs must be at most 2")
}

func TestValidatorIsShared(t *testing.T) {
	assert.Same(t, Validator(), Validator())
}
