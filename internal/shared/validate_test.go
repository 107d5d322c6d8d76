package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	CustomerID int64  `validate:"required,gt=0"`
	Currency   string `validate:"required,len=3"`
	Lines      []int  `validate:"required,min=1"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(sampleRequest{CustomerID: 1, Currency: "IDR", Lines: []int{1}}))

	err := ValidateStruct(sampleRequest{Currency: "ID"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusinessRule))
	assert.Equal(t, "VALIDATION", CodeOf(err))
	assert.Contains(t, err.Error(), "CustomerID")
	assert.Contains(t, err.Error(), "Lines")
}

func TestValidateCurrency(t *testing.T) {
	code, err := ValidateCurrency(" usd ")
	require.NoError(t, err)
	assert.Equal(t, "USD", code)

	_, err = ValidateCurrency("XYZ1")
	assert.ErrorIs(t, err, ErrBusinessRule)
}
