package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	AccountID string `json:"account_id" validate:"required,max=8"`
	Email     string `json:"email" validate:"required,email"`
	Name      string `json:"name" validate:"notblank"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(sample{AccountID: "way-too-long", Email: "nope", Name: "  "})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))
	assert.Equal(t, map[string]string{
		"account_id": "max",
		"email":      "email",
		"name":       "notblank",
	}, Fields(err))
	assert.Equal(t, "validation_error: account_id:max,email:email,name:notblank", err.Error())
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(sample{AccountID: "acc_1", Email: "a@b.co", Name: "Acme"}))
}

func TestField(t *testing.T) {
	err := Field("reason", "length")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, "length", Fields(err)["reason"])
	assert.Nil(t, Fields(errors.New("other")))
}
