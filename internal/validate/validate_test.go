package validate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	UserID    int64  `json:"user_id" validate:"required,gt=0"`
	Reference string `json:"reference_number" validate:"omitempty,reference"`
	Reason    string `json:"reason" validate:"max=8"`
}

func TestStructOK(t *testing.T) {
	assert.NoError(t, Struct(sample{UserID: 7, Reference: "FUND-2024.01:a", Reason: "ok"}))
	assert.NoError(t, Struct(sample{UserID: 7}))
}

func TestStructCollectsFieldErrors(t *testing.T) {
	err := Struct(sample{Reference: "has spaces", Reason: "far too long"})
	require.Error(t, err)

	errs, ok := err.(Errs)
	require.True(t, ok)
	fields := map[string]string{}
	for _, e := range errs {
		fields[e.Field] = e.Msg
	}
	assert.Equal(t, "required", fields["user_id"])
	assert.Contains(t, fields["reference_number"], "letters, digits")
	assert.Equal(t, "must be at most 8", fields["reason"])
	assert.Contains(t, err.Error(), "user_id: required")
}

func TestAmount(t *testing.T) {
	cases := map[string]bool{
		"0.01":    true,
		"500":     true,
		"500.10":  true,
		"0":       false,
		"-0.01":   false,
		"1.001":   false,
		"0.00001": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, Amount(decimal.RequireFromString(in)), in)
	}
}
