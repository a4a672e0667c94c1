package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type answer string

func (a answer) Valid() bool { return a == "YES" || a == "NO" }

type eventPayload struct {
	Title    string `json:"title" validate:"required,notblank"`
	Location string `json:"location" validate:"omitempty,max=16"`
	Capacity int    `json:"capacity" validate:"gte=0"`
}

func TestValidateStructReportsJSONNames(t *testing.T) {
	require.NoError(t, ValidateStruct(eventPayload{Title: "Picnic", Location: "Park", Capacity: 10}))

	err := ValidateStruct(eventPayload{Location: strings.Repeat("x", 20), Capacity: -1})
	var failures ValidationErrors
	require.True(t, errors.As(err, &failures))

	tags := map[string]string{}
	for _, f := range failures {
		tags[f.Field] = f.Tag
	}
	require.Equal(t, map[string]string{"title": "required", "location": "max", "capacity": "gte"}, tags)
	require.Equal(t, "title is required; location must be at most 16; capacity must be at least 0", err.Error())
}

func TestNotBlank(t *testing.T) {
	err := ValidateStruct(eventPayload{Title: "   \t"})
	require.Equal(t, "title must not be blank", Describe(err))

	type payload struct {
		Note *string `json:"note" validate:"omitempty,notblank"`
	}
	blank, filled := "  ", "bring snacks"
	require.Error(t, ValidateStruct(payload{Note: &blank}))
	require.NoError(t, ValidateStruct(payload{Note: &filled}))
	require.NoError(t, ValidateStruct(payload{}))
}

func TestEnumUsesValidMethod(t *testing.T) {
	type payload struct {
		Answer answer `json:"answer" validate:"required,enum"`
		Plain  string `json:"plain" validate:"omitempty,enum"`
	}

	require.NoError(t, ValidateStruct(payload{Answer: "YES"}))
	require.Equal(t, "answer has an unknown value", Describe(ValidateStruct(payload{Answer: "PERHAPS"})))
	require.Error(t, ValidateStruct(payload{Answer: "NO", Plain: "x"}), "types without Valid never pass")
}

func TestMessageFallbacks(t *testing.T) {
	require.Equal(t, "start at failed after=now", ValidationError{Field: "start_at", Tag: "after", Param: "now"}.Message())
	require.Equal(t, "field failed custom", ValidationError{Tag: "custom"}.Message())
	require.Equal(t, "invalid request payload", Describe(errors.New("boom")))
	require.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("convene", func(fl validator.FieldLevel) bool {
		return fl.Field().String() == "convene"
	})
	require.NoError(t, err)

	type payload struct {
		Value string `json:"value" validate:"convene"`
	}
	require.NoError(t, ValidateStruct(payload{Value: "convene"}))
	require.Error(t, ValidateStruct(payload{Value: "other"}))
}
