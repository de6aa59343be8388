package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string    `json:"name" validate:"required,max=5"`
	Count int       `json:"count" validate:"gte=0"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end" validate:"gtefield=Start"`
}

func TestStruct(t *testing.T) {
	now := time.Now()

	t.Run("Valid", func(t *testing.T) {
		err := Struct(sample{Name: "abc", Start: now, End: now.Add(time.Hour)})
		assert.NoError(t, err)
	})

	t.Run("ReportsJSONFieldNames", func(t *testing.T) {
		err := Struct(sample{Name: "", Count: -1, Start: now, End: now.Add(-time.Hour)})
		require.Error(t, err)

		fields := Fields(err)
		require.Len(t, fields, 3)
		assert.Equal(t, FieldError{Field: "name", Reason: "is required"}, fields[0])
		assert.Equal(t, "count", fields[1].Field)
		assert.Equal(t, "end", fields[2].Field)
		assert.Equal(t, "must not be before Start", fields[2].Reason)
	})

	t.Run("MaxLength", func(t *testing.T) {
		fields := Fields(Struct(sample{Name: "toolong"}))
		require.Len(t, fields, 1)
		assert.Equal(t, "name: must be at most 5 characters", fields[0].String())
	})
}

func TestFieldsForeignError(t *testing.T) {
	assert.Nil(t, Fields(nil))

	fields := Fields(errors.New("boom"))
	require.Len(t, fields, 1)
	assert.Equal(t, "", fields[0].Field)
	assert.Equal(t, "boom", fields[0].Reason)
}
