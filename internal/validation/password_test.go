package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePassword(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"Valid", "password123", nil},
		{"Exactly Min Length", "abcdefgh", nil},
		{"Too Short", "abcdefg", ErrPasswordTooShort},
		{"Empty", "", ErrPasswordTooShort},
		{"Contains Space", "pass word", ErrPasswordWhitespace},
		{"Leading Space", " password", ErrPasswordWhitespace},
		{"Contains Tab", "pass\tword", ErrPasswordWhitespace},
		{"Contains Newline", "password\n", ErrPasswordWhitespace},
		{"Unicode Counted As Characters", "ÅÅÅÅÅÅÅÅ", nil},
		{"Seven Multibyte Characters", "ÅÅÅÅÅÅÅ", ErrPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPresent(t *testing.T) {
	t.Parallel()
	assert.True(t, Present("a", "b"))
	assert.True(t, Present())
	assert.False(t, Present("a", ""))
}
