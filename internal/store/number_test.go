package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseNumber(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		want    int64
		wantErr bool
	}{
		{"positive", "42", 42, false},
		{"negative", "-17", -17, false},
		{"zero", "0", 0, false},
		{"leading plus", "+5", 5, false},
		{"not a number", "alice", 0, true},
		{"float", "3.14", 0, true},
		{"empty", "", 0, true},
		{"trailing garbage", "42x", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseNumber([]byte(tc.in))
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNotANumber)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "42", string(FormatNumber(42)))
	assert.Equal(t, "-17", string(FormatNumber(-17)))
	assert.Equal(t, "0", string(FormatNumber(0)))
}
