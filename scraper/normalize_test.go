package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"₹44,999", "44999", true},
		{"44,999.00", "44999.00", true},
		{"", "", false},
		{"   ", "", false},
		{"MRP ₹1,23,456", "123456", true},
		{"INR 999.50", "999.50", true},
		{"₹ 12,999.00 onwards", "12999.00", true},
		{"Price unavailable", "", false},
		{"44.999", "44.999", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := Normalize(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePrice(t *testing.T) {
	price, err := ParsePrice("₹44,999.00")
	require.NoError(t, err)
	assert.Equal(t, "44999.00", price.StringFixed(2))

	_, err = ParsePrice("MRP")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNormalizationFailed))

	_, err = ParsePrice("1.2.3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNormalizationFailed))
}
