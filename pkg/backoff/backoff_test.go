package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_Default(t *testing.T) {
	b := Default()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{200, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponential_FallsBackToDefaults(t *testing.T) {
	b := NewExponential(0, -1)
	assert.Equal(t, DefaultInitial, b.Initial)
	assert.Equal(t, DefaultMax, b.Max)
}

func TestExponential_Custom(t *testing.T) {
	b := NewExponential(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b.Delay(1))
	assert.Equal(t, 800*time.Millisecond, b.Delay(4))
	assert.Equal(t, time.Second, b.Delay(5))
}
