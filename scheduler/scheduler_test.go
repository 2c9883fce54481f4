package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ozontech/h2mux/scheduler"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	s, err := scheduler.NewConstant(10)
	require.NoError(t, err)

	at, ok := s.Next(1)
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, at)

	at, ok = s.Next(5)
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, at)
}

func TestConstantZeroFreq(t *testing.T) {
	t.Parallel()

	_, err := scheduler.NewConstant(0)
	require.Error(t, err)
}

func TestUnlimited(t *testing.T) {
	t.Parallel()

	s := scheduler.Unlimited{}
	for _, n := range []int64{1, 100, 1 << 40} {
		at, ok := s.Next(n)
		assert.True(t, ok)
		assert.Zero(t, at)
	}
}

func TestCountLimiter(t *testing.T) {
	t.Parallel()

	s := scheduler.NewCountLimiter(scheduler.Unlimited{}, 3)
	for n := int64(1); n <= 3; n++ {
		_, ok := s.Next(n)
		assert.True(t, ok)
	}
	_, ok := s.Next(4)
	assert.False(t, ok)
}
