package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReconnectDelaySchedule(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // would be 32s uncapped
		{10, 30 * time.Second},
		{11, 30 * time.Second},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ReconnectDelay(c.attempt), "attempt %d", c.attempt)
	}
}

func TestMaxReconnectAttemptsConstant(t *testing.T) {
	require.Equal(t, 10, maxReconnectAttempts)
}
