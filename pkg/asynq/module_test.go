package asynq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// A single worker on a single queue is what guarantees a queued run never
// starts before the previous one fully finished.
func TestServerConfigSerializesConsumption(t *testing.T) {
	cfg := serverConfig()
	require.Equal(t, 1, cfg.Concurrency)
	require.Equal(t, map[string]int{"redemption": 1}, cfg.Queues)
	require.NotNil(t, cfg.ErrorHandler)
}
