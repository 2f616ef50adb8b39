package log

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggerLazyInit(t *testing.T) {
	SetDefaultLogger(nil)

	logger := DefaultLogger()
	require.NotNil(t, logger)

	// Repeated calls return the same instance.
	assert.Same(t, logger, DefaultLogger())
}

func TestSetDefaultLogger(t *testing.T) {
	custom := New(Config{
		Level:       LevelDebug,
		Format:      FormatText,
		Output:      OutputStderr(),
		ServiceName: "test",
	})
	SetDefaultLogger(custom)
	t.Cleanup(func() { SetDefaultLogger(nil) })

	assert.Same(t, custom, DefaultLogger())
}

func TestDefaultLoggerConcurrency(t *testing.T) {
	SetDefaultLogger(nil)

	var wg sync.WaitGroup
	loggers := make([]*Logger, 16)
	for i := range loggers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			loggers[i] = DefaultLogger()
		}(i)
	}
	wg.Wait()

	// Every goroutine must observe the same initialized instance.
	for _, l := range loggers {
		require.NotNil(t, l)
		assert.Same(t, loggers[0], l)
	}
}
