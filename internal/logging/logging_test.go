package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/lanegate/server/internal/logging"
)

func TestNew(t *testing.T) {
	logger, err := logging.New("warn", "json")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	logger, err = logging.New("DEBUG", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_Rejects(t *testing.T) {
	_, err := logging.New("loud", "json")
	assert.Error(t, err)

	_, err = logging.New("info", "xml")
	assert.Error(t, err)
}
