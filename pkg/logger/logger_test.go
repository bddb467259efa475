package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	prev := level.Level()
	t.Cleanup(func() { level.SetLevel(prev) })

	assert.NoError(t, SetLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, level.Level())
	assert.False(t, Named("test").log.Desugar().Core().Enabled(zapcore.InfoLevel))

	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zapcore.WarnLevel, level.Level())
}

func TestConfigFromEnv_ServiceField(t *testing.T) {
	t.Setenv("APP_NAME", "crm_inbox")
	t.Setenv("LOG_ENV", "production")
	prev := level.Level()
	t.Cleanup(func() { level.SetLevel(prev) })

	c := configFromEnv()
	assert.Equal(t, "json", c.Encoding)
	assert.Equal(t, "crm_inbox", c.InitialFields["service"])
}
