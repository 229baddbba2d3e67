package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSampledCore(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled: true,
		Tick:    config.Duration(time.Minute),
		Levels: map[zapcore.Level]LevelSamplingConfig{
			zapcore.InfoLevel:  {Initial: 2, Thereafter: 0},
			zapcore.ErrorLevel: {Initial: 1, Thereafter: 0},
		},
	})
	logger := zap.New(sampled)

	for i := 0; i < 5; i++ {
		logger.Info("same info")
		logger.Debug("same debug")
		logger.Error("same error")
	}

	assert.Equal(t, 2, observed.FilterMessage("same info").Len())
	assert.Equal(t, 5, observed.FilterMessage("same debug").Len(), "unconfigured levels pass through")
	assert.Equal(t, 5, observed.FilterMessage("same error").Len(), "errors are never sampled")
}

func TestSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, newSampledCore(core, SamplingConfig{}))
}
