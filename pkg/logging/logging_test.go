package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"warn":    zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"unknown": zap.NewAtomicLevelAt(zap.InfoLevel),
	}
	for level, want := range cases {
		t.Run(level, func(t *testing.T) {
			l, err := New(level, "console")
			require.NoError(t, err)
			require.NotNil(t, l)
			assert.True(t, l.Core().Enabled(want.Level()))
			if want.Level() > zap.DebugLevel {
				assert.False(t, l.Core().Enabled(want.Level()-1))
			}
		})
	}
}
