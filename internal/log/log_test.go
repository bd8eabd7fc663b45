package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetDebugTogglesGate(t *testing.T) {
	SetDebug(false)
	assert.False(t, debug)

	SetDebug(true)
	assert.True(t, debug)

	SetDebug(false)
}

func TestGatedCallsDoNotPanicRegardlessOfDebugState(t *testing.T) {
	SetDebug(false)
	assert.NotPanics(t, func() {
		Debug("quiet")
		Debugf("quiet %d", 1)
		Tracef("quiet %d", 1)
	})

	SetDebug(true)
	assert.NotPanics(t, func() {
		Debug("loud")
		Debugf("loud %d", 1)
		Tracef("loud %d", 1)
	})
	SetDebug(false)
}

func TestUngatedCallsDoNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Info("info")
		Infof("info %d", 1)
		Warn("warn")
		Warnf("warn %d", 1)
		Error("error")
		Errorf("error %d", 1)
		Flush()
	})
}
