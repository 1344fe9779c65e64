package av

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateFlagValues(t *testing.T) {
	assert.Equal(t, StateFlags(1), FlagError)
	assert.Equal(t, StateFlags(2), FlagFinished)
	assert.Equal(t, StateFlags(4), FlagSendingAudio)
	assert.Equal(t, StateFlags(8), FlagSendingVideo)
	assert.Equal(t, StateFlags(16), FlagAcceptingAudio)
	assert.Equal(t, StateFlags(32), FlagAcceptingVideo)
}

func TestStateFlagsDecode(t *testing.T) {
	tests := []struct {
		name  string
		flags StateFlags
		want  StateEvent
	}{
		{"none", 0, StateEvent{}},
		{"finished", FlagFinished, StateEvent{Terminal: true}},
		{"error", FlagError, StateEvent{Terminal: true}},
		{"accepting audio", FlagAcceptingAudio, StateEvent{ReadyForAudio: true}},
		{"sending only", FlagSendingAudio | FlagSendingVideo, StateEvent{}},
		{"accepting video only", FlagAcceptingVideo, StateEvent{}},
		{"finished while accepting", FlagFinished | FlagAcceptingAudio, StateEvent{Terminal: true, ReadyForAudio: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.flags.Decode())
		})
	}
}

func TestStateFlagsString(t *testing.T) {
	assert.Equal(t, "none", StateFlags(0).String())
	assert.Equal(t, "sending_audio|accepting_audio", (FlagSendingAudio | FlagAcceptingAudio).String())
	assert.Equal(t, "finished|0x40", (FlagFinished | StateFlags(64)).String())
}

func TestCallControlString(t *testing.T) {
	assert.Equal(t, "cancel", CallControlCancel.String())
	assert.Equal(t, "resume", CallControlResume.String())
	assert.Equal(t, "control(42)", CallControl(42).String())
}

func TestCapabilityMask(t *testing.T) {
	assert.Equal(t, uint8(0), CapabilityMask(false, false))
	assert.Equal(t, uint8(1), CapabilityMask(true, false))
	assert.Equal(t, uint8(2), CapabilityMask(false, true))
	assert.Equal(t, uint8(3), CapabilityMask(true, true))
}

func TestAnswerPolicies(t *testing.T) {
	assert.True(t, AlwaysAnswer(1, true, false))
	assert.False(t, NeverAnswer(1, true, false))
}
