package av

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionInfoJSON(t *testing.T) {
	info := newSession(4, DirectionIncoming, true, false, time.Unix(100, 0).UTC()).info()

	data, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"direction":"incoming"`)
	assert.Contains(t, string(data), `"phase":"pending"`)

	var got SessionInfo
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, info.PeerID, got.PeerID)
	assert.Equal(t, info.SessionID, got.SessionID)
	assert.Equal(t, DirectionIncoming, got.Direction)
	assert.Equal(t, PhasePending, got.Phase)
	assert.True(t, got.StartedAt.Equal(info.StartedAt))
}

func TestPhaseUnmarshalRejectsUnknown(t *testing.T) {
	var p Phase
	assert.Error(t, p.UnmarshalText([]byte("ringing")))
	var d Direction
	assert.Error(t, d.UnmarshalText([]byte("sideways")))
}
