package ws_test

import (
	"testing"

	"github.com/serroba/collab-core/internal/presence"
	"github.com/serroba/collab-core/internal/ws"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestClient_ReceiveDecodesTypedPayloads(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient("c1", "user1", conn)

	conn.incoming <- ws.Message{
		Type:    ws.MessageTypeOpenFile,
		Payload: ws.OpenFilePayload{ProjectID: "p1", FileID: "f1"},
	}

	msg, err := client.Receive()
	require.NoError(t, err)
	require.Equal(t, ws.MessageTypeOpenFile, msg.Type)

	payload, ok := msg.Payload.(ws.OpenFilePayload)
	require.True(t, ok)
	require.Equal(t, "p1", payload.ProjectID)
	require.Equal(t, "f1", payload.FileID)
}

func TestClient_ReceiveCursorMove(t *testing.T) {
	t.Parallel()

	conn := newMockConn()
	client := newTestClient("c1", "user1", conn)

	conn.incoming <- ws.Message{
		Type:    ws.MessageTypeCursorMove,
		Payload: ws.CursorMovePayload{FileID: "f1", Line: 2, Column: 5},
	}

	msg, err := client.Receive()
	require.NoError(t, err)

	payload, ok := msg.Payload.(ws.CursorMovePayload)
	require.True(t, ok)
	require.Equal(t, 2, payload.Line)
	require.Equal(t, 5, payload.Column)
}

func TestClient_FileTracking(t *testing.T) {
	t.Parallel()

	client := newTestClient("c1", "user1", newMockConn())

	client.TrackFile("f1")
	client.TrackFile("f2")
	client.TrackFile("f1") // Duplicate is a no-op.

	require.ElementsMatch(t, []string{"f1", "f2"}, client.OpenFiles())

	client.UntrackFile("f1")
	require.Equal(t, []string{"f2"}, client.OpenFiles())
}

func TestClient_CursorRateLimit(t *testing.T) {
	t.Parallel()

	// 1 update/sec with burst 2: the third immediate update is dropped.
	limiter := rate.NewLimiter(1, 2)
	client := ws.NewClient("c1", presence.NewUser("user1", "User One"), newMockConn(), limiter)

	require.True(t, client.AllowCursor())
	require.True(t, client.AllowCursor())
	require.False(t, client.AllowCursor())

	// A nil limiter never throttles.
	unlimited := newTestClient("c2", "user2", newMockConn())
	for range 100 {
		require.True(t, unlimited.AllowCursor())
	}
}
