package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenAuth(_ context.Context, token string) (string, bool) {
	user, ok := strings.CutPrefix(token, "valid-")
	return user, ok
}

func rejectWith(w http.ResponseWriter, _ *http.Request, _ error) {
	w.WriteHeader(http.StatusUnauthorized)
}

func newServer(t *testing.T) (*Coordinator, string) {
	t.Helper()
	coord, _ := setup()
	srv := httptest.NewServer(ServeWS(coord, tokenAuth, []string{"*"}, rejectWith))
	t.Cleanup(func() {
		coord.CloseAll()
		srv.Close()
	})
	return coord, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int            `json:"ack"`
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServeWSRejectsMissingOrBadToken(t *testing.T) {
	_, url := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=forged", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHousePresenceOverWebsocket(t *testing.T) {
	coord, url := newServer(t)
	alice := dial(t, url, "valid-alice")
	bob := dial(t, url, "valid-bob")

	require.NoError(t, alice.WriteJSON(Event{Event: EventEnterHouse}))
	require.Eventually(t, func() bool { return len(coord.HouseMembers()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// the payload user id is ignored in favour of the authenticated one
	require.NoError(t, bob.WriteJSON(Event{Event: EventEnterHouse, Data: userPayload{UserID: "mallory"}}))
	ev := readEvent(t, alice)
	assert.Equal(t, EventUserEntered, ev.Event)
	assert.JSONEq(t, `{"userId":"bob"}`, string(ev.Data))

	ack := 7
	require.NoError(t, alice.WriteJSON(Event{Event: EventGetUsersInHouse, Ack: &ack}))
	ev = readEvent(t, alice)
	assert.Equal(t, EventAck, ev.Event)
	require.NotNil(t, ev.Ack)
	assert.Equal(t, 7, *ev.Ack)
	assert.JSONEq(t, `["alice","bob"]`, string(ev.Data))

	require.NoError(t, bob.Close())
	ev = readEvent(t, alice)
	assert.Equal(t, EventUserLeft, ev.Event)
	assert.JSONEq(t, `{"userId":"bob"}`, string(ev.Data))
}

func TestUnknownEventGetsError(t *testing.T) {
	_, url := newServer(t)
	alice := dial(t, url, "valid-alice")

	require.NoError(t, alice.WriteJSON(Event{Event: "dance"}))
	ev := readEvent(t, alice)
	assert.Equal(t, EventError, ev.Event)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ev = readEvent(t, alice)
	assert.Equal(t, EventError, ev.Event)
}
