package dashboardfeed

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/peoplecounter/internal/tokens"
)

func httpHandler(hub *Hub) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	return mux
}

func TestRejectsConnectionWithoutToken(t *testing.T) {
	tm := tokens.NewManager("test-secret")
	hub := NewHub(tm)
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		require.Equal(t, 401, resp.StatusCode)
	}
}

func TestAcceptsConnectionWithValidTokenAndReceivesBroadcast(t *testing.T) {
	tm := tokens.NewManager("test-secret")
	hub := NewHub(tm)
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	token, err := tm.GenerateAccessToken("user-1", "tenant-1")
	require.NoError(t, err)

	u, _ := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(Snapshot{Zones: []ZoneSnapshot{{ZoneID: "z1", Enter: 1}}})

	var got Snapshot
	require.NoError(t, conn.ReadJSON(&got))
	require.Len(t, got.Zones, 1)
	require.Equal(t, "z1", got.Zones[0].ZoneID)
}

func TestUnregistersClientOnDisconnect(t *testing.T) {
	tm := tokens.NewManager("test-secret")
	hub := NewHub(tm)
	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	token, _ := tm.GenerateAccessToken("user-1", "tenant-1")
	u, _ := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}
