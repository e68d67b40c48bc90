package wsassistant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func echoServer(t *testing.T, onConnect func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		if onConnect != nil {
			onConnect(conn)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestWSAssistantDeliversMessages(t *testing.T) {
	t.Parallel()
	srv := echoServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"hello":"world"}`))
	})
	defer srv.Close()

	a := New(wsURL(srv), func(ids []string, unsubscribe bool) any { return nil }, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	select {
	case msg := <-a.Messages():
		if string(msg) != `{"hello":"world"}` {
			t.Fatalf("got %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestWSAssistantResubscribesOnReconnect(t *testing.T) {
	t.Parallel()
	subscribeCount := 0
	first := true

	srv := echoServer(t, func(conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		if err == nil {
			subscribeCount++
		}
		if first {
			first = false
			conn.Close() // force a reconnect after the first subscribe message
		}
	})
	defer srv.Close()

	a := New(wsURL(srv), func(ids []string, unsubscribe bool) any {
		return map[string]any{"ids": ids, "unsubscribe": unsubscribe}
	}, discardLogger(), WithHeartbeat(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Subscribe([]string{"BTC-USDT"}); err != nil {
		// Not yet connected; Subscribe only records intent and will replay on connect.
	}

	go a.Run(ctx)

	deadline := time.After(8 * time.Second)
	for subscribeCount < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected resubscribe after reconnect, saw %d subscribe attempts", subscribeCount)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestCloseIsSafeWithoutConnection(t *testing.T) {
	t.Parallel()
	a := New("ws://unused", func(ids []string, unsubscribe bool) any { return nil }, discardLogger())
	if err := a.Close(); err != nil {
		t.Fatalf("Close on a never-connected assistant: %v", err)
	}
}
