package websocket_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"skillzio/internal/order"
	"skillzio/internal/websocket"

	"github.com/google/uuid"
	gw "github.com/gorilla/websocket"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

func TestOrderStream(t *testing.T) {
	logger := slogt.New(t)
	orders := order.NewLedger(order.NewMemoryStore(), logger)
	hub := websocket.NewHub(logger)
	go hub.Run(t.Context())

	buyer := uuid.New()
	o, err := orders.Create(t.Context(), buyer, []order.Item{{CourseID: uuid.New(), Price: 100}}, 100, order.ChannelGateway, "")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{orderID}/ws", websocket.NewHandler(hub, orders, logger).ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/orders/" + o.ID.String() + "/ws"

	t.Run("fail, other buyers cannot watch the order", func(t *testing.T) {
		_, resp, err := gw.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{uuid.NewString()}})
		require.Error(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("ok, snapshot then updates", func(t *testing.T) {
		conn, _, err := gw.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{buyer.String()}})
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

		var snapshot websocket.OrderUpdate
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(msg, &snapshot))
		require.Equal(t, order.StatusPending, snapshot.Status)

		// Registration is asynchronous; keep broadcasting until one lands.
		got := make(chan websocket.OrderUpdate, 1)
		go func() {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var upd websocket.OrderUpdate
			if json.Unmarshal(msg, &upd) == nil {
				got <- upd
			}
		}()

		require.Eventually(t, func() bool {
			hub.BroadcastOrderUpdate(o.ID, order.StatusSuccess)
			select {
			case upd := <-got:
				return upd.OrderID == o.ID && upd.Status == order.StatusSuccess
			case <-time.After(50 * time.Millisecond):
				return false
			}
		}, 3*time.Second, 10*time.Millisecond)
	})
}
