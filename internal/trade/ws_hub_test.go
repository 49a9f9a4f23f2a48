package trade_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lugondev/rwa-example-privy.io-sub002/internal/events"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/model"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/store"
	"github.com/lugondev/rwa-example-privy.io-sub002/internal/trade"
)

func waitForClients(t *testing.T, hub *trade.WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d ws clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return msg
}

func TestWSHub_BroadcastsSettlementsAndPrices(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := trade.NewWSHub()
	go hub.Run(ctx)

	ms := store.NewMemoryStore()
	seedUser(t, ms, "u1")
	seedAsset(t, ms, "a1", "100", nil)
	srv := httptest.NewServer(buildRouter(ms, ms, nil, hub))
	defer srv.Close()

	conn := dialWS(t, srv)
	waitForClients(t, hub, 1)

	res := decodeResult(t, settle(t, srv.Config.Handler, trade.SettleRequest{
		UserID: "u1", AssetID: "a1", Side: model.SideBuy, Quantity: d("4"), OrderType: model.OrderTypeMarket,
	}))

	msg := readMessage(t, conn)
	if string(msg["type"]) != `"`+trade.MsgTradeSettled+`"` || string(msg["asset_id"]) != `"a1"` {
		t.Fatalf("unexpected message: %v", msg)
	}
	var ev events.Settlement
	if err := json.Unmarshal(msg["data"], &ev); err != nil {
		t.Fatalf("decode settlement: %v", err)
	}
	if ev.Trade.ID != res.TradeID || !ev.ResultingShares.Equal(d("4")) {
		t.Errorf("unexpected settlement payload: %+v", ev)
	}

	do(t, srv.Config.Handler, "PUT", "/api/v1/assets/a1/price", map[string]string{"price": "101"}, "")
	msg = readMessage(t, conn)
	if string(msg["type"]) != `"`+trade.MsgPriceUpdated+`"` {
		t.Fatalf("expected price update, got %v", msg)
	}
}

func TestWSHub_UnregistersOnDisconnectAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := trade.NewWSHub()
	go hub.Run(ctx)

	ms := store.NewMemoryStore()
	srv := httptest.NewServer(buildRouter(ms, ms, nil, hub))
	defer srv.Close()

	first := dialWS(t, srv)
	dialWS(t, srv)
	waitForClients(t, hub, 2)

	first.Close()
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)
}
