package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crawlpool/internal/crawl"
	"crawlpool/internal/shared/types"
	"crawlpool/proxypool/model"

	"github.com/gorilla/websocket"
)

type staticPool []*model.ValidatedProxy

func (p staticPool) Snapshot() []*model.ValidatedProxy { return p }

func TestHandleStatus_ReturnsLatestStats(t *testing.T) {
	hub := NewHub()
	hub.Observe(crawl.Stats{RunID: "run-1", NovelRecords: 3, State: "Extracting"})

	srv := httptest.NewServer(NewMux(types.WebConf{}, hub, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status failed: %v", err)
	}
	defer resp.Body.Close()

	var got crawl.Stats
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.RunID != "run-1" || got.NovelRecords != 3 {
		t.Errorf("Unexpected stats: %+v", got)
	}
}

func TestHandleProxies_ListsPool(t *testing.T) {
	pool := staticPool{
		{Candidate: model.Candidate{IP: "1.1.1.1", Port: 1080, Protocol: model.ProtocolSOCKS5}, Working: true},
	}
	srv := httptest.NewServer(NewMux(types.WebConf{}, NewHub(), pool, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/proxies")
	if err != nil {
		t.Fatalf("GET /api/proxies failed: %v", err)
	}
	defer resp.Body.Close()

	var got struct {
		Count   int `json:"count"`
		Proxies []struct {
			IP   string `json:"ip"`
			Port int    `json:"port"`
		} `json:"proxies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Count != 1 || got.Proxies[0].IP != "1.1.1.1" {
		t.Errorf("Unexpected response: %+v", got)
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := types.WebConf{User: "admin", Password: "secret"}
	srv := httptest.NewServer(NewMux(cfg, NewHub(), nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok_metric 1\n"))
	})
	srv := httptest.NewServer(NewMux(types.WebConf{User: "a", Password: "b"}, NewHub(), nil, metrics))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected /metrics without auth to return 200, got %d", resp.StatusCode)
	}
}

func TestHub_BroadcastsStatsUpdate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(NewMux(types.WebConf{}, hub, nil, nil))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	// 等待注册完成后再广播
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Observe(crawl.Stats{RunID: "run-ws", FetchedPages: 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string      `json:"type"`
		Data crawl.Stats `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Type != "stats_update" || msg.Data.RunID != "run-ws" || msg.Data.FetchedPages != 2 {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestHub_ClientAfterShutdownIsClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	runDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(runDone)
	}()

	srv := httptest.NewServer(NewMux(types.WebConf{}, hub, nil, nil))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	early, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer early.Close()

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after cancel")
	}

	late, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer late.Close()

	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	if err == nil {
		t.Fatal("Expected read error on closed connection, got message")
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		t.Errorf("Expected server to close late client, got timeout: %v", err)
	}

	// 断开早先的客户端不应阻塞 read pump
	early.Close()
	time.Sleep(50 * time.Millisecond)
	hub.mu.Lock()
	n := len(hub.clients)
	hub.mu.Unlock()
	if n != 0 {
		t.Errorf("Expected 0 clients after shutdown, got %d", n)
	}
}
