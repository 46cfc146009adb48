package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/dcf77-sensor/internal/logic"
	"github.com/sweeney/dcf77-sensor/internal/metrics"
	"github.com/sweeney/dcf77-sensor/internal/status"
)

func newTestServer(t *testing.T) (*httptest.Server, *status.Tracker) {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := status.Config{
		PollUs:            1000,
		Chip:              "gpiochip0",
		Pin:               17,
		HeartbeatMs:       900000,
		Broker:            "tcp://192.168.1.200:1883",
		HTTPAddr:          ":80",
		TolerancePercent:  20,
		CalibrationPulses: 10,
	}
	tr := status.NewTracker(start, cfg)
	srv := New(":0", tr, metrics.NewRegistry(tr))
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tr
}

func calibratedDiag() logic.Diagnostics {
	return logic.Diagnostics{
		AvgShort:    100,
		AvgLong:     200,
		ShortPulse:  50,
		LongPulse:   25,
		BitIndex:    12,
		BitValue:    1,
		LastWidthMs: 190,
		Calibrated:  true,
	}
}

func getJSON(t *testing.T, url string) status.StatusJSON {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return sj
}

func TestJSONEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.StateCalibrated, calibratedDiag(), logic.Stats{Edges: 40, Bits: 12, Frames: 1}, 3)
	tr.SetMQTTConnected(true)

	resp, err := http.Get(ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if sj.Status.State != "CALIBRATED" {
		t.Errorf("State: got %q, want CALIBRATED", sj.Status.State)
	}
	if !sj.Status.Calibrated {
		t.Error("expected Calibrated=true")
	}
	if sj.Status.Pulse.BitIndex != 12 {
		t.Errorf("Pulse.BitIndex: got %d, want 12", sj.Status.Pulse.BitIndex)
	}
	if sj.Status.Pulse.ShortPulseMs != 50 || sj.Status.Pulse.LongPulseMs != 25 {
		t.Errorf("thresholds: got %d/%d, want 50/25", sj.Status.Pulse.ShortPulseMs, sj.Status.Pulse.LongPulseMs)
	}
	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q, want tcp://192.168.1.200:1883", sj.Status.MQTT.Broker)
	}
	if sj.Status.Counts.Edges != 40 {
		t.Errorf("Counts.Edges: got %d, want 40", sj.Status.Counts.Edges)
	}
	if sj.Status.Counts.GPIOErrors != 3 {
		t.Errorf("Counts.GPIOErrors: got %d, want 3", sj.Status.Counts.GPIOErrors)
	}
	if sj.Status.Config.PollUs != 1000 {
		t.Errorf("Config.PollUs: got %d, want 1000", sj.Status.Config.PollUs)
	}
}

func TestJSONBeforeBegin(t *testing.T) {
	ts, _ := newTestServer(t)

	sj := getJSON(t, ts.URL+"/index.json")

	if sj.Status.State != "UNINITIALIZED" {
		t.Errorf("State: got %q, want UNINITIALIZED", sj.Status.State)
	}
	if sj.Status.LastFrame != nil {
		t.Error("expected no last_frame before any frame")
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	sj := getJSON(t, ts.URL+"/index.json")

	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.StateCalibrated, calibratedDiag(), logic.Stats{}, 0)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "CALIBRATED") {
		t.Error("expected state in page")
	}
	if !strings.Contains(string(body), "No frame yet.") {
		t.Error("expected empty frame placeholder")
	}
}

func TestHTMLFrameView(t *testing.T) {
	ts, tr := newTestServer(t)
	var f logic.Frame
	f.Bits[0], f.Bits[1], f.Bits[2] = 1, 0, 1
	f.Bits[3] = 1 // stale
	f.Count = 3
	f.Valid = true
	tr.SetFrame(logic.FrameEvent{
		Timestamp: time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Sequence:  7,
		Frame:     f,
	})

	resp, err := http.Get(ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	page := string(body)

	if !strings.Contains(page, "#7 at 2026-01-01T00:01:00Z, 3 bits") {
		t.Error("expected frame header in page")
	}
	if got := strings.Count(page, `class="b1"`); got != 2 {
		t.Errorf("set bits rendered: got %d, want 2", got)
	}
	if got := strings.Count(page, `class="stale"`); got != logic.FrameBits-3 {
		t.Errorf("stale slots rendered: got %d, want %d", got, logic.FrameBits-3)
	}
}

func TestFrameSlots(t *testing.T) {
	var f logic.Frame
	f.Bits[0] = 1
	f.Bits[59] = 1
	f.Count = 1

	slots := frameSlots(f)
	if len(slots) != logic.FrameBits {
		t.Fatalf("len: got %d, want %d", len(slots), logic.FrameBits)
	}
	if !slots[0].Set || !slots[0].One {
		t.Errorf("slot 0: got %+v", slots[0])
	}
	if slots[59].Set {
		t.Error("slot 59 is beyond Count and must not be set")
	}
	if slots[59].Index != 59 {
		t.Errorf("slot 59 index: got %d", slots[59].Index)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, tr := newTestServer(t)
	tr.Update(logic.StateCalibrated, calibratedDiag(), logic.Stats{Frames: 4}, 0)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"dcf77_frames_total 4",
		"dcf77_calibrated 1",
		`dcf77_pulse_width_ms{class="short"} 50`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsDisabledWithoutGatherer(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	srv := New(":0", tr, nil)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestStateChangesReflectedInResponse(t *testing.T) {
	ts, tr := newTestServer(t)

	sj1 := getJSON(t, ts.URL+"/index.json")
	if sj1.Status.Calibrated {
		t.Error("expected Calibrated=false initially")
	}

	tr.Update(logic.StateCalibrated, calibratedDiag(), logic.Stats{}, 0)
	tr.SetCalibrated(time.Date(2026, 1, 1, 0, 0, 30, 0, time.UTC))
	tr.SetMQTTConnected(true)

	sj2 := getJSON(t, ts.URL+"/index.json")
	if !sj2.Status.Calibrated {
		t.Error("expected Calibrated=true after update")
	}
	if sj2.Status.CalibratedAt != "2026-01-01T00:00:30Z" {
		t.Errorf("CalibratedAt: got %q", sj2.Status.CalibratedAt)
	}
	if !sj2.Status.MQTT.Connected {
		t.Error("expected MQTT connected after update")
	}
}

func TestStreamPushesSnapshots(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	srv := New(":0", tr, nil)
	srv.streamInterval = 10 * time.Millisecond
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()
	tr.Update(logic.StateCalibrating, logic.Diagnostics{AvgShort: 95}, logic.Stats{Edges: 2}, 0)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first status.StatusJSON
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read first snapshot: %v", err)
	}
	if first.Status.State != "CALIBRATING" {
		t.Errorf("State: got %q, want CALIBRATING", first.Status.State)
	}
	if first.Status.Pulse.AvgShortMs != 95 {
		t.Errorf("AvgShortMs: got %d, want 95", first.Status.Pulse.AvgShortMs)
	}

	tr.Update(logic.StateCalibrated, calibratedDiag(), logic.Stats{Edges: 30}, 0)

	// Ticks keep coming; wait for one that carries the update.
	for i := 0; i < 100; i++ {
		var next status.StatusJSON
		if err := conn.ReadJSON(&next); err != nil {
			t.Fatalf("read snapshot: %v", err)
		}
		if next.Status.State == "CALIBRATED" {
			if next.Status.Counts.Edges != 30 {
				t.Errorf("Counts.Edges: got %d, want 30", next.Status.Counts.Edges)
			}
			return
		}
	}
	t.Fatal("stream never reported the calibrated state")
}

func TestStreamRejectsPlainHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/ws")
	if err != nil {
		t.Fatalf("GET /ws: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
