package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/dcf77-sensor/internal/logic"
	"github.com/sweeney/dcf77-sensor/internal/status"
)

// slot is one second of the frame view.
type slot struct {
	Index int
	Bit   uint8
	One   bool
	Set   bool
}

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"bitValue": func(v int8) string {
		if v == logic.Ambiguous {
			return "?"
		}
		return fmt.Sprintf("%d", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>DCF77 Sensor</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.calibrated { color: green; font-weight: bold; }
.calibrating { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.frame { display: grid; grid-template-columns: repeat(15, 1fr); gap: 2px; margin: 1em 0; }
.frame span { text-align: center; padding: 2px 0; background: #eee; }
.frame span.b1 { background: #333; color: #fff; }
.frame span.stale { background: #fafafa; color: #bbb; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>DCF77 Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Decoder</h2>
<table>
<tr><th>State</th><td id="state" class="{{if .Diagnostics.Calibrated}}calibrated{{else}}calibrating{{end}}">{{.State}}</td></tr>
<tr><th>Calibrated at</th><td>{{if .CalibratedAt.IsZero}}-{{else}}{{.CalibratedAt.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
<tr><th>Short / long threshold</th><td id="thresholds">{{.Diagnostics.ShortPulse}}ms / {{.Diagnostics.LongPulse}}ms</td></tr>
<tr><th>Avg short / long</th><td id="averages">{{.Diagnostics.AvgShort}}ms / {{.Diagnostics.AvgLong}}ms</td></tr>
</table>

<h2>Pulse</h2>
<table>
<tr><th>Level</th><td id="level">{{if .Diagnostics.Level}}high{{else}}low{{end}} ({{.Diagnostics.LevelFiltered}}/32)</td></tr>
<tr><th>Last width</th><td id="width">{{.Diagnostics.LastWidthMs}}ms</td></tr>
<tr><th>Bit index</th><td id="bit-index">{{.Diagnostics.BitIndex}}</td></tr>
<tr><th>Last bit</th><td id="bit-value">{{bitValue .Diagnostics.BitValue}}</td></tr>
</table>

<h2>Last Frame</h2>
{{if .LastFrame}}
<p>#{{.LastFrame.Sequence}} at {{.LastFrame.Timestamp.UTC.Format "2006-01-02T15:04:05Z"}}, {{.LastFrame.Frame.Count}} bits{{if not .LastFrame.Frame.Valid}} (invalid){{end}}</p>
<div class="frame">{{range .Slots}}<span class="{{if not .Set}}stale{{else if .One}}b1{{end}}" title="{{.Index}}">{{if .Set}}{{.Bit}}{{else}}-{{end}}</span>{{end}}</div>
{{else}}
<p>No frame yet.</p>
{{end}}

<h2>Counts</h2>
<table>
<tr><th>Edges</th><td>{{.Stats.Edges}}</td></tr>
<tr><th>Minute markers</th><td>{{.Stats.MinuteMarkers}}</td></tr>
<tr><th>Bits</th><td>{{.Stats.Bits}}</td></tr>
<tr><th>Ambiguous pulses</th><td>{{.Stats.AmbiguousPulses}}</td></tr>
<tr><th>Overflow drops</th><td>{{.Stats.OverflowDrops}}</td></tr>
<tr><th>Frames</th><td>{{.Stats.Frames}}</td></tr>
<tr><th>GPIO errors</th><td>{{.GPIOErrors}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>GPIO</th><td>{{.Config.Chip}} line {{.Config.Pin}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollUs}}us</td></tr>
<tr><th>Tolerance</th><td>{{.Config.TolerancePercent}}%</td></tr>
<tr><th>Calibration pulses</th><td>{{.Config.CalibrationPulses}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function text(id, value) {
    var el = document.getElementById(id);
    if (el) { el.textContent = value; }
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");

    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        var p = s.pulse;
        stateEl.textContent = s.state;
        stateEl.className = s.calibrated ? "calibrated" : "calibrating";
        text("thresholds", p.short_pulse_ms + "ms / " + p.long_pulse_ms + "ms");
        text("averages", p.avg_short_ms + "ms / " + p.avg_long_ms + "ms");
        text("level", (p.level ? "high" : "low") + " (" + p.level_filtered + "/32)");
        text("width", p.last_width_ms + "ms");
        text("bit-index", p.bit_index);
        text("bit-value", p.bit_value < 0 ? "?" : p.bit_value);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func frameSlots(f logic.Frame) []slot {
	slots := make([]slot, logic.FrameBits)
	for i := range slots {
		slots[i] = slot{Index: i, Bit: f.Bits[i], One: f.Bits[i] == 1, Set: i < f.Count}
	}
	return slots
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Slots  []slot
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if snap.LastFrame != nil {
		data.Slots = frameSlots(snap.LastFrame.Frame)
	}
	return indexTmpl.Execute(w, data)
}
