package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/basic-switch/internal/logic"
	"github.com/sweeney/basic-switch/internal/status"
)

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
	"onOff": logic.StateString,
	"modeOrUnknown": func(m logic.Mode) string {
		if m == "" {
			return "UNKNOWN"
		}
		return string(m)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Basic Switch {{.Device}}</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.configuring { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Basic Switch {{.Device}}</h1>

<h2>State</h2>
<table>
<tr><th>Mode</th><td id="mode" class="{{if eq (modeOrUnknown .State.Mode) "CONFIGURING"}}configuring{{end}}">{{modeOrUnknown .State.Mode}}</td></tr>
<tr><th>Relay</th><td id="relay" class="{{if .State.Relay.On}}on{{else}}off{{end}}">{{onOff .State.Relay.On}}</td></tr>
{{if not .State.Relay.Changed.IsZero}}<tr><th>Last change</th><td>{{.State.Relay.Changed.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
<tr><th>Presses</th><td>{{.State.Window.State}} {{.State.Window.Count}}/{{.Config.PressThreshold}}</td></tr>
</table>

{{with .State.Session}}
<h2>Configuration</h2>
<table>
<tr><th>Session</th><td>{{.ID}}</td></tr>
<tr><th>SSID</th><td>{{.SSID}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Remaining</th><td>{{uptime $.Remaining}}</td></tr>
<tr><th>Portal</th><td>{{$.Config.PortalAddr}}</td></tr>
</table>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Broker}}{{.Broker}}{{else}}unprovisioned{{end}}</td></tr>
<tr><th>Buffered</th><td>{{.Buffered}}</td></tr>
<tr><th>Dropped</th><td>{{.Dropped}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Presses</th><td>{{.Counts.Presses}}</td></tr>
<tr><th>Relay ON</th><td>{{.Counts.RelayOn}}</td></tr>
<tr><th>Relay OFF</th><td>{{.Counts.RelayOff}}</td></tr>
<tr><th>Commands</th><td>{{.Counts.Commands}} ({{.Counts.Ignored}} ignored, {{.Counts.Suspended}} suspended)</td></tr>
<tr><th>Deferred publishes</th><td>{{.Counts.Deferred}}</td></tr>
<tr><th>Config sessions</th><td>{{.Counts.Sessions}}</td></tr>
<tr><th>Provisions</th><td>{{.Counts.Provisions}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Press timeout</th><td>{{.Config.PressTimeoutMs}}ms</td></tr>
<tr><th>Publish spacing</th><td>{{.Config.PublishSpacingMs}}ms</td></tr>
<tr><th>Capability</th><td>{{.Config.Capability}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.StatusAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
