package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/evencrop/brain/internal/status"
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
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s string) string {
		switch s {
		case "ACTIVE":
			return "on"
		case "IDLE", "":
			return "off"
		default:
			return "unknown"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Even-Crop Brain</title>
<style>
body { font-family: monospace; max-width: 700px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.tramlined { color: #b22; }
form { display: inline; }
button { font-family: monospace; }
</style>
</head>
<body>
<h1>Even-Crop Brain</h1>

<h2>Plan</h2>
<table>
<tr><th>Group B delay</th><td>{{.DelayMs}}ms</td></tr>
<tr><th>Pattern</th><td>{{orUnknown .Pattern}}</td></tr>
<tr><th>Target</th><td>{{.TargetMl}}ml</td></tr>
<tr><th>Delivery mode</th><td>{{orUnknown .DeliveryMode}}</td></tr>
</table>

<h2>Units</h2>
<table>
<tr><th>Unit</th><th>State</th><th>Last outcome</th><th>Delivered</th><th>Tramline</th></tr>
{{range .Units}}
<tr>
<td>{{.ID}}</td>
<td class="{{stateClass .State}}">{{orUnknown .State}}</td>
<td>{{.LastOutcome}}</td>
<td>{{.DeliveredMl}}ml</td>
<td>{{if .Tramlined}}<span class="tramlined">off</span>
<form method="post" action="/tramline"><input type="hidden" name="unit" value="{{.ID}}"><input type="hidden" name="off" value="false"><button>restore</button></form>
{{else}}on
<form method="post" action="/tramline"><input type="hidden" name="unit" value="{{.ID}}"><input type="hidden" name="off" value="true"><button>suppress</button></form>
{{end}}</td>
</tr>
{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Presses</th><td>{{.Counts.Presses}}</td></tr>
<tr><th>Cycles</th><td>{{.Counts.Cycles}}</td></tr>
<tr><th>Conflicts</th><td>{{.Counts.Conflicts}}</td></tr>
<tr><th>Faults</th><td>{{.Counts.Faults}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Delay tick</th><td>{{.Config.DelayTickMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

type unitRow struct {
	ID int
	status.UnitStatus
}

func renderHTML(w io.Writer, snap status.Snapshot) {
	units := make([]unitRow, 0, len(snap.Units))
	for id, u := range snap.Units {
		units = append(units, unitRow{ID: id, UnitStatus: u})
	}
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })

	data := struct {
		status.Snapshot
		Units  []unitRow
		Uptime time.Duration
	}{
		Snapshot: snap,
		Units:    units,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
