// Package httpapi exposes the tracking service over HTTP with gin.
package httpapi

import (
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"route-eta/internal/clock"
	"route-eta/internal/metrics"
	"route-eta/internal/service"
)

type Options struct {
	// Metrics records per-route request counts and latency; nil disables it.
	Metrics *metrics.Collector
	// RateLimitPerSec caps requests per client address. Zero disables it.
	RateLimitPerSec float64
	Clock           clock.Clock
}

func NewRouter(svc *service.Service, opts Options) *gin.Engine {
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(accessLog(opts.Metrics))
	r.Use(cors())
	if opts.RateLimitPerSec > 0 {
		r.Use(newRateLimiter(opts.RateLimitPerSec, clk).middleware())
	}

	h := &handler{svc: svc}

	r.GET("/", h.index)
	r.GET("/health", h.health)

	r.POST("/set-line", h.setLine)
	r.POST("/telemetry", h.telemetry)
	r.GET("/state", h.state)
	r.GET("/eta", h.estimate)

	r.GET("/routes", h.routes)
	r.GET("/routes/:line/:dir", h.route)
	r.GET("/devices/:id", h.device)

	return r
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>route-eta</title></head>
<body>
<h1>route-eta</h1>
<p>Default route: <code>{{.Default.LineID}} / {{.Default.Direction}}</code>, geofence {{.Radius}} m.</p>
<h2>Lines</h2>
<ul>
{{- range .Lines}}
<li><code>{{.ID}}</code>: {{range $i, $d := .Directions}}{{if $i}}, {{end}}<code>{{$d}}</code>{{end}}</li>
{{- end}}
</ul>
<h2>Endpoints</h2>
<ul>
<li><code>POST /set-line</code> {"deviceId","lineId","dir"}</li>
<li><code>POST /telemetry</code> {"deviceId","lat","lon","lineId?","dir?","ts?"}</li>
<li><code>GET /state</code></li>
<li><code>GET /eta?line=&amp;dir=&amp;from=&amp;to=</code></li>
<li><code>GET /routes</code>, <code>GET /routes/:line/:dir</code></li>
<li><code>GET /devices/:id</code></li>
<li><code>GET /health</code></li>
</ul>
</body>
</html>
`))

func (h *handler) index(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	err := indexTmpl.Execute(c.Writer, gin.H{
		"Default": h.svc.DefaultRoute(),
		"Radius":  h.svc.GeofenceRadius(),
		"Lines":   h.svc.Lines(),
	})
	if err != nil {
		_ = c.Error(err)
	}
}
