// Package metrics provides a lightweight, Prometheus-compatible collector
// for the relay. It outputs text/plain in Prometheus exposition format
// without pulling in the heavy prometheus/client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide collector.
var Default = NewCollector()

// Collector aggregates named counters and gauges.
type Collector struct {
	counters  sync.Map // name -> *Counter
	gauges    sync.Map // name -> *Gauge
	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns (creating if needed) the counter with the given name.
func (c *Collector) Counter(name, help string) *Counter {
	if v, ok := c.counters.Load(name); ok {
		return v.(*Counter)
	}
	v, _ := c.counters.LoadOrStore(name, &Counter{name: name, help: help})
	return v.(*Counter)
}

// Gauge returns (creating if needed) the gauge with the given name.
func (c *Collector) Gauge(name, help string) *Gauge {
	if v, ok := c.gauges.Load(name); ok {
		return v.(*Gauge)
	}
	v, _ := c.gauges.LoadOrStore(name, &Gauge{name: name, help: help})
	return v.(*Gauge)
}

// Handler serves the collected metrics in Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.render())
	})
}

func (c *Collector) render() string {
	type line struct {
		name, help, kind string
		value            int64
	}
	var lines []line

	c.counters.Range(func(_, v any) bool {
		ct := v.(*Counter)
		lines = append(lines, line{ct.name, ct.help, "counter", ct.Value()})
		return true
	})
	c.gauges.Range(func(_, v any) bool {
		g := v.(*Gauge)
		lines = append(lines, line{g.name, g.help, "gauge", g.Value()})
		return true
	})
	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })

	out := ""
	for _, l := range lines {
		if l.help != "" {
			out += fmt.Sprintf("# HELP %s %s\n", l.name, l.help)
		}
		out += fmt.Sprintf("# TYPE %s %s\n", l.name, l.kind)
		out += fmt.Sprintf("%s %d\n", l.name, l.value)
	}
	out += fmt.Sprintf("# TYPE relaybot_uptime_seconds gauge\nrelaybot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))
	return out
}
