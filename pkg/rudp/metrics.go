package rudp

import (
	"io"
	"sync"

	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics holds one Server's counters. newServerMetrics creates every
// counter up front, in a sync.Once-guarded init: it means metrics still
// appear in the exported output at zero instead of being undefined, and
// callers never have to nil-check.
type serverMetrics struct {
	initOnce sync.Once
	set      *metrics.Set

	sessionsAccepted   *metrics.Counter
	heartbeatEvictions *metrics.Counter
	malformed          *metrics.Counter
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{}
	m.init()
	return m
}

func (m *serverMetrics) init() {
	m.initOnce.Do(func() {
		m.set = metrics.NewSet()
		m.sessionsAccepted = m.set.NewCounter(`rudp_server_sessions_accepted_total`)
		m.heartbeatEvictions = m.set.NewCounter(`rudp_server_heartbeat_evictions_total`)
		m.malformed = m.set.NewCounter(`rudp_server_malformed_envelopes_total`)
	})
}

// WritePrometheus writes this server's metrics in Prometheus text exposition
// format.
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
