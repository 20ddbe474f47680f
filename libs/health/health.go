package health

import (
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

type Manager struct {
	ready  atomic.Bool
	reason atomic.Value
}

func NewManager(initialReady bool) *Manager {
	m := &Manager{}
	m.ready.Store(initialReady)
	m.reason.Store("")
	return m
}

func (m *Manager) SetReady(ready bool) {
	m.ready.Store(ready)
	if ready {
		m.reason.Store("")
	}
}

// SetNotReady marks the service unready with a reason surfaced on /readyz.
func (m *Manager) SetNotReady(reason string) {
	m.reason.Store(reason)
	m.ready.Store(false)
}

func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

func (m *Manager) Reason() string {
	reason, _ := m.reason.Load().(string)
	return reason
}

func LivenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func ReadinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.IsReady() {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		body := gin.H{"status": "not_ready"}
		if reason := m.Reason(); reason != "" {
			body["reason"] = reason
		}
		c.JSON(http.StatusServiceUnavailable, body)
	}
}
