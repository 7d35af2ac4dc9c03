package opshttp

import (
	"net/http"

	"github.com/keithlinneman/sms-ratelimiter/internal/health"
)

// Options configures the admin listener.
type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
