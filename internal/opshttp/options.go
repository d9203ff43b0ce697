package opshttp

import (
	"net/http"

	"github.com/google/cro3-sub001/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
}
