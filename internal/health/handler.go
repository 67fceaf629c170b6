package health

import "net/http"

const (
	HealthyPath = "/-/healthy"
	ReadyPath   = "/-/ready"
)

// Handler answers 200 with okBody while p passes and 503 with the failure
// reason otherwise. A nil probe always passes. Probe responses are never
// cached.
func Handler(p Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody + "\n"))
	}
}

// Routes is the pair of probe endpoints mounted on both listeners.
type Routes struct {
	Liveness  Probe
	Readiness Probe
}

// Register mounts the probes on any mux-like router.
func (rt Routes) Register(handle func(pattern string, h http.Handler)) {
	handle(HealthyPath, Handler(rt.Liveness, "ok"))
	handle(ReadyPath, Handler(rt.Readiness, "ready"))
}
