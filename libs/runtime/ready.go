package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 2 * time.Second

// ReadyCheck is a named dependency probe for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// CheckAll runs the probes concurrently and maps each name to "ok" or its error.
// The bool is false when any probe failed.
func CheckAll(ctx context.Context, checks ...ReadyCheck) (map[string]string, bool) {
	results := make([]string, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		if c.Check == nil {
			results[i] = "ok"
			continue
		}
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			if err := c.Check(cctx); err != nil {
				results[i] = err.Error()
				return nil
			}
			results[i] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(checks))
	healthy := true
	for i, c := range checks {
		name := c.Name
		if name == "" {
			name = "dependency"
		}
		out[name] = results[i]
		healthy = healthy && results[i] == "ok"
	}
	return out, healthy
}

// NewBaseMuxWithReady serves /healthz (liveness) and /readyz (dependency checks).
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		results, healthy := CheckAll(r.Context(), checks...)
		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "checks": results})
	})
	return mux
}
