package serviceability

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// StartServer starts the introspection endpoint for the given manager
// groups on addr (host:port). Two handlers are exposed: "/pools" serves a
// JSON snapshot of every manager and pool, "/metrics" serves a plain text
// exposition of the same values. It returns the bound address (which may
// differ if port 0 was used) and a shutdown function.
func StartServer(addr string, managers ...*Manager) (string, func(ctx context.Context) error, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/pools", func(w http.ResponseWriter, r *http.Request) {
		snaps := make([]ManagerSnapshot, 0, len(managers))
		for _, m := range managers {
			snaps = append(snaps, m.Snapshot())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snaps)
	})

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		// Text format exposition; keep it simple and deterministic.
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for _, m := range managers {
			snap := m.Snapshot()
			mgr := sanitizeMetricToken(snap.Name)
			fmt.Fprintf(w, "heap_manager_collections{manager=%q} %d\n", mgr, snap.Collections)
			fmt.Fprintf(w, "heap_manager_last_reclaimed_bytes{manager=%q} %d\n", mgr, snap.LastReclaimed)

			// Stable order of pools within a manager.
			pools := snap.Pools
			sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
			for _, p := range pools {
				pool := sanitizeMetricToken(p.Name)
				fmt.Fprintf(w, "heap_pool_used_bytes{manager=%q,pool=%q} %d\n", mgr, pool, p.Used)
				fmt.Fprintf(w, "heap_pool_committed_bytes{manager=%q,pool=%q} %d\n", mgr, pool, p.Committed)
				fmt.Fprintf(w, "heap_pool_max_bytes{manager=%q,pool=%q} %d\n", mgr, pool, p.Max)
			}
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}
	bound := ln.Addr().String()
	go func() {
		_ = srv.Serve(ln)
	}()
	stop := func(ctx context.Context) error {
		return srv.Shutdown(ctx)
	}
	return bound, stop, nil
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	return strings.ToLower(string(b))
}
