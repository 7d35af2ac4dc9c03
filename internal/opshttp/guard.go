package opshttp

import (
	"net"
	"net/http"
	"net/http/pprof"
	"net/netip"

	"github.com/keithlinneman/sms-ratelimiter/internal/log"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// RegisterPprof mounts the net/http/pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

// requireNonPublicNetwork rejects peers that are not loopback, private or
// link-local with 403. Metrics and pprof stay reachable from inside the VPC only.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := peerAddr(r.RemoteAddr)
		if err != nil || !(addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()) {
			if err == nil {
				err = xerrors.Newf("public peer %s", addr)
			}
			L.Warn(r.Context(), "rejected admin request from non-private network",
				"network.peer.address", r.RemoteAddr,
				"reason", err.Error(),
			)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func peerAddr(remote string) (netip.Addr, error) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return netip.Addr{}, xerrors.Wrapf(err, "split remote addr %q", remote)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, xerrors.Wrapf(err, "parse remote addr %q", host)
	}
	return addr.Unmap(), nil
}
