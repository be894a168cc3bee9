package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/Divas-Gupta30/workflow-builder/internal/admission"
	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
	"github.com/Divas-Gupta30/workflow-builder/internal/identity"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
)

type callerKey struct{}

// caller returns the resolved identity of the request, or nil.
func caller(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(callerKey{}).(*identity.Identity)
	return id
}

func callerID(ctx context.Context) string {
	if id := caller(ctx); id != nil {
		return id.ID
	}
	return ""
}

// proxyTrust lists the peers whose forwarding headers are believed.
type proxyTrust []netip.Prefix

func parseTrustedProxies(entries []string) (proxyTrust, error) {
	out := make(proxyTrust, 0, len(entries))
	for _, e := range entries {
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		out = append(out, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	return out, nil
}

func (t proxyTrust) trusts(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range t {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// clientIP returns the remote address host. When that peer is a trusted
// proxy, X-Forwarded-For is walked from the right past trusted hops, then
// X-Real-IP is used.
func (t proxyTrust) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !t.trusts(host) {
		return host
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !t.trusts(hop) {
				return hop
			}
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return host
}

// guard runs the per-route limit on the client address, then resolves the
// optional caller identity and runs the class throttle on it before calling
// h. class is empty for routes that only carry a route limit.
func (s *Server) guard(route string, class admission.Class, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := s.proxies.clientIP(r)
		if s.admission != nil {
			if err := s.admission.AdmitRoute(ip, route); err != nil {
				s.reject(w, r.WithContext(ctx), route, class, ip, err)
				return
			}
		}

		key := ip
		if id := s.resolve(r); id != nil {
			key = "user:" + id.ID
			ctx = logging.WithIdentity(ctx, id.ID)
			ctx = context.WithValue(ctx, callerKey{}, id)
		}
		if s.admission != nil {
			if err := s.admission.AdmitClass(key, route, class); err != nil {
				s.reject(w, r.WithContext(ctx), route, class, key, err)
				return
			}
		}
		h(w, r.WithContext(ctx))
	}
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request, route string, class admission.Class, client string, err error) {
	reason := ""
	var ae *apperr.Error
	if errors.As(err, &ae) {
		reason, _ = ae.Details["reason"].(string)
	}
	label := classLabel(class)
	if reason == admission.ReasonRateLimited {
		label = classLabel("")
	}
	s.logger.WarnContext(r.Context(), "request rejected", "route", route, "client", client, "reason", reason)
	s.metrics.AdmissionRejected(label, reason)
	writeError(w, r, s.logger, err)
}

func (s *Server) resolve(r *http.Request) *identity.Identity {
	if s.identity == nil {
		return nil
	}
	token := identity.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil
	}
	id, err := s.identity.Resolve(r.Context(), token)
	if err != nil {
		s.logger.DebugContext(r.Context(), "credential not resolved, continuing anonymously", "error", err)
		return nil
	}
	return id
}

func classLabel(c admission.Class) string {
	if c == "" {
		return "route"
	}
	return string(c)
}
