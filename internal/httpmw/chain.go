package httpmw

import "net/http"

// Chain wraps h so that mws[0] is outermost. nil entries are skipped, which
// lets callers switch a middleware off by leaving its slot empty.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
