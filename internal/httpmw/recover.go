package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/sms-ratelimiter/internal/log"
	"github.com/keithlinneman/sms-ratelimiter/internal/xerrors"
)

// Recover turns a handler panic into a 500 with the API's generic error body
// and logs it with the stack at the panic site. onPanic may be nil.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func Recover(logger log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				var err error
				if e, ok := rec.(error); ok {
					err = xerrors.Wrap(e, "panic")
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}

				if onPanic != nil {
					onPanic()
				}

				ctx := r.Context()
				logger.With(
					"http.request.method", r.Method,
					"http.route", RoutePattern(r),
					"request_id", RequestIDFromContext(ctx),
				).Error(ctx, xerrors.EnsureTrace(err), "http handler panic recovered",
					"panic_stack", string(debug.Stack()),
				)

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"Internal server error"}`))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
