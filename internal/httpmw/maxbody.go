package httpmw

import "net/http"

// DefaultMaxBody is enough for any request this API accepts. Every endpoint
// takes its input from the path, so bodies are normally empty.
const DefaultMaxBody int64 = 4 << 10

// MaxBody limits request body size. Reads past the limit fail and the server
// answers 413 if the handler surfaces the error. bytes <= 0 uses DefaultMaxBody.
func MaxBody(bytes int64) func(http.Handler) http.Handler {
	if bytes <= 0 {
		bytes = DefaultMaxBody
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > bytes {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = w.Write([]byte(`{"error":"request body too large"}`))
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, bytes)
			next.ServeHTTP(w, r)
		})
	}
}
