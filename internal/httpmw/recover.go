package httpmw

import (
	"net/http"

	"github.com/google/cro3-sub001/internal/log"
	"github.com/google/cro3-sub001/internal/xerrors"
)

// Recover converts handler panics into a 500 and logs them with a
// stack. http.ErrAbortHandler passes through untouched; it is the
// sanctioned way to abort a response mid-stream. onPanic, if non-nil,
// is called once per recovered panic (metrics hook).
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
					err = xerrors.WithStack(e)
				} else {
					err = xerrors.Newf("panic: %v", rec)
				}

				if onPanic != nil {
					onPanic()
				}
				logger.Error(r.Context(), err, "httpserver panic recovered",
					"url.path", r.URL.Path,
					"http.request.method", r.Method,
				)

				// headers may already be gone; WriteHeader then just logs
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
