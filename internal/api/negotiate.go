package api

import (
	"net/http"

	"github.com/munnerz/goautoneg"
)

// MediaTypeHandler serves one representation of a resource.
type MediaTypeHandler struct {
	MediaType string
	Handler   http.HandlerFunc
}

// Negotiate picks the handler whose media type best matches the request's
// Accept header. A missing header or */* selects the first handler. When
// nothing matches the response is 406 Not Acceptable.
func Negotiate(handlers ...MediaTypeHandler) http.HandlerFunc {
	types := make([]string, len(handlers))
	byType := make(map[string]http.HandlerFunc, len(handlers))
	for i, mh := range handlers {
		types[i] = mh.MediaType
		byType[mh.MediaType] = mh.Handler
	}
	return func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if accept == "" {
			handlers[0].Handler(w, r)
			return
		}
		chosen := goautoneg.Negotiate(accept, types)
		if chosen == "" {
			writeError(w, http.StatusNotAcceptable, "no acceptable representation", nil)
			return
		}
		byType[chosen](w, r)
	}
}
