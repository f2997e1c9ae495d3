package main

import (
	"net/http"
	"sync/atomic"
)

// handlerSwapper serves whatever handler was stored last. A config reload that
// toggles the MCP endpoint swaps in a rebuilt root mux without restarting the
// listener.
type handlerSwapper struct {
	current atomic.Pointer[http.Handler]
}

func newHandlerSwapper(h http.Handler) *handlerSwapper {
	s := &handlerSwapper{}
	s.Swap(h)
	return s
}

func (s *handlerSwapper) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	(*s.current.Load()).ServeHTTP(w, r)
}

// Swap installs h for subsequent requests. In-flight requests finish on the
// handler they started with.
func (s *handlerSwapper) Swap(h http.Handler) {
	s.current.Store(&h)
}
