package cachecore

import (
	"bytes"
	"net/http"
)

// sinkState tracks where a response sink is in its lifecycle: a handler
// starts Idle, moves to Started on its first header write (explicit or
// implicit), Streaming on its first body write, and Complete once the
// handler returns.
type sinkState int

const (
	stateIdle sinkState = iota
	stateStarted
	stateStreaming
	stateComplete
)

// responseSink is the http.ResponseWriter handed to the wrapped handler
// in place of the real one. It buffers the full body in memory instead
// of streaming it, so the middleware can compute an ETag over the
// complete bytes before anything reaches the client.
type responseSink struct {
	header     http.Header
	statusCode int
	body       bytes.Buffer
	state      sinkState
}

func newResponseSink() *responseSink {
	return &responseSink{
		header:     make(http.Header),
		statusCode: http.StatusOK,
		state:      stateIdle,
	}
}

func (s *responseSink) Header() http.Header {
	return s.header
}

func (s *responseSink) WriteHeader(statusCode int) {
	if s.state != stateIdle {
		return
	}
	s.statusCode = statusCode
	s.state = stateStarted
}

func (s *responseSink) Write(p []byte) (int, error) {
	if s.state == stateIdle {
		s.state = stateStarted
	}
	s.state = stateStreaming
	return s.body.Write(p)
}

// finish transitions the sink to Complete. A handler that never wrote
// anything still produces a valid 200 empty response, matching
// net/http's own implicit-200 behavior.
func (s *responseSink) finish() {
	if s.state == stateIdle {
		s.state = stateStarted
	}
	s.state = stateComplete
}
