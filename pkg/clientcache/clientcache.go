// Package clientcache implements the client-side caching session used
// by the BFF to fan out to upstream services (component D): it
// remembers ETags per upstream URL, adds If-None-Match on the way out,
// substitutes the last cached body on 304, injects ambient context
// headers on every outbound call, and follows the 303-see-other
// redirect contract upstream writes use.
//
// Design Notes:
//   - bff builds a single Session at startup and uses it for every
//     inbound request. Sessions are not created per request, not stored
//     in pkg/reqcontext and not closed when a request ends; ambient
//     headers for each outbound call are read from that call's ctx, and
//     the mutex-guarded MapCache is shared by all requests.
//   - Non-2xx upstream responses surface as *UpstreamError rather than
//     a generic error, so edge middleware can translate status and
//     reason into the BFF's JSON error envelope without re-parsing
//     anything.
package clientcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"encore.app/pkg/reqcontext"
)

// UpstreamError reports a non-2xx response from an upstream call.
type UpstreamError struct {
	Status int
	Reason string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("clientcache: upstream returned %d %s", e.Status, e.Reason)
}

// Response is the caller-visible result of a Session call: either the
// live upstream response, or a 304 substituted wholesale from cache.
type Response struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ResolvedURL string // final URL after redirect-following, e.g. a 303's target
}

// Session wraps an *http.Client with ETag memory for GET requests. The
// zero value is not usable; construct with NewSession.
type Session struct {
	client *http.Client
	cache  Cache
}

// NewSession builds a session backed by client (its Transport and
// Timeout are respected as given) and cache for ETag storage. A fresh
// Cache per session keeps ETags private to one inbound request; a
// shared Cache may be passed to reuse entries across requests to the
// same upstream host.
func NewSession(client *http.Client, cache Cache) *Session {
	s := &Session{client: client, cache: cache}
	s.client.CheckRedirect = carryAmbientHeadersOnRedirect
	return s
}

// carryAmbientHeadersOnRedirect re-applies the headers of the original
// request to every redirect hop. net/http already forwards most
// headers across same-host redirects, but this makes the "clients
// follow transparently" requirement explicit rather than incidental.
func carryAmbientHeadersOnRedirect(req *http.Request, via []*http.Request) error {
	if len(via) == 0 {
		return nil
	}
	for name, values := range via[0].Header {
		if _, ok := req.Header[name]; ok {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	return nil
}

// Get performs a conditional GET against url. If the session has a
// cached entry for url, If-None-Match is set from it; a 304 response
// is substituted with the cached status/headers/body rather than
// surfaced to the caller. A 200 response with an ETag header is
// recorded for future calls.
func (s *Session) Get(ctx context.Context, url string) (*Response, error) {
	return s.do(ctx, http.MethodGet, url, nil)
}

// Do performs method against url with an optional body. Writes
// (POST/PUT/PATCH/DELETE) are not cached directly, but a 303 redirect
// to a read URL is followed transparently and, since the final hop is
// a GET, participates in ETag caching exactly as Get does.
func (s *Session) Do(ctx context.Context, method, url string, body io.Reader) (*Response, error) {
	return s.do(ctx, method, url, body)
}

func (s *Session) do(ctx context.Context, method, url string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for field, value := range reqcontext.All(ctx) {
		req.Header.Set(field, value)
	}

	var cached CachedEntry
	hasCached := false
	if method == http.MethodGet {
		if entry, ok := s.cache.Get(url); ok {
			cached = entry
			hasCached = true
			req.Header.Set("If-None-Match", entry.ETag)
		}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	finalURL := url
	if resp.Request != nil {
		finalURL = resp.Request.URL.String()
	}

	if hasCached && resp.StatusCode == http.StatusNotModified {
		return &Response{StatusCode: http.StatusOK, Header: cached.Header, Body: cached.Body, ResolvedURL: finalURL}, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{Status: resp.StatusCode, Reason: reasonPhrase(resp)}
	}

	finalMethod := method
	if resp.Request != nil {
		finalMethod = resp.Request.Method
	}
	if finalMethod == http.MethodGet && resp.StatusCode == http.StatusOK {
		if etag := resp.Header.Get("ETag"); etag != "" {
			s.cache.Put(finalURL, CachedEntry{ETag: etag, Header: resp.Header.Clone(), Body: data})
		}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data, ResolvedURL: finalURL}, nil
}

func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode)
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, prefix))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	return reason
}
