// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracehttp dumps HTTP traffic for debugging.  Credentials are
// redacted before anything is printed.
package tracehttp

import (
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
)

const redacted = "REDACTED"

// traceTransport is an http.RoundTripper that logs the request and
// response while delegating the real work to another http.RoundTripper.
type traceTransport struct {
	delegate http.RoundTripper
}

// redact returns a shallow copy of req with the bearer token, API key
// header and key query parameter replaced.
func redact(req *http.Request) *http.Request {
	r := req.Clone(req.Context())
	for _, h := range []string{"Authorization", "X-Goog-Api-Key"} {
		if r.Header.Get(h) != "" {
			r.Header.Set(h, redacted)
		}
	}
	r.URL = redactURL(r.URL)
	return r
}

// RoundTrip logs a dump of the request and response headers.  Bodies
// are left out; they may hold entire mailboxes.
func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if dump, err := httputil.DumpRequestOut(redact(req), false); err == nil {
		log.Printf("http request:\n%s", dump)
	}
	resp, err := t.delegate.RoundTrip(req)
	if err != nil {
		log.Printf("http error: %s %s: %v", req.Method, redactURL(req.URL), err)
		return resp, err
	}
	if dump, err := httputil.DumpResponse(resp, false); err == nil {
		log.Printf("http response:\n%s", dump)
	}
	return resp, nil
}

func redactURL(u *url.URL) *url.URL {
	c := *u
	if q := c.Query(); q.Get("key") != "" {
		q.Set("key", redacted)
		c.RawQuery = q.Encode()
	}
	return &c
}

// Wrap returns a tracing round tripper around d.  A nil d wraps
// http.DefaultTransport.
func Wrap(d http.RoundTripper) http.RoundTripper {
	if d == nil {
		d = http.DefaultTransport
	}
	return &traceTransport{d}
}
