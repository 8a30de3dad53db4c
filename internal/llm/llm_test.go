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

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "test-key", Model: "test-model", Endpoint: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func reply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
		},
	})
}

func TestNewWithoutKey(t *testing.T) {
	if _, err := New(Config{APIKey: "  "}); !errors.Is(err, ErrNoCredential) {
		t.Errorf("New(no key) error = %v, want ErrNoCredential", err)
	}
}

func TestGenerateJSON(t *testing.T) {
	var gotReq generateRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/test-model:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if k := r.URL.Query().Get("key"); k != "test-key" {
			t.Errorf("key = %q, want test-key", k)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		reply(w, `{"company":"Acme","tags":["a","b"]}`)
	})

	schema := &Schema{
		Type:       "OBJECT",
		Properties: map[string]*Schema{"company": {Type: "STRING"}},
		Required:   []string{"company"},
	}
	var out struct {
		Company string   `json:"company"`
		Tags    []string `json:"tags"`
	}
	if err := c.GenerateJSON(context.Background(), "extract this", schema, &out); err != nil {
		t.Fatalf("GenerateJSON() failed: %v", err)
	}
	if out.Company != "Acme" || len(out.Tags) != 2 {
		t.Errorf("GenerateJSON() decoded %+v", out)
	}

	if gotReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("responseMimeType = %q", gotReq.GenerationConfig.ResponseMimeType)
	}
	if diff := cmp.Diff(schema, gotReq.GenerationConfig.ResponseSchema); diff != "" {
		t.Errorf("responseSchema mismatch (-want +got):\n%s", diff)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "extract this" {
		t.Errorf("contents = %+v", gotReq.Contents)
	}
}

func TestGenerateJSONErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name: "api error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
			},
			check: func(err error) bool { return strings.Contains(err.Error(), "API error (400): API key not valid") },
		},
		{
			name: "non-JSON error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad gateway", http.StatusBadGateway)
			},
			check: func(err error) bool { return strings.Contains(err.Error(), "API error (502)") },
		},
		{
			name: "no candidates",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"candidates":[]}`))
			},
			check: func(err error) bool { return errors.Is(err, ErrEmptyResponse) },
		},
		{
			name: "text is not JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				reply(w, "Sorry, I can't help with that.")
			},
			check: func(err error) bool { return strings.Contains(err.Error(), "decoding model JSON") },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, tc.handler)
			var out map[string]interface{}
			err := c.GenerateJSON(context.Background(), "p", nil, &out)
			if err == nil || !tc.check(err) {
				t.Errorf("GenerateJSON() error = %v", err)
			}
		})
	}
}

func TestBreakerOpens(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	var out map[string]interface{}
	for i := 0; i < 5; i++ {
		if err := c.GenerateJSON(context.Background(), "p", nil, &out); err == nil {
			t.Fatalf("call %d succeeded against a failing server", i)
		}
	}
	err := c.GenerateJSON(context.Background(), "p", nil, &out)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("sixth call error = %v, want ErrOpenState", err)
	}
	if n := atomic.LoadInt32(&calls); n != 5 {
		t.Errorf("server saw %d calls, want 5", n)
	}
}
