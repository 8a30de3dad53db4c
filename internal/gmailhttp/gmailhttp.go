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

/*
Package gmailhttp builds the HTTP clients used to talk to Google APIs on
behalf of a connected account.

Tokens are obtained by the account session layer (the connect flow or
the refresh flow in internal/account) and handed in as plain bearer
strings.  This package never refreshes tokens itself: a 401 from the API
is surfaced to the caller, which decides whether to refresh or ask the
user to reconnect.
*/
package gmailhttp

import (
	"net/http"

	"golang.org/x/oauth2"
)

// New returns an HTTP client that authorizes every request with the
// given bearer token.  A nil base uses http.DefaultTransport.
func New(token string, base http.RoundTripper) *http.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
	return &http.Client{Transport: &oauth2.Transport{Source: src, Base: base}}
}
