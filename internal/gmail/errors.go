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

package gmail

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
)

// Kind classifies a failed session with the mailbox provider.
type Kind int

const (
	// KindGeneric is any listing failure not covered below.
	KindGeneric Kind = iota
	// KindExpired means the bearer token was rejected (HTTP 401).
	KindExpired
	// KindInsufficientScope means the token lacks the mail scopes
	// (HTTP 403).
	KindInsufficientScope
	// KindNotEnabled means the Gmail API is disabled for the OAuth
	// client's project (HTTP 403).
	KindNotEnabled
)

func (k Kind) String() string {
	switch k {
	case KindExpired:
		return "expired"
	case KindInsufficientScope:
		return "insufficient-scope"
	case KindNotEnabled:
		return "not-enabled"
	}
	return "generic"
}

// SessionError is returned when the listing call fails.  Callers use
// Kind to decide whether to prompt the user to reconnect.
type SessionError struct {
	Kind    Kind
	Code    int
	Message string
}

func (e *SessionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gmail session error (%s, HTTP %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("gmail session error (%s): %s", e.Kind, e.Message)
}

func kindOf(err error) (Kind, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return KindGeneric, false
}

// IsExpired reports whether err (or any error in its chain) is an
// expired-token SessionError.
func IsExpired(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindExpired
}

// IsInsufficientScope reports whether err carries a missing-consent
// SessionError.
func IsInsufficientScope(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindInsufficientScope
}

// IsNotEnabled reports whether err carries an API-disabled SessionError.
func IsNotEnabled(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotEnabled
}

var (
	scopeMarkers      = []string{"scope", "permission", "insufficientpermissions"}
	notEnabledMarkers = []string{"not enabled", "has not been used", "is disabled", "accessnotconfigured", "service_disabled"}
)

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// classifyListError maps a failed messages.list call to a SessionError.
// Transport failures that never produced an HTTP response are wrapped
// and returned as is.
func classifyListError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return errors.Wrap(err, "unable to list Gmail messages")
	}

	text := strings.ToLower(gerr.Message)
	for _, item := range gerr.Errors {
		text += " " + strings.ToLower(item.Reason) + " " + strings.ToLower(item.Message)
	}

	switch {
	case gerr.Code == http.StatusUnauthorized:
		return &SessionError{Kind: KindExpired, Code: gerr.Code,
			Message: "the access token has expired or was revoked; reconnect the account"}
	case gerr.Code == http.StatusForbidden && containsAny(text, notEnabledMarkers):
		return &SessionError{Kind: KindNotEnabled, Code: gerr.Code,
			Message: "the Gmail API is not enabled for this OAuth client's project; enable it in the cloud console"}
	case gerr.Code == http.StatusForbidden && containsAny(text, scopeMarkers):
		return &SessionError{Kind: KindInsufficientScope, Code: gerr.Code,
			Message: "mail read permission was not granted; reconnect and allow Gmail access"}
	}
	msg := gerr.Message
	if msg == "" {
		msg = http.StatusText(gerr.Code)
	}
	return &SessionError{Kind: KindGeneric, Code: gerr.Code, Message: msg}
}
