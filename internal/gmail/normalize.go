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
	"encoding/base64"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/matta/jobtrail/internal/message"

	"github.com/pkg/errors"
	gmail_api "google.golang.org/api/gmail/v1"
)

const (
	labelUnread = "UNREAD"

	// NoSubject replaces a missing or empty Subject header.
	NoSubject = "(No Subject)"

	webLinkPrefix = "https://mail.google.com/mail/u/0/#inbox/"
)

var senderRE = regexp.MustCompile(`^(.*)<([^<>]+)>\s*$`)

// WebLink returns the Gmail web UI URL for a message id.
func WebLink(id string) string {
	return webLinkPrefix + id
}

// Normalize converts a Gmail API message fetched with format "full" into
// an InboundMessage owned by accountID.  It returns nil, after logging,
// when the payload is structurally unusable; callers drop such messages.
func Normalize(msg *gmail_api.Message, accountID string) *message.InboundMessage {
	m, err := normalize(msg, accountID)
	if err != nil {
		id := ""
		if msg != nil {
			id = msg.Id
		}
		log.Printf("dropping Gmail message %q: %v", id, err)
		return nil
	}
	return m
}

func normalize(msg *gmail_api.Message, accountID string) (*message.InboundMessage, error) {
	if msg == nil {
		return nil, errors.New("nil message")
	}
	if msg.Id == "" {
		return nil, errors.New("message has no id")
	}
	if msg.Payload == nil {
		return nil, errors.New("message has no payload")
	}
	if msg.InternalDate <= 0 {
		return nil, errors.Errorf("invalid internalDate %d", msg.InternalDate)
	}

	body, err := selectBody(msg.Payload, msg.Snippet)
	if err != nil {
		return nil, err
	}

	raw, err := msg.MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "serializing raw payload")
	}

	name, email := ParseSender(header(msg.Payload.Headers, "From"))
	subject := header(msg.Payload.Headers, "Subject")
	if strings.TrimSpace(subject) == "" {
		subject = NoSubject
	}

	return &message.InboundMessage{
		ID:          msg.Id,
		AccountID:   accountID,
		Provider:    message.ProviderGmail,
		SenderName:  name,
		SenderEmail: email,
		Subject:     subject,
		Snippet:     msg.Snippet,
		FullBody:    body,
		RawContent:  string(raw),
		ReceivedAt:  message.FormatTimestamp(time.UnixMilli(msg.InternalDate)),
		Link:        WebLink(msg.Id),
		IsRead:      !hasLabel(msg.LabelIds, labelUnread),
	}, nil
}

// header returns the first header named name, compared without regard
// to case.
func header(headers []*gmail_api.MessagePartHeader, name string) string {
	for _, h := range headers {
		if h != nil && strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

// ParseSender splits a From header of the form `Name <addr>`.  A value
// without angle brackets is returned verbatim as both name and address.
// An empty display name falls back to the address.
func ParseSender(raw string) (name, email string) {
	m := senderRE.FindStringSubmatch(raw)
	if m == nil {
		return raw, raw
	}
	email = strings.TrimSpace(m[2])
	name = strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), `"'`))
	if name == "" {
		name = email
	}
	return name, email
}

// selectBody prefers a text/html part anywhere in the tree, then
// text/plain, then the snippet.
func selectBody(root *gmail_api.MessagePart, snippet string) (string, error) {
	for _, mimeType := range []string{"text/html", "text/plain"} {
		part := findPart(root, mimeType)
		if part == nil {
			continue
		}
		data, err := decodeBase64URL(part.Body.Data)
		if err != nil {
			return "", errors.Wrapf(err, "decoding %s part %q", mimeType, part.PartId)
		}
		return string(data), nil
	}
	return snippet, nil
}

// findPart walks the part tree depth first, in document order, and
// returns the first part of the given MIME type that carries body data.
func findPart(root *gmail_api.MessagePart, mimeType string) *gmail_api.MessagePart {
	stack := []*gmail_api.MessagePart{root}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p == nil {
			continue
		}
		if strings.EqualFold(p.MimeType, mimeType) && p.Body != nil && p.Body.Data != "" {
			return p
		}
		// Push children in reverse so the first child is visited next.
		for i := len(p.Parts) - 1; i >= 0; i-- {
			stack = append(stack, p.Parts[i])
		}
	}
	return nil
}

// decodeBase64URL decodes the URL-safe alphabet Gmail uses for body
// data, with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	return base64.RawURLEncoding.DecodeString(s)
}
