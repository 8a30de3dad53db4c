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

package message

// This file provides the common data objects used by the rest of the
// program.

import (
	"sort"
	"time"
)

// Provider names the system a message was fetched from.
type Provider string

// ProviderGmail is currently the only message source.
const ProviderGmail Provider = "gmail"

// InboundMessage is the canonical form of one fetched email.
type InboundMessage struct {
	// The provider's permanent and unique ID of the message.  Used
	// as the deduplication key within a message collection.
	ID string `json:"id"`

	// The connected account that owns this message.
	AccountID string `json:"accountId"`

	Provider Provider `json:"provider"`

	// Parsed from the From header.  When the header does not have
	// the "Name <addr>" shape both hold the raw header text.
	SenderName  string `json:"senderName"`
	SenderEmail string `json:"senderEmail"`

	Subject string `json:"subject"`

	// Short preview text supplied by the provider.
	Snippet string `json:"snippet"`

	// Decoded body: the HTML part if present, else the plain text
	// part, else the snippet.
	FullBody string `json:"fullBody"`

	// The original provider payload, serialized, for raw viewing.
	RawContent string `json:"rawContent"`

	// RFC 3339 timestamp with millisecond precision, always UTC.
	ReceivedAt string `json:"receivedAt"`

	// Deep link into the provider's web UI.
	Link string `json:"link"`

	IsRead bool `json:"isRead"`

	// Non-owning reference into the application collection.  Empty
	// until explicitly linked.
	LinkedApplicationID string `json:"linkedApplicationId,omitempty"`
}

// TimestampLayout is the layout used for ReceivedAt.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way ReceivedAt stores it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Received parses ReceivedAt.  The zero time is returned for values
// that do not parse, which sorts them last.
func (m *InboundMessage) Received() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.ReceivedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SortNewestFirst orders msgs descending by ReceivedAt.  Messages with
// equal timestamps keep their relative order.
func SortNewestFirst(msgs []InboundMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Received().After(msgs[j].Received())
	})
}

// Find returns the index of the message with the given id, or -1.
func Find(msgs []InboundMessage, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}
