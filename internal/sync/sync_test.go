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

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func msg(id, received string) message.InboundMessage {
	return message.InboundMessage{ID: id, ReceivedAt: received, Subject: "subject " + id}
}

func ids(msgs []message.InboundMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMerge(t *testing.T) {
	existing := []message.InboundMessage{
		msg("b", "2024-03-02T00:00:00.000Z"),
		msg("a", "2024-03-01T00:00:00.000Z"),
	}
	fresh := []message.InboundMessage{
		msg("c", "2024-03-03T00:00:00.000Z"),
		msg("b", "2024-03-02T00:00:00.000Z"),
	}

	got := Merge(existing, fresh)
	if diff := cmp.Diff([]string{"c", "b", "a"}, ids(got)); diff != "" {
		t.Errorf("Merge() order mismatch (-want +got):\n%s", diff)
	}
	if len(existing) != 2 || len(fresh) != 2 {
		t.Errorf("Merge() modified its inputs")
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := []message.InboundMessage{
		msg("x", "2024-01-05T10:00:00.000Z"),
		msg("y", "2024-01-04T10:00:00.000Z"),
	}
	b := []message.InboundMessage{
		msg("z", "2024-01-06T10:00:00.000Z"),
		msg("x", "2024-01-05T10:00:00.000Z"),
		msg("w", "2024-01-01T10:00:00.000Z"),
	}
	once := Merge(a, b)
	twice := Merge(once, b)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("Merge(Merge(a, b), b) != Merge(a, b) (-once +twice):\n%s", diff)
	}
}

func TestMergePrefersExisting(t *testing.T) {
	existing := []message.InboundMessage{{ID: "a", Subject: "old", ReceivedAt: "2024-01-01T00:00:00.000Z", LinkedApplicationID: "app"}}
	fresh := []message.InboundMessage{{ID: "a", Subject: "new", ReceivedAt: "2024-01-01T00:00:00.000Z"}}
	got := Merge(existing, fresh)
	if diff := cmp.Diff(existing, got); diff != "" {
		t.Errorf("Merge() did not keep the existing entry (-want +got):\n%s", diff)
	}
}

func TestMergeDuplicatesWithinFetch(t *testing.T) {
	fresh := []message.InboundMessage{
		{ID: "a", Subject: "first", ReceivedAt: "2024-01-01T00:00:00.000Z"},
		{ID: "a", Subject: "second", ReceivedAt: "2024-01-01T00:00:00.000Z"},
	}
	got := Merge(nil, fresh)
	if len(got) != 1 || got[0].Subject != "first" {
		t.Errorf("Merge(nil, dup) = %+v, want only the first copy", got)
	}
}

// fakeFetcher serves canned results keyed by token.
type fakeFetcher struct {
	results map[string][]message.InboundMessage
	errs    map[string]error
	calls   []string
}

func (f *fakeFetcher) FetchMessages(ctx context.Context, token, accountID string, limit int64, window gmail.Window) ([]message.InboundMessage, error) {
	f.calls = append(f.calls, accountID)
	if err := f.errs[token]; err != nil {
		return nil, err
	}
	var out []message.InboundMessage
	for _, m := range f.results[token] {
		m.AccountID = accountID
		out = append(out, m)
	}
	return out, nil
}

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func connected(id, token string) account.ConnectedAccount {
	return account.ConnectedAccount{
		ID:          id,
		Email:       id + "@example.com",
		AccessToken: token,
		TokenExpiry: testNow.Add(time.Hour),
		Status:      account.StatusConnected,
	}
}

func TestScan(t *testing.T) {
	f := &fakeFetcher{
		results: map[string][]message.InboundMessage{
			"tok-1": {msg("a", "2024-03-09T00:00:00.000Z"), msg("b", "2024-03-08T00:00:00.000Z")},
		},
		errs: map[string]error{
			"tok-2": &gmail.SessionError{Kind: gmail.KindExpired, Code: 401},
			"tok-3": &gmail.SessionError{Kind: gmail.KindNotEnabled, Code: 403},
		},
	}
	expired := connected("four", "tok-4")
	expired.TokenExpiry = testNow.Add(-time.Hour)
	gone := connected("five", "tok-5")
	gone.Status = account.StatusDisconnected

	accounts := []account.ConnectedAccount{connected("one", "tok-1"), connected("two", "tok-2"), connected("three", "tok-3"), expired, gone}
	existing := []message.InboundMessage{msg("b", "2024-03-08T00:00:00.000Z"), msg("old", "2024-02-01T00:00:00.000Z")}

	res := Scan(context.Background(), f, accounts, existing, Options{}, testNow)

	if diff := cmp.Diff([]string{"one", "two", "three"}, f.calls); diff != "" {
		t.Errorf("fetch calls mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "old"}, ids(res.Messages)); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}

	wantStatus := []account.Status{
		account.StatusConnected,
		account.StatusExpired,
		account.StatusError,
		account.StatusExpired,
		account.StatusDisconnected,
	}
	for i, want := range wantStatus {
		if got := res.Accounts[i].Status; got != want {
			t.Errorf("account %s status = %s, want %s", res.Accounts[i].ID, got, want)
		}
	}
	if got := res.Accounts[0].LastSyncedAt; got != "2024-03-10T12:00:00.000Z" {
		t.Errorf("LastSyncedAt = %q", got)
	}
	if res.Accounts[1].LastError == "" {
		t.Errorf("failed account has no LastError")
	}
	if accounts[0].LastSyncedAt != "" || accounts[1].Status != account.StatusConnected {
		t.Errorf("Scan() modified its input accounts")
	}

	if len(res.Reports) != 4 {
		t.Fatalf("len(Reports) = %d, want 4", len(res.Reports))
	}
	if r := res.Reports[0]; r.Fetched != 2 || r.Added != 1 || r.Err != nil {
		t.Errorf("report for one = %+v, want fetched 2, added 1", r)
	}
	if r := res.Reports[1]; !gmail.IsExpired(r.Err) {
		t.Errorf("report for two error = %v, want expired", r.Err)
	}
	if r := res.Reports[2]; !gmail.IsNotEnabled(r.Err) {
		t.Errorf("report for three error = %v, want not enabled", r.Err)
	}
	if r := res.Reports[3]; !errors.Is(r.Err, account.ErrSessionExpired) {
		t.Errorf("report for four error = %v, want ErrSessionExpired", r.Err)
	}
}

func TestScanRescanAddsNothing(t *testing.T) {
	f := &fakeFetcher{results: map[string][]message.InboundMessage{
		"tok": {msg("a", "2024-03-09T00:00:00.000Z"), msg("b", "2024-03-08T00:00:00.000Z")},
	}}
	accounts := []account.ConnectedAccount{connected("one", "tok")}

	first := Scan(context.Background(), f, accounts, nil, Options{}, testNow)
	second := Scan(context.Background(), f, first.Accounts, first.Messages, Options{}, testNow)
	if diff := cmp.Diff(first.Messages, second.Messages); diff != "" {
		t.Errorf("rescan changed messages (-first +second):\n%s", diff)
	}
	if second.Reports[0].Added != 0 {
		t.Errorf("rescan added %d messages", second.Reports[0].Added)
	}
}
