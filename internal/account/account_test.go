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

package account

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matta/jobtrail/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeRefresher struct {
	tok   *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.calls++
	return f.tok, f.err
}

func TestConnect(t *testing.T) {
	accounts, first, err := Connect(nil, Profile{Email: "me@x.com", Name: "Me"}, &oauth2.Token{AccessToken: "t1", RefreshToken: "r1"}, testNow)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if first.ID == "" || first.Status != StatusConnected || first.Provider != message.ProviderGmail {
		t.Errorf("Connect() = %+v", first)
	}
	if want := testNow.Add(time.Hour); !first.TokenExpiry.Equal(want) {
		t.Errorf("TokenExpiry = %v, want %v", first.TokenExpiry, want)
	}

	// Reconnecting the same address keeps the id and refresh token.
	first.Status = StatusExpired
	accounts = Replace(accounts, first)
	expiry := testNow.Add(30 * time.Minute)
	accounts, second, err := Connect(accounts, Profile{Email: "ME@x.com"}, &oauth2.Token{AccessToken: "t2", Expiry: expiry}, testNow)
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("len(accounts) = %d, want 1", len(accounts))
	}
	if second.ID != first.ID || second.AccessToken != "t2" || second.RefreshToken != "r1" || second.Status != StatusConnected {
		t.Errorf("reconnect = %+v", second)
	}
	if !second.TokenExpiry.Equal(expiry) {
		t.Errorf("TokenExpiry = %v, want %v", second.TokenExpiry, expiry)
	}

	if _, _, err := Connect(accounts, Profile{Email: "a@b.c"}, &oauth2.Token{}, testNow); err == nil {
		t.Errorf("Connect(no token) succeeded")
	}
	if _, _, err := Connect(accounts, Profile{}, &oauth2.Token{AccessToken: "t"}, testNow); err == nil {
		t.Errorf("Connect(no email) succeeded")
	}
}

func TestBearerToken(t *testing.T) {
	valid := ConnectedAccount{ID: "a", Email: "a@x.com", AccessToken: "live", TokenExpiry: testNow.Add(time.Hour), Status: StatusConnected}
	stale := valid
	stale.TokenExpiry = testNow.Add(30 * time.Second)
	refreshable := stale
	refreshable.RefreshToken = "r"

	cases := []struct {
		name       string
		acct       ConnectedAccount
		refresher  *fakeRefresher
		wantToken  string
		wantStatus Status
		wantErr    error
		wantCalls  int
	}{
		{
			name:       "valid",
			acct:       valid,
			refresher:  &fakeRefresher{},
			wantToken:  "live",
			wantStatus: StatusConnected,
		},
		{
			name:       "expiring without refresh token",
			acct:       stale,
			refresher:  &fakeRefresher{},
			wantStatus: StatusExpired,
			wantErr:    ErrSessionExpired,
		},
		{
			name:       "refreshed",
			acct:       refreshable,
			refresher:  &fakeRefresher{tok: &oauth2.Token{AccessToken: "fresh", Expiry: testNow.Add(time.Hour)}},
			wantToken:  "fresh",
			wantStatus: StatusConnected,
			wantCalls:  1,
		},
		{
			name:       "refresh rejected",
			acct:       refreshable,
			refresher:  &fakeRefresher{err: errors.New("invalid_grant")},
			wantStatus: StatusExpired,
			wantErr:    ErrSessionExpired,
			wantCalls:  1,
		},
		{
			name:       "disconnected",
			acct:       ConnectedAccount{ID: "d", AccessToken: "x", TokenExpiry: testNow.Add(time.Hour), Status: StatusDisconnected},
			refresher:  &fakeRefresher{},
			wantStatus: StatusDisconnected,
			wantErr:    ErrDisconnected,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, acct, err := BearerToken(context.Background(), tc.acct, tc.refresher, testNow)
			if !errors.Is(err, tc.wantErr) || (tc.wantErr == nil && err != nil) {
				t.Errorf("BearerToken() error = %v, want %v", err, tc.wantErr)
			}
			if token != tc.wantToken {
				t.Errorf("BearerToken() token = %q, want %q", token, tc.wantToken)
			}
			if acct.Status != tc.wantStatus {
				t.Errorf("BearerToken() status = %s, want %s", acct.Status, tc.wantStatus)
			}
			if tc.refresher.calls != tc.wantCalls {
				t.Errorf("refresh calls = %d, want %d", tc.refresher.calls, tc.wantCalls)
			}
		})
	}
}

func TestBearerTokenNilRefresher(t *testing.T) {
	acct := ConnectedAccount{ID: "a", AccessToken: "x", RefreshToken: "r", TokenExpiry: testNow.Add(-time.Minute), Status: StatusConnected}
	_, got, err := BearerToken(context.Background(), acct, nil, testNow)
	if !errors.Is(err, ErrSessionExpired) || got.Status != StatusExpired {
		t.Errorf("BearerToken(nil refresher) = %s, %v; want Expired, ErrSessionExpired", got.Status, err)
	}
}

func TestRecordSyncAndFailure(t *testing.T) {
	acct := ConnectedAccount{ID: "a", Status: StatusError, LastError: "boom"}
	acct = RecordSync(acct, testNow)
	if acct.Status != StatusConnected || acct.LastError != "" || acct.LastSyncedAt != "2024-03-10T12:00:00.000Z" {
		t.Errorf("RecordSync() = %+v", acct)
	}
	acct = RecordFailure(acct, StatusError, errors.New("quota"))
	if acct.Status != StatusError || acct.LastError != "quota" || acct.LastSyncedAt == "" {
		t.Errorf("RecordFailure() = %+v", acct)
	}
}

func TestDisconnect(t *testing.T) {
	accounts := []ConnectedAccount{{ID: "a"}, {ID: "b"}}
	msgs := []message.InboundMessage{{ID: "1", AccountID: "a"}, {ID: "2", AccountID: "b"}, {ID: "3", AccountID: "a"}}

	gotAccounts, gotMsgs, err := Disconnect(accounts, msgs, "a")
	if err != nil {
		t.Fatalf("Disconnect() failed: %v", err)
	}
	if diff := cmp.Diff([]ConnectedAccount{{ID: "b"}}, gotAccounts); diff != "" {
		t.Errorf("accounts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]message.InboundMessage{{ID: "2", AccountID: "b"}}, gotMsgs); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	if len(accounts) != 2 || len(msgs) != 3 {
		t.Errorf("Disconnect() modified its inputs")
	}
	if _, _, err := Disconnect(accounts, msgs, "zzz"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("Disconnect(unknown) error = %v, want ErrUnknownAccount", err)
	}
}

func TestExportImportYAML(t *testing.T) {
	accounts := []ConnectedAccount{{
		ID:           "a",
		Provider:     message.ProviderGmail,
		Email:        "me@x.com",
		Name:         "Me",
		AccessToken:  "secret-access",
		RefreshToken: "secret-refresh",
		TokenExpiry:  testNow,
		Status:       StatusConnected,
		LastSyncedAt: "2024-03-10T12:00:00.000Z",
	}}
	data, err := ExportYAML(accounts)
	if err != nil {
		t.Fatalf("ExportYAML() failed: %v", err)
	}
	if strings.Contains(string(data), "secret") {
		t.Errorf("ExportYAML() leaked a token:\n%s", data)
	}

	imported, err := ImportYAML(nil, data)
	if err != nil {
		t.Fatalf("ImportYAML() failed: %v", err)
	}
	want := []ConnectedAccount{{
		ID:           "a",
		Provider:     message.ProviderGmail,
		Email:        "me@x.com",
		Name:         "Me",
		Status:       StatusDisconnected,
		LastSyncedAt: "2024-03-10T12:00:00.000Z",
	}}
	if diff := cmp.Diff(want, imported); diff != "" {
		t.Errorf("ImportYAML() mismatch (-want +got):\n%s", diff)
	}

	// Importing over a live session keeps its tokens.
	merged, err := ImportYAML(accounts, []byte("accounts:\n  - email: ME@x.com\n    name: Renamed\n"))
	if err != nil {
		t.Fatalf("ImportYAML() failed: %v", err)
	}
	if len(merged) != 1 || merged[0].Name != "Renamed" || merged[0].AccessToken != "secret-access" {
		t.Errorf("ImportYAML(existing) = %+v", merged)
	}

	if _, err := ImportYAML(nil, []byte("accounts: [")); err == nil {
		t.Errorf("ImportYAML(garbage) succeeded")
	}
}
