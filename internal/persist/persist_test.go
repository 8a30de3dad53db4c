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

package persist

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/message"
	"github.com/matta/jobtrail/internal/tracker"

	"github.com/google/go-cmp/cmp"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), "file::memory:")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDsnFromPath(t *testing.T) {
	cases := []struct {
		path   string
		values url.Values
		want   string
	}{
		{"/tmp/x.db", nil, "file:///tmp/x.db"},
		{"/tmp/x.db", url.Values{"_busy_timeout": {"10"}}, "file:///tmp/x.db?_busy_timeout=10"},
		{"file::memory:", url.Values{"_busy_timeout": {"10"}}, "file::memory:?_busy_timeout=10"},
		{"file:test.db?cache=shared", url.Values{"mode": {"rw"}}, "file:test.db?cache=shared&mode=rw"},
	}
	for _, tc := range cases {
		got, err := dsnFromPath(tc.path, tc.values)
		if err != nil {
			t.Errorf("dsnFromPath(%q) failed: %v", tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("dsnFromPath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeReal, "real": ModeReal, " MOCK ": ModeMock} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("demo"); err == nil {
		t.Errorf("ParseMode(demo) succeeded")
	}
}

func TestLoadEmpty(t *testing.T) {
	db := openTestDB(t)
	st, err := db.Load(context.Background(), ModeReal)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(st.Applications) != 0 || len(st.Messages) != 0 || len(st.Accounts) != 0 {
		t.Errorf("Load() of an empty database = %+v", st)
	}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	realState := &State{
		Applications: []tracker.JobApplication{{
			ID:          "app-1",
			CompanyName: "Acme",
			RoleTitle:   "SRE",
			Status:      tracker.StatusOnsite,
			Notes:       []tracker.Note{{ID: "n1", Text: "Prep", CreatedAt: "2024-03-01T00:00:00.000Z"}},
			DateApplied: "2024-02-01T00:00:00.000Z",
			Recruiter:   &tracker.Recruiter{Name: "Jane", Email: "jane@x.com"},
			Skills:      []string{"Go"},
		}},
		Messages: []message.InboundMessage{{
			ID:                  "m1",
			AccountID:           "acct-1",
			Provider:            message.ProviderGmail,
			Subject:             "Interview",
			ReceivedAt:          "2024-03-01T00:00:00.000Z",
			LinkedApplicationID: "app-1",
		}},
		Accounts: []account.ConnectedAccount{{
			ID:          "acct-1",
			Email:       "me@x.com",
			AccessToken: "tok",
			TokenExpiry: time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC),
			Status:      account.StatusConnected,
		}},
	}
	mock := &State{
		Messages: []message.InboundMessage{{ID: "demo", AccountID: "demo-acct"}},
	}

	if err := db.Save(ctx, ModeReal, realState); err != nil {
		t.Fatalf("Save(real) failed: %v", err)
	}
	if err := db.Save(ctx, ModeMock, mock); err != nil {
		t.Fatalf("Save(mock) failed: %v", err)
	}

	got, err := db.Load(ctx, ModeReal)
	if err != nil {
		t.Fatalf("Load(real) failed: %v", err)
	}
	if diff := cmp.Diff(realState, got); diff != "" {
		t.Errorf("Load(real) mismatch (-want +got):\n%s", diff)
	}

	gotMock, err := db.Load(ctx, ModeMock)
	if err != nil {
		t.Fatalf("Load(mock) failed: %v", err)
	}
	wantMock := &State{
		Applications: []tracker.JobApplication{},
		Messages:     mock.Messages,
		Accounts:     []account.ConnectedAccount{},
	}
	if diff := cmp.Diff(wantMock, gotMock); diff != "" {
		t.Errorf("Load(mock) mismatch (-want +got):\n%s", diff)
	}

	// Overwrite replaces the collection.
	realState.Messages = nil
	if err := db.Save(ctx, ModeReal, realState); err != nil {
		t.Fatalf("Save(real) failed: %v", err)
	}
	got, err = db.Load(ctx, ModeReal)
	if err != nil {
		t.Fatalf("Load(real) failed: %v", err)
	}
	if len(got.Messages) != 0 || len(got.Applications) != 1 {
		t.Errorf("after overwrite Load(real) = %+v", got)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.Begin(ctx, ModeReal)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	if err := tx.SaveMessages(ctx, []message.InboundMessage{{ID: "m1"}}); err != nil {
		t.Fatalf("SaveMessages() failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}

	st, err := db.Load(ctx, ModeReal)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(st.Messages) != 0 {
		t.Errorf("rolled back write is visible: %+v", st.Messages)
	}
}
