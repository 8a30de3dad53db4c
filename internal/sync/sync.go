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

// Package sync runs a scan cycle: for every connected account it
// obtains a bearer token, fetches recruiting mail, and merges the result
// into the local message collection.
package sync

import (
	"context"
	"log"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/message"

	"github.com/pkg/errors"
)

// MessageFetcher retrieves normalized messages for one account.
// *gmail.Service satisfies it.
type MessageFetcher interface {
	FetchMessages(ctx context.Context, token, accountID string, limit int64, window gmail.Window) ([]message.InboundMessage, error)
}

// Options control a scan.
type Options struct {
	Limit     int64
	Window    gmail.Window
	Refresher account.Refresher
}

// Report describes the outcome of scanning one account.
type Report struct {
	AccountID string
	Email     string
	Fetched   int
	Added     int
	Err       error
}

// Result is the new state after a scan.
type Result struct {
	Accounts []account.ConnectedAccount
	Messages []message.InboundMessage
	Reports  []Report
}

// Scan fetches and merges messages for every account that is not
// disconnected.  A failing account is recorded in its report and on the
// account itself; the remaining accounts are still scanned.  Accounts
// are processed one at a time, so callers must not run two scans over
// the same collections concurrently.
func Scan(ctx context.Context, f MessageFetcher, accounts []account.ConnectedAccount, msgs []message.InboundMessage, opts Options, now time.Time) Result {
	if opts.Limit <= 0 {
		opts.Limit = gmail.DefaultLimit
	}
	if opts.Window == "" {
		opts.Window = gmail.DefaultWindow
	}

	res := Result{
		Accounts: append([]account.ConnectedAccount(nil), accounts...),
		Messages: msgs,
	}
	for i, acct := range res.Accounts {
		if acct.Status == account.StatusDisconnected {
			continue
		}
		rep := Report{AccountID: acct.ID, Email: acct.Email}

		token, updated, err := account.BearerToken(ctx, acct, opts.Refresher, now)
		res.Accounts[i] = updated
		if err != nil {
			log.Printf("scan %s: %v", acct.Email, err)
			rep.Err = err
			res.Reports = append(res.Reports, rep)
			continue
		}

		fetched, err := f.FetchMessages(ctx, token, acct.ID, opts.Limit, opts.Window)
		if err != nil {
			err = errors.Wrapf(err, "scan %s", acct.Email)
			log.Print(err)
			res.Accounts[i] = account.RecordFailure(updated, failureStatus(err), err)
			rep.Err = err
			res.Reports = append(res.Reports, rep)
			continue
		}

		before := len(res.Messages)
		res.Messages = Merge(res.Messages, fetched)
		rep.Fetched = len(fetched)
		rep.Added = len(res.Messages) - before
		res.Accounts[i] = account.RecordSync(updated, now)
		log.Printf("scan %s: fetched %d, added %d", acct.Email, rep.Fetched, rep.Added)
		res.Reports = append(res.Reports, rep)
	}
	return res
}

func failureStatus(err error) account.Status {
	if gmail.IsExpired(err) {
		return account.StatusExpired
	}
	return account.StatusError
}
