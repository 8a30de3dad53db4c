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

// Package account manages connected mailbox sessions: creation on
// login, bearer token hand-out and refresh, sync bookkeeping, and
// disconnection.
package account

import (
	"context"
	"strings"
	"time"

	"github.com/matta/jobtrail/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail_api "google.golang.org/api/gmail/v1"
	"gopkg.in/yaml.v3"
)

// Status is the sync state of a connected account.
type Status string

const (
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
	StatusError        Status = "Error"
	StatusExpired      Status = "Expired"
)

const (
	// Google access tokens live an hour; used when the token
	// response carries no expiry.
	defaultTokenLifetime = time.Hour

	// Tokens this close to expiry are treated as expired.
	expirySkew = time.Minute
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrSessionExpired = errors.New("session expired; reconnect the account")
	ErrDisconnected   = errors.New("account is disconnected")
)

// ConnectedAccount is an authenticated mailbox session.
type ConnectedAccount struct {
	ID       string           `json:"id" yaml:"id"`
	Provider message.Provider `json:"provider" yaml:"provider"`
	Email    string           `json:"email" yaml:"email"`
	Name     string           `json:"name,omitempty" yaml:"name,omitempty"`
	Picture  string           `json:"picture,omitempty" yaml:"picture,omitempty"`

	AccessToken  string    `json:"accessToken" yaml:"-"`
	RefreshToken string    `json:"refreshToken,omitempty" yaml:"-"`
	TokenExpiry  time.Time `json:"tokenExpiry" yaml:"-"`

	Status       Status `json:"status" yaml:"status"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty" yaml:"last_synced_at,omitempty"`
	LastError    string `json:"lastError,omitempty" yaml:"-"`
}

// Profile is the identity returned by the login flow.
type Profile struct {
	Email   string
	Name    string
	Picture string
}

// Find returns the index of the account with id, or -1.
func Find(accounts []ConnectedAccount, id string) int {
	for i := range accounts {
		if accounts[i].ID == id {
			return i
		}
	}
	return -1
}

func findEmail(accounts []ConnectedAccount, email string) int {
	for i := range accounts {
		if strings.EqualFold(accounts[i].Email, email) {
			return i
		}
	}
	return -1
}

// Replace stores acct over the account with the same id, appending it
// when absent.
func Replace(accounts []ConnectedAccount, acct ConnectedAccount) []ConnectedAccount {
	out := append([]ConnectedAccount(nil), accounts...)
	if i := Find(out, acct.ID); i >= 0 {
		out[i] = acct
		return out
	}
	return append(out, acct)
}

// Connect records a successful login.  Logging in again with an address
// that is already connected refreshes that account in place, keeping
// its id and therefore its messages.
func Connect(accounts []ConnectedAccount, p Profile, tok *oauth2.Token, now time.Time) ([]ConnectedAccount, ConnectedAccount, error) {
	if tok == nil || tok.AccessToken == "" {
		return accounts, ConnectedAccount{}, errors.New("connect: no access token")
	}
	if strings.TrimSpace(p.Email) == "" {
		return accounts, ConnectedAccount{}, errors.New("connect: no email address")
	}

	acct := ConnectedAccount{ID: uuid.NewString(), Provider: message.ProviderGmail}
	if i := findEmail(accounts, p.Email); i >= 0 {
		acct = accounts[i]
	}
	acct.Email = p.Email
	acct.Name = p.Name
	acct.Picture = p.Picture
	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	acct.TokenExpiry = tok.Expiry
	if acct.TokenExpiry.IsZero() {
		acct.TokenExpiry = now.Add(defaultTokenLifetime)
	}
	acct.Status = StatusConnected
	acct.LastError = ""
	return Replace(accounts, acct), acct, nil
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// OAuthRefresher refreshes through Google's OAuth 2.0 token endpoint.
type OAuthRefresher struct {
	Config *oauth2.Config
}

// NewOAuthConfig returns the OAuth client configuration for the mail
// scopes the tracker needs.
func NewOAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes: []string{
			gmail_api.GmailReadonlyScope,
			gmail_api.GmailModifyScope,
			gmail_api.GmailSendScope,
		},
	}
}

func (r OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return r.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// BearerToken returns a usable access token for acct and the account as
// it should be stored afterwards.  An expired token is refreshed when
// acct has a refresh token and r is non-nil; otherwise the account is
// marked Expired and ErrSessionExpired is returned.
func BearerToken(ctx context.Context, acct ConnectedAccount, r Refresher, now time.Time) (string, ConnectedAccount, error) {
	if acct.Status == StatusDisconnected {
		return "", acct, errors.Wrapf(ErrDisconnected, "account %s", acct.Email)
	}
	if acct.AccessToken != "" && now.Add(expirySkew).Before(acct.TokenExpiry) {
		return acct.AccessToken, acct, nil
	}
	if acct.RefreshToken == "" || r == nil {
		acct.Status = StatusExpired
		acct.LastError = ErrSessionExpired.Error()
		return "", acct, errors.Wrapf(ErrSessionExpired, "account %s", acct.Email)
	}

	tok, err := r.Refresh(ctx, acct.RefreshToken)
	if err != nil || tok == nil || tok.AccessToken == "" {
		acct.Status = StatusExpired
		acct.LastError = ErrSessionExpired.Error()
		if err == nil {
			err = errors.New("empty token")
		}
		return "", acct, errors.Wrapf(ErrSessionExpired, "account %s: refresh failed: %v", acct.Email, err)
	}
	acct.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		acct.RefreshToken = tok.RefreshToken
	}
	acct.TokenExpiry = tok.Expiry
	if acct.TokenExpiry.IsZero() {
		acct.TokenExpiry = now.Add(defaultTokenLifetime)
	}
	acct.Status = StatusConnected
	acct.LastError = ""
	return acct.AccessToken, acct, nil
}

// RecordSync stamps a successful scan.
func RecordSync(acct ConnectedAccount, now time.Time) ConnectedAccount {
	acct.Status = StatusConnected
	acct.LastSyncedAt = message.FormatTimestamp(now)
	acct.LastError = ""
	return acct
}

// RecordFailure stores a failed scan's outcome.
func RecordFailure(acct ConnectedAccount, status Status, err error) ConnectedAccount {
	acct.Status = status
	if err != nil {
		acct.LastError = err.Error()
	}
	return acct
}

// Disconnect removes account id and every message it owns.
func Disconnect(accounts []ConnectedAccount, msgs []message.InboundMessage, id string) ([]ConnectedAccount, []message.InboundMessage, error) {
	i := Find(accounts, id)
	if i < 0 {
		return accounts, msgs, errors.Wrapf(ErrUnknownAccount, "%q", id)
	}
	outAccounts := make([]ConnectedAccount, 0, len(accounts)-1)
	outAccounts = append(outAccounts, accounts[:i]...)
	outAccounts = append(outAccounts, accounts[i+1:]...)

	outMsgs := make([]message.InboundMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.AccountID != id {
			outMsgs = append(outMsgs, m)
		}
	}
	return outAccounts, outMsgs, nil
}

type accountsFile struct {
	Accounts []ConnectedAccount `yaml:"accounts"`
}

// ExportYAML renders account metadata.  Tokens are never written.
func ExportYAML(accounts []ConnectedAccount) ([]byte, error) {
	data, err := yaml.Marshal(accountsFile{Accounts: accounts})
	if err != nil {
		return nil, errors.Wrap(err, "encoding accounts")
	}
	return data, nil
}

// ImportYAML merges accounts exported by ExportYAML into accounts.
// Imported accounts carry no tokens, so new ones start Disconnected and
// existing ones keep their session.
func ImportYAML(accounts []ConnectedAccount, data []byte) ([]ConnectedAccount, error) {
	var f accountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return accounts, errors.Wrap(err, "decoding accounts")
	}
	out := append([]ConnectedAccount(nil), accounts...)
	for _, a := range f.Accounts {
		if strings.TrimSpace(a.Email) == "" {
			continue
		}
		if i := findEmail(out, a.Email); i >= 0 {
			out[i].Name = a.Name
			out[i].Picture = a.Picture
			continue
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Provider == "" {
			a.Provider = message.ProviderGmail
		}
		a.Status = StatusDisconnected
		out = append(out, a)
	}
	return out, nil
}
