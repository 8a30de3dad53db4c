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

package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/config"
	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/persist"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

// Demo sessions in mock mode do not expire in practice.
const mockTokenLifetime = 365 * 24 * time.Hour

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect a Gmail account",
	Args:  cobra.NoArgs,
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")

		var tok *oauth2.Token
		if e.mode == persist.ModeMock {
			if email == "" {
				email = "demo@example.com"
			}
			tok = &oauth2.Token{AccessToken: "mock_" + uuid.NewString(), Expiry: e.now().Add(mockTokenLifetime)}
		} else {
			var err error
			if tok, err = authorize(ctx, e, cmd); err != nil {
				return err
			}
			if email, err = e.gmail.Profile(ctx, tok.AccessToken); err != nil {
				return describeSessionError(err)
			}
		}

		var acct account.ConnectedAccount
		var err error
		e.state.Accounts, acct, err = account.Connect(e.state.Accounts, account.Profile{Email: email, Name: name}, tok, e.now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected %s (%s)\n", acct.Email, acct.ID)
		return nil
	}),
}

// authorize runs the OAuth consent flow: the user opens the printed URL
// and pastes back either the code or the whole redirect URL.
func authorize(ctx context.Context, e *env, cmd *cobra.Command) (*oauth2.Token, error) {
	if e.oauth == nil {
		return nil, errors.New("no OAuth client configured; set oauth.client_id and oauth.client_secret")
	}
	state := uuid.NewString()
	authURL := e.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(cmd.OutOrStdout(), "Open this URL, grant access, and paste the code or the redirect URL:\n\n%s\n\n> ", authURL)

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return nil, errors.Wrap(err, "reading authorization code")
	}
	code, err := authCode(strings.TrimSpace(line), state)
	if err != nil {
		return nil, err
	}
	tok, err := e.oauth.Exchange(e.oauthContext(ctx), code)
	if err != nil {
		return nil, errors.Wrap(err, "exchanging authorization code")
	}
	return tok, nil
}

// authCode extracts the authorization code from input, which is either
// the bare code or the redirect URL carrying it.
func authCode(input, state string) (string, error) {
	if input == "" {
		return "", errors.New("no authorization code")
	}
	u, err := url.Parse(input)
	if err != nil || u.Scheme == "" {
		return input, nil
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", errors.Errorf("authorization denied: %s", e)
	}
	if s := q.Get("state"); s != "" && s != state {
		return "", errors.New("authorization state mismatch")
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("redirect URL has no code")
	}
	return code, nil
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect ACCOUNT",
	Short: "Disconnect an account and remove its messages",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		id, err := resolveAccount(e.state.Accounts, args[0])
		if err != nil {
			return err
		}
		before := len(e.state.Messages)
		e.state.Accounts, e.state.Messages, err = account.Disconnect(e.state.Accounts, e.state.Messages, id)
		if err != nil {
			return err
		}
		if err := e.archive.Remove(id); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: removing raw payloads: %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Disconnected; removed %d messages\n", before-len(e.state.Messages))
		return nil
	}),
}

// resolveAccount accepts an account id or email address.
func resolveAccount(accounts []account.ConnectedAccount, ref string) (string, error) {
	for _, a := range accounts {
		if a.ID == ref || strings.EqualFold(a.Email, ref) {
			return a.ID, nil
		}
	}
	return "", errors.Wrapf(account.ErrUnknownAccount, "%q", ref)
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List connected accounts",
	Args:  cobra.NoArgs,
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEMAIL\tSTATUS\tLAST SYNCED\tERROR")
		for _, a := range e.state.Accounts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Email, a.Status, a.LastSyncedAt, a.LastError)
		}
		return w.Flush()
	}),
}

var accountsExportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Export account metadata as YAML (tokens are not exported)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		data, err := account.ExportYAML(e.state.Accounts)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return errors.Wrapf(os.WriteFile(args[0], data, 0600), "writing %s", args[0])
	}),
}

var accountsImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import account metadata exported earlier",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return errors.Wrapf(err, "reading %s", args[0])
		}
		before := len(e.state.Accounts)
		e.state.Accounts, err = account.ImportYAML(e.state.Accounts, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d new accounts; run connect to sign in\n", len(e.state.Accounts)-before)
		return nil
	}),
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey KEY",
	Short: "Store the AI API key in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		if e.secrets == nil {
			return errors.New("no keyring available; set ai.api_key or JOBTRAIL_AI_API_KEY instead")
		}
		if err := config.StoreAPIKey(e.secrets, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "API key stored")
		return nil
	}),
}

// tokenFor returns a bearer token for accountID, recording and saving
// any refresh or expiry on the account.
func tokenFor(ctx context.Context, e *env, accountID string) (string, error) {
	i := account.Find(e.state.Accounts, accountID)
	if i < 0 {
		return "", errors.Wrapf(account.ErrUnknownAccount, "%q", accountID)
	}
	before := e.state.Accounts[i]
	token, updated, err := account.BearerToken(e.oauthContext(ctx), before, e.refresher, e.now())
	e.state.Accounts[i] = updated
	// The command may still fail after this point, so a refreshed token
	// or an expired status is saved now.
	if updated.Status != before.Status || updated.AccessToken != before.AccessToken || updated.LastError != before.LastError {
		if serr := e.save(ctx); serr != nil {
			log.Printf("saving account %s: %v", updated.Email, serr)
		}
	}
	if err != nil {
		return "", describeSessionError(err)
	}
	return token, nil
}

// describeSessionError turns session failures into something the user
// can act on.
func describeSessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case gmail.IsExpired(err), errors.Is(err, account.ErrSessionExpired):
		return errors.Wrap(err, "session expired; run connect again")
	case gmail.IsInsufficientScope(err):
		return errors.Wrap(err, "Gmail access was not granted; run connect again and allow all requested permissions")
	case gmail.IsNotEnabled(err):
		return errors.Wrap(err, "the Gmail API is not enabled for this OAuth client's project")
	}
	return err
}

func init() {
	connectCmd.Flags().String("email", "", "address for the demo account (mock mode only)")
	connectCmd.Flags().String("name", "", "display name for the account")
	accountsCmd.AddCommand(accountsExportCmd, accountsImportCmd)
	rootCmd.AddCommand(connectCmd, disconnectCmd, accountsCmd, apiKeyCmd)
}
