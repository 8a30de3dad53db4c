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
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/message"
	"github.com/matta/jobtrail/internal/sync"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Fetch recruiting mail for every connected account",
	Args:  cobra.NoArgs,
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		window, err := gmail.ParseWindow(e.cfg.Gmail.Window)
		if err != nil {
			return err
		}
		if len(e.state.Accounts) == 0 {
			return errors.New("no accounts; run connect first")
		}

		res := sync.Scan(e.oauthContext(ctx), e.gmail, e.state.Accounts, e.state.Messages, sync.Options{
			Limit:     e.cfg.Gmail.Limit,
			Window:    window,
			Refresher: e.refresher,
		}, e.now())
		e.state.Accounts = res.Accounts
		e.state.Messages = res.Messages

		if n, err := e.archive.StoreAll(e.state.Messages); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: archiving raw payloads: %v\n", err)
		} else if n > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "archived %d raw payloads\n", n)
		}

		out := cmd.OutOrStdout()
		for _, r := range res.Reports {
			if r.Err != nil {
				fmt.Fprintf(out, "%s: %v\n", r.Email, describeSessionError(r.Err))
				continue
			}
			fmt.Fprintf(out, "%s: fetched %d, %d new\n", r.Email, r.Fetched, r.Added)
		}
		return nil
	}),
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List ingested messages, newest first",
	Args:  cobra.NoArgs,
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		unlinked, _ := cmd.Flags().GetBool("unlinked")
		asJSON, _ := cmd.Flags().GetBool("json")
		acctRef, _ := cmd.Flags().GetString("account")

		var accountID string
		if acctRef != "" {
			id, err := resolveAccount(e.state.Accounts, acctRef)
			if err != nil {
				return err
			}
			accountID = id
		}

		var msgs []message.InboundMessage
		for _, m := range e.state.Messages {
			if accountID != "" && m.AccountID != accountID {
				continue
			}
			if unlinked && m.LinkedApplicationID != "" {
				continue
			}
			msgs = append(msgs, m)
		}
		if asJSON {
			return writeJSON(cmd.OutOrStdout(), msgs)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tRECEIVED\tFROM\tSUBJECT\tAPPLICATION")
		for _, m := range msgs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.ID, m.ReceivedAt, m.SenderName, truncate(m.Subject, 60), m.LinkedApplicationID)
		}
		return w.Flush()
	}),
}

var messageShowCmd = &cobra.Command{
	Use:   "show MESSAGE",
	Short: "Show one message",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		m, err := findMessage(e, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			data, err := e.archive.Load(m.AccountID, m.ID)
			if err != nil {
				data = []byte(m.RawContent)
			}
			_, err = out.Write(data)
			return err
		}
		fmt.Fprintf(out, "From:     %s <%s>\n", m.SenderName, m.SenderEmail)
		fmt.Fprintf(out, "Subject:  %s\n", m.Subject)
		fmt.Fprintf(out, "Received: %s\n", m.ReceivedAt)
		fmt.Fprintf(out, "Link:     %s\n", m.Link)
		if m.LinkedApplicationID != "" {
			fmt.Fprintf(out, "Linked:   %s\n", m.LinkedApplicationID)
		}
		fmt.Fprintf(out, "\n%s\n", plainBody(m))
		return nil
	}),
}

var trashCmd = &cobra.Command{
	Use:   "trash MESSAGE",
	Short: "Move a message to the Gmail trash and drop it locally",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		m, err := findMessage(e, args[0])
		if err != nil {
			return err
		}
		token, err := tokenFor(ctx, e, m.AccountID)
		if err != nil {
			return err
		}
		if err := e.gmail.Trash(ctx, token, m.ID); err != nil {
			return describeSessionError(err)
		}
		i := message.Find(e.state.Messages, m.ID)
		e.state.Messages = append(e.state.Messages[:i:i], e.state.Messages[i+1:]...)
		fmt.Fprintf(cmd.OutOrStdout(), "Trashed %s\n", m.ID)
		return nil
	}),
}

var replyCmd = &cobra.Command{
	Use:   "reply MESSAGE TEXT...",
	Short: "Reply to a message in its thread",
	Args:  cobra.MinimumNArgs(2),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		m, err := findMessage(e, args[0])
		if err != nil {
			return err
		}
		token, err := tokenFor(ctx, e, m.AccountID)
		if err != nil {
			return err
		}
		id, err := e.gmail.Reply(ctx, token, m, strings.Join(args[1:], " "))
		if err != nil {
			return describeSessionError(err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Sent reply %s\n", id)
		return nil
	}),
}

func findMessage(e *env, id string) (*message.InboundMessage, error) {
	i := message.Find(e.state.Messages, id)
	if i < 0 {
		return nil, errors.Wrapf(gmail.ErrMessageNotFound, "%q", id)
	}
	m := e.state.Messages[i]
	return &m, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding output")
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func init() {
	scanCmd.Flags().Int64("limit", gmail.DefaultLimit, "maximum messages to list per account")
	scanCmd.Flags().String("window", string(gmail.DefaultWindow), "recency window: 7d, 30d or 3m")
	v.BindPFlag("gmail.limit", scanCmd.Flags().Lookup("limit"))
	v.BindPFlag("gmail.window", scanCmd.Flags().Lookup("window"))

	messagesCmd.Flags().Bool("unlinked", false, "only messages not linked to an application")
	messagesCmd.Flags().Bool("json", false, "print JSON")
	messagesCmd.Flags().String("account", "", "only messages of this account (id or email)")
	messageShowCmd.Flags().Bool("raw", false, "print the raw provider payload")
	messagesCmd.AddCommand(messageShowCmd)

	rootCmd.AddCommand(scanCmd, messagesCmd, trashCmd, replyCmd)
}
