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
	"strings"
	"text/tabwriter"

	"github.com/matta/jobtrail/internal/extract"
	"github.com/matta/jobtrail/internal/message"
	"github.com/matta/jobtrail/internal/tracker"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List tracked applications",
	Args:  cobra.NoArgs,
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), e.state.Applications)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMPANY\tROLE\tSTATUS\tNEXT INTERVIEW\tMESSAGES\tREVIEW")
		for _, a := range e.state.Applications {
			review := ""
			if a.NeedsReview {
				review = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n", a.ID, a.CompanyName, a.RoleTitle, a.Status,
				a.NextInterviewDate, len(tracker.LinkedMessages(e.state.Messages, a.ID)), review)
		}
		return w.Flush()
	}),
}

var appShowCmd = &cobra.Command{
	Use:   "show APPLICATION",
	Short: "Show one application with its notes and messages",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		app, err := findApplication(e, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s (%s)\n", app.CompanyName, app.RoleTitle, app.Status)
		fmt.Fprintf(out, "Applied:  %s\n", app.DateApplied)
		if app.NextInterviewDate != "" {
			fmt.Fprintf(out, "Next:     %s\n", app.NextInterviewDate)
		}
		if app.JobLink != "" {
			fmt.Fprintf(out, "Link:     %s\n", app.JobLink)
		}
		if app.Recruiter != nil {
			fmt.Fprintf(out, "Contact:  %s <%s>\n", app.Recruiter.Name, app.Recruiter.Email)
		}
		if app.Summary != "" {
			fmt.Fprintf(out, "Summary:  %s\n", app.Summary)
		}
		if len(app.Skills) > 0 {
			fmt.Fprintf(out, "Skills:   %s\n", strings.Join(app.Skills, ", "))
		}
		for _, n := range app.Notes {
			fmt.Fprintf(out, "  [%s] %s\n", n.CreatedAt, n.Text)
		}
		for _, m := range tracker.LinkedMessages(e.state.Messages, app.ID) {
			fmt.Fprintf(out, "  <%s> %s: %s\n", m.ID, m.SenderName, m.Subject)
		}
		return nil
	}),
}

var extractCmd = &cobra.Command{
	Use:   "extract MESSAGE",
	Short: "Draft an application from a message",
	Long: "Draft an application from a message.  With --save the draft is " +
		"added to the tracked applications and linked to the message.",
	Args: cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		m, err := findMessage(e, args[0])
		if err != nil {
			return err
		}
		draft := tracker.CreateFromMessage(ctx, e.engine, m, e.now())
		if save, _ := cmd.Flags().GetBool("save"); save {
			e.state.Applications = tracker.Upsert(e.state.Applications, draft)
			if e.state.Messages, err = tracker.Link(e.state.Messages, m.ID, draft.ID); err != nil {
				return err
			}
		}
		return writeJSON(cmd.OutOrStdout(), draft)
	}),
}

var classifyCmd = &cobra.Command{
	Use:   "classify MESSAGE",
	Short: "Ask the model whether a message is recruiting related",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(false, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		m, err := findMessage(e, args[0])
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), e.engine.Classify(ctx, m.FullBody, m.Subject))
	}),
}

var linkCmd = &cobra.Command{
	Use:   "link MESSAGE APPLICATION",
	Short: "Link a message to an application",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		if _, err := findApplication(e, args[1]); err != nil {
			return err
		}
		var err error
		e.state.Messages, err = tracker.Link(e.state.Messages, args[0], args[1])
		return err
	}),
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink MESSAGE",
	Short: "Remove a message's application link",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		var err error
		e.state.Messages, err = tracker.Unlink(e.state.Messages, args[0])
		return err
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status APPLICATION STATUS",
	Short: "Set an application's status",
	Long:  "Set an application's status.  Valid statuses: " + strings.Join(tracker.StatusNames(), ", ") + ".",
	Args:  cobra.MinimumNArgs(2),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		app, err := findApplication(e, args[0])
		if err != nil {
			return err
		}
		s, err := tracker.ParseStatus(strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		updated, err := tracker.AdvanceStatus(*app, s)
		if err != nil {
			return err
		}
		e.state.Applications = tracker.Upsert(e.state.Applications, updated)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", app.CompanyName, app.Status, updated.Status)
		return nil
	}),
}

var noteCmd = &cobra.Command{
	Use:   "note APPLICATION TEXT...",
	Short: "Add a note to an application",
	Args:  cobra.MinimumNArgs(2),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		app, err := findApplication(e, args[0])
		if err != nil {
			return err
		}
		e.state.Applications = tracker.Upsert(e.state.Applications,
			tracker.AddNote(*app, strings.Join(args[1:], " "), e.now()))
		return nil
	}),
}

var deleteAppCmd = &cobra.Command{
	Use:   "delete APPLICATION",
	Short: "Delete an application and clear links to it",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(true, func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error {
		var err error
		e.state.Applications, e.state.Messages, err = tracker.DeleteApplication(e.state.Applications, e.state.Messages, args[0])
		return err
	}),
}

func findApplication(e *env, id string) (*tracker.JobApplication, error) {
	i := tracker.Find(e.state.Applications, id)
	if i < 0 {
		return nil, errors.Wrapf(tracker.ErrUnknownApplication, "%q", id)
	}
	app := e.state.Applications[i]
	return &app, nil
}

func plainBody(m *message.InboundMessage) string {
	return extract.PlainText(m.FullBody)
}

func init() {
	appsCmd.Flags().Bool("json", false, "print JSON")
	extractCmd.Flags().Bool("save", false, "track the draft and link it to the message")
	appsCmd.AddCommand(appShowCmd, deleteAppCmd)
	rootCmd.AddCommand(appsCmd, extractCmd, classifyCmd, linkCmd, unlinkCmd, statusCmd, noteCmd)
}
