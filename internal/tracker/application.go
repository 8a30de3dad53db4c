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

package tracker

import (
	"context"
	"strings"
	"time"

	"github.com/matta/jobtrail/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrUnknownApplication = errors.New("unknown application")
	ErrUnknownMessage     = errors.New("unknown message")
)

// Recruiter is the contact an application came in through.
type Recruiter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Note is one timestamped free-text entry on an application.
type Note struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	CreatedAt string `json:"createdAt"`
}

// JobApplication is one tracked application.
type JobApplication struct {
	ID          string `json:"id"`
	CompanyName string `json:"companyName"`
	RoleTitle   string `json:"roleTitle"`
	JobLink     string `json:"jobLink,omitempty"`
	Status      Status `json:"status"`
	Notes       []Note `json:"notes"`
	DateApplied string `json:"dateApplied"`

	// Combined date and time, e.g. "2024-05-01T14:00:00Z".  Empty
	// means no interview is scheduled yet, which says nothing about
	// how far the application has progressed.
	NextInterviewDate string `json:"nextInterviewDate,omitempty"`

	Recruiter *Recruiter `json:"recruiter,omitempty"`

	// Filled in by the AI extraction path only.
	Summary string   `json:"aiSummary,omitempty"`
	Skills  []string `json:"aiSkills,omitempty"`

	// Set when the record was drafted from heuristic defaults and a
	// person should check it.
	NeedsReview bool `json:"needsReview,omitempty"`
}

// Fields is what an Extractor pulls out of a message.
type Fields struct {
	CompanyName       string
	RoleTitle         string
	JobLink           string
	NextInterviewDate string
	Status            Status
	Summary           string
	Skills            []string

	// Fallback is true when the heuristic extractor produced the
	// fields.
	Fallback bool
}

// Extractor turns a message body and subject into structured fields.
// Implementations must not fail; they degrade to defaults instead.
type Extractor interface {
	Extract(ctx context.Context, body, subject string) Fields
}

// CreateFromMessage drafts a new application from msg.  The draft is
// not added to any collection.
func CreateFromMessage(ctx context.Context, x Extractor, msg *message.InboundMessage, now time.Time) JobApplication {
	f := x.Extract(ctx, msg.FullBody, msg.Subject)
	status := f.Status
	if !status.Valid() {
		status = DefaultStatus
	}
	return JobApplication{
		ID:                uuid.NewString(),
		CompanyName:       f.CompanyName,
		RoleTitle:         f.RoleTitle,
		JobLink:           f.JobLink,
		Status:            status,
		Notes:             []Note{},
		DateApplied:       message.FormatTimestamp(now),
		NextInterviewDate: f.NextInterviewDate,
		Recruiter:         &Recruiter{Name: msg.SenderName, Email: msg.SenderEmail},
		Summary:           f.Summary,
		Skills:            f.Skills,
		NeedsReview:       f.Fallback,
	}
}

// AdvanceStatus sets app's status.  Any status may follow any other;
// the pipeline order is for display only.
func AdvanceStatus(app JobApplication, s Status) (JobApplication, error) {
	if !s.Valid() {
		return app, errors.Wrapf(ErrInvalidStatus, "%q", s)
	}
	app.Status = s
	return app, nil
}

// AddNote appends a note stamped with now.  Blank text is ignored.
func AddNote(app JobApplication, text string, now time.Time) JobApplication {
	text = strings.TrimSpace(text)
	if text == "" {
		return app
	}
	notes := make([]Note, len(app.Notes), len(app.Notes)+1)
	copy(notes, app.Notes)
	app.Notes = append(notes, Note{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: message.FormatTimestamp(now),
	})
	return app
}

// Find returns the index of the application with id, or -1.
func Find(apps []JobApplication, id string) int {
	for i := range apps {
		if apps[i].ID == id {
			return i
		}
	}
	return -1
}

// Upsert replaces the application with app's id, or prepends app when
// it is new.
func Upsert(apps []JobApplication, app JobApplication) []JobApplication {
	if i := Find(apps, app.ID); i >= 0 {
		out := append([]JobApplication(nil), apps...)
		out[i] = app
		return out
	}
	return append([]JobApplication{app}, apps...)
}

// Link sets the linked application of message messageID.  appID is not
// checked against any application collection; that is the caller's job.
func Link(msgs []message.InboundMessage, messageID, appID string) ([]message.InboundMessage, error) {
	i := message.Find(msgs, messageID)
	if i < 0 {
		return msgs, errors.Wrapf(ErrUnknownMessage, "%q", messageID)
	}
	out := append([]message.InboundMessage(nil), msgs...)
	out[i].LinkedApplicationID = appID
	return out, nil
}

// Unlink clears the linked application of message messageID.
func Unlink(msgs []message.InboundMessage, messageID string) ([]message.InboundMessage, error) {
	return Link(msgs, messageID, "")
}

// LinkedMessages returns the messages referencing appID, in collection
// order.
func LinkedMessages(msgs []message.InboundMessage, appID string) []message.InboundMessage {
	var out []message.InboundMessage
	for _, m := range msgs {
		if appID != "" && m.LinkedApplicationID == appID {
			out = append(out, m)
		}
	}
	return out
}

// DeleteApplication removes application id and clears every message
// link that pointed at it, so no reference dangles.
func DeleteApplication(apps []JobApplication, msgs []message.InboundMessage, id string) ([]JobApplication, []message.InboundMessage, error) {
	i := Find(apps, id)
	if i < 0 {
		return apps, msgs, errors.Wrapf(ErrUnknownApplication, "%q", id)
	}
	outApps := make([]JobApplication, 0, len(apps)-1)
	outApps = append(outApps, apps[:i]...)
	outApps = append(outApps, apps[i+1:]...)

	outMsgs := append([]message.InboundMessage(nil), msgs...)
	for j := range outMsgs {
		if outMsgs[j].LinkedApplicationID == id {
			outMsgs[j].LinkedApplicationID = ""
		}
	}
	return outApps, outMsgs, nil
}
