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

package gmail

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Window is the recency filter applied to a mailbox scan.
type Window string

const (
	Window7Days   Window = "7d"
	Window30Days  Window = "30d"
	Window3Months Window = "3m"
)

// DefaultWindow is used when no window is configured.
const DefaultWindow = Window30Days

// ParseWindow accepts "7d", "30d" and "3m".  The empty string yields
// DefaultWindow.
func ParseWindow(s string) (Window, error) {
	switch w := Window(strings.TrimSpace(s)); w {
	case "":
		return DefaultWindow, nil
	case Window7Days, Window30Days, Window3Months:
		return w, nil
	}
	return "", errors.Errorf("unknown time window %q (want 7d, 30d or 3m)", s)
}

// Days returns the newer_than filter length.  Unknown windows behave
// like DefaultWindow.
func (w Window) Days() int {
	switch w {
	case Window7Days:
		return 7
	case Window3Months:
		return 90
	}
	return 30
}

// Recruiting mail rarely says "recruiter" in the subject, so the query
// ORs subject keywords with phrases searched across the whole message.
var (
	subjectTerms = []string{
		"interview", "application", "applying", "offer", "schedule",
		"hiring", "opportunity", "candidate", "candidacy", "position",
		"role", `"next steps"`, `"job"`,
	}
	bodyTerms = []string{
		`"recruiter"`, `"recruiting"`, `"talent acquisition"`,
		`"came across your profile"`, `"your background"`,
		`"reaching out"`, `"hiring manager"`,
	}
)

// BuildQuery returns the Gmail search expression used to list candidate
// messages for w.
func BuildQuery(w Window) string {
	return fmt.Sprintf("{subject:(%s) %s} newer_than:%dd -is:chat",
		strings.Join(subjectTerms, " OR "),
		strings.Join(bodyTerms, " "),
		w.Days())
}
