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

package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/matta/jobtrail/internal/tracker"
)

const (
	UnknownCompany = "Unknown Company"
	UnknownRole    = "Unknown Role"

	// A trailing subject segment at least this long is a sentence,
	// not a company name.
	maxSegmentCompanyLen = 30
)

var (
	// "(at|for|to) Capitalized Words", optionally followed by a
	// dash and more capitalized words that are cut off later.
	companyRE = regexp.MustCompile(`\b(?:at|for|to)\s+([A-Z][\w&.']*(?:(?:\s+|\s*[-–—]\s*)[A-Z0-9][\w&.']*)*)`)

	// Subject separators: a spaced dash or any pipe.  Hyphenated
	// words such as "Follow-up" are not split.
	segmentRE = regexp.MustCompile(`\s+[-–—]\s+|\|`)
	dashRE    = regexp.MustCompile(`\s*[-–—]`)

	roleLabelRE  = regexp.MustCompile(`(?:Role|Position|Opening):[ \t]*([^.\n]+)`)
	roleSplitRE  = regexp.MustCompile(`\s+(?:at|for)\s+`)
	roleKeywords = []string{"Engineer", "Developer", "Designer", "Manager", "Product", "Analyst"}
)

// Fallback extracts fields with regular expressions only.  It never
// consults a model, never fails, and always reports DefaultStatus.
func Fallback(body, subject string) tracker.Fields {
	company := companyFromSubject(subject)
	if company == "" {
		company = UnknownCompany
	}
	role := roleFromBody(PlainText(body))
	if role == "" {
		role = roleFromSubject(subject)
	}
	if role == "" {
		role = UnknownRole
	}
	return tracker.Fields{
		CompanyName: company,
		RoleTitle:   role,
		Status:      tracker.DefaultStatus,
		Fallback:    true,
	}
}

func companyFromSubject(subject string) string {
	if m := companyRE.FindStringSubmatch(subject); m != nil {
		name := strings.TrimSpace(m[1])
		if loc := dashRE.FindStringIndex(name); loc != nil {
			name = strings.TrimSpace(name[:loc[0]])
		}
		if name != "" {
			return name
		}
	}

	parts := segmentRE.Split(subject, -1)
	if len(parts) < 2 {
		return ""
	}
	last := strings.TrimSpace(parts[len(parts)-1])
	if last == "" || utf8.RuneCountInString(last) >= maxSegmentCompanyLen {
		return ""
	}
	return last
}

func roleFromBody(text string) string {
	m := roleLabelRE.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// roleFromSubject guesses that whatever precedes " at " or " for " is
// the role, but only when the subject names a common job family.
func roleFromSubject(subject string) string {
	found := false
	for _, k := range roleKeywords {
		if strings.Contains(subject, k) {
			found = true
			break
		}
	}
	if !found {
		return ""
	}
	return strings.TrimSpace(roleSplitRE.Split(subject, 2)[0])
}
