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

// Package extract turns recruiter email into structured application
// fields.  A model is used when one is configured; otherwise, or when
// the model call fails, a deterministic regex extractor takes over.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matta/jobtrail/internal/llm"
	"github.com/matta/jobtrail/internal/tracker"
)

const (
	// Prompts carry at most this many runes of body text.
	maxPromptBody = 12000

	ReasoningNoCredential = "AI API key not configured; unable to classify this email."
	ReasoningFailed       = "AI classification failed; treating this email as not recruiting related."
)

// Model is the structured-output call the Engine depends on.
// *llm.Client satisfies it.
type Model interface {
	GenerateJSON(ctx context.Context, prompt string, schema *llm.Schema, out interface{}) error
}

// Engine extracts fields and classifies messages.
type Engine struct {
	model Model
}

// New returns an Engine.  A nil model selects the offline path for
// every call.
func New(model Model) *Engine {
	return &Engine{model: model}
}

// HasModel reports whether the AI path is available.
func (e *Engine) HasModel() bool {
	return e.model != nil
}

var fieldsSchema = &llm.Schema{
	Type: "OBJECT",
	Properties: map[string]*llm.Schema{
		"companyName":       {Type: "STRING", Description: "The hiring company, not the recruiting agency when both appear."},
		"roleTitle":         {Type: "STRING", Description: "The job title being discussed."},
		"jobLink":           {Type: "STRING", Nullable: true, Description: "URL of the job posting, if any."},
		"nextInterviewDate": {Type: "STRING", Nullable: true, Description: "Next scheduled interview as ISO 8601 date and time, if any."},
		"status":            {Type: "STRING", Enum: tracker.StatusNames()},
		"summary":           {Type: "STRING", Nullable: true, Description: "One or two sentence summary of the role."},
		"skills":            {Type: "ARRAY", Items: &llm.Schema{Type: "STRING"}},
	},
	Required: []string{"companyName", "roleTitle", "status"},
}

type aiFields struct {
	CompanyName       string   `json:"companyName"`
	RoleTitle         string   `json:"roleTitle"`
	JobLink           *string  `json:"jobLink"`
	NextInterviewDate *string  `json:"nextInterviewDate"`
	Status            string   `json:"status"`
	Summary           *string  `json:"summary"`
	Skills            []string `json:"skills"`
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func fieldsPrompt(body, subject string) string {
	var sb strings.Builder
	sb.WriteString("Extract job application details from this recruiting email.\n")
	sb.WriteString("Valid status values, in pipeline order: ")
	sb.WriteString(strings.Join(tracker.StatusNames(), ", "))
	sb.WriteString(".\nUse null for anything the email does not state.\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n\nBody:\n%s\n", subject, truncate(PlainText(body), maxPromptBody))
	return sb.String()
}

// Extract implements tracker.Extractor.  It never fails: without a
// model, or when the model call fails, Fallback's result is returned.
func (e *Engine) Extract(ctx context.Context, body, subject string) tracker.Fields {
	if e.model == nil {
		return Fallback(body, subject)
	}
	var out aiFields
	if err := e.model.GenerateJSON(ctx, fieldsPrompt(body, subject), fieldsSchema, &out); err != nil {
		log.Printf("AI extraction failed, using heuristics: %v", err)
		return Fallback(body, subject)
	}

	f := tracker.Fields{
		CompanyName: strings.TrimSpace(out.CompanyName),
		RoleTitle:   strings.TrimSpace(out.RoleTitle),
		Status:      tracker.DefaultStatus,
		Skills:      out.Skills,
	}
	if f.CompanyName == "" {
		f.CompanyName = UnknownCompany
	}
	if f.RoleTitle == "" {
		f.RoleTitle = UnknownRole
	}
	if s, err := tracker.ParseStatus(out.Status); err == nil {
		f.Status = s
	}
	if out.JobLink != nil {
		f.JobLink = strings.TrimSpace(*out.JobLink)
	}
	if out.NextInterviewDate != nil {
		f.NextInterviewDate = NormalizeInterviewDate(*out.NextInterviewDate)
	}
	if out.Summary != nil {
		f.Summary = strings.TrimSpace(*out.Summary)
	}
	return f
}

var (
	zonedLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04Z07:00"}
	localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}
)

const localLayout = "2006-01-02T15:04:05"

// NormalizeInterviewDate returns s as an ISO 8601 date and time, or ""
// when s is not a combined date and time.  A bare date is rejected: the
// interview is then treated as not yet scheduled.
func NormalizeInterviewDate(s string) string {
	s = strings.TrimSpace(s)
	for _, l := range zonedLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.Format(time.RFC3339)
		}
	}
	for _, l := range localLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.Format(localLayout)
		}
	}
	return ""
}

// Classification says whether a message is about a job search.
type Classification struct {
	IsRecruitingEmail bool           `json:"isRecruitingEmail"`
	Reasoning         string         `json:"reasoning"`
	DetectedCompany   string         `json:"detectedCompany,omitempty"`
	SuggestedStatus   tracker.Status `json:"suggestedStatus,omitempty"`
}

var classifySchema = &llm.Schema{
	Type: "OBJECT",
	Properties: map[string]*llm.Schema{
		"isRecruitingEmail": {Type: "BOOLEAN"},
		"reasoning":         {Type: "STRING"},
		"detectedCompany":   {Type: "STRING", Nullable: true},
		"suggestedStatus":   {Type: "STRING", Nullable: true, Enum: tracker.StatusNames()},
	},
	Required: []string{"isRecruitingEmail", "reasoning"},
}

type aiClassification struct {
	IsRecruitingEmail bool    `json:"isRecruitingEmail"`
	Reasoning         string  `json:"reasoning"`
	DetectedCompany   *string `json:"detectedCompany"`
	SuggestedStatus   *string `json:"suggestedStatus"`
}

func classifyPrompt(body, subject string) string {
	var sb strings.Builder
	sb.WriteString("Decide whether this email is part of the recipient's job search ")
	sb.WriteString("(recruiter outreach, application updates, interview scheduling, offers, rejections). ")
	sb.WriteString("Newsletters, job alerts and marketing are not.\n")
	sb.WriteString("If it is, suggest one status from: ")
	sb.WriteString(strings.Join(tracker.StatusNames(), ", "))
	sb.WriteString(".\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n\nBody:\n%s\n", subject, truncate(PlainText(body), maxPromptBody))
	return sb.String()
}

// Classify reports whether a message is recruiting related.  There is
// no heuristic fallback: without a model, or on failure, the answer is
// a fixed negative with an explanatory Reasoning.
func (e *Engine) Classify(ctx context.Context, body, subject string) Classification {
	if e.model == nil {
		return Classification{Reasoning: ReasoningNoCredential}
	}
	var out aiClassification
	if err := e.model.GenerateJSON(ctx, classifyPrompt(body, subject), classifySchema, &out); err != nil {
		log.Printf("AI classification failed: %v", err)
		return Classification{Reasoning: ReasoningFailed}
	}
	c := Classification{
		IsRecruitingEmail: out.IsRecruitingEmail,
		Reasoning:         out.Reasoning,
	}
	if out.DetectedCompany != nil {
		c.DetectedCompany = strings.TrimSpace(*out.DetectedCompany)
	}
	if out.SuggestedStatus != nil {
		if s, err := tracker.ParseStatus(*out.SuggestedStatus); err == nil {
			c.SuggestedStatus = s
		}
	}
	return c
}
