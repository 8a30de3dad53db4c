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

// Package tracker holds job application records and the operations
// that bind inbound messages to them.
//
// Like the rest of the core, the functions here never mutate the
// collections they are given; they return updated copies that the
// caller stores.
package tracker

import (
	"strings"

	"github.com/pkg/errors"
)

// Status is a stage in the application pipeline.
type Status string

const (
	StatusSubmitted       Status = "Submitted"
	StatusRecruiterScreen Status = "Recruiter Screen"
	StatusTechnicalScreen Status = "Technical Phone Screen"
	StatusHiringManager   Status = "Hiring Manager"
	StatusOnsite          Status = "Onsite"
	StatusOffer           Status = "Offer"
	StatusRejected        Status = "Rejected"
	StatusWithdrawn       Status = "Withdrawn"
)

// DefaultStatus is assigned when extraction cannot name a stage.
const DefaultStatus = StatusRecruiterScreen

// Statuses lists every status in display order: the pipeline, then the
// two side states.
var Statuses = []Status{
	StatusSubmitted,
	StatusRecruiterScreen,
	StatusTechnicalScreen,
	StatusHiringManager,
	StatusOnsite,
	StatusOffer,
	StatusRejected,
	StatusWithdrawn,
}

var ErrInvalidStatus = errors.New("invalid application status")

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	return s.Index() >= 0
}

// Index returns the display position of s, or -1.
func (s Status) Index() int {
	for i, v := range Statuses {
		if v == s {
			return i
		}
	}
	return -1
}

// Terminal reports whether s conventionally ends an application.
// Nothing prevents moving out of a terminal status.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusWithdrawn
}

// ParseStatus matches s against Statuses ignoring case and surrounding
// space.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, v := range Statuses {
		if strings.EqualFold(string(v), s) {
			return v, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidStatus, "%q", s)
}

// StatusNames returns Statuses as plain strings, for prompts and
// schemas.
func StatusNames() []string {
	out := make([]string, len(Statuses))
	for i, s := range Statuses {
		out[i] = string(s)
	}
	return out
}
