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

package sync

import (
	"github.com/matta/jobtrail/internal/message"
)

// Merge reconciles freshly fetched messages with the existing
// collection.  Messages whose id is already present are dropped, so an
// existing entry always wins over a re-fetched copy.  The surviving new
// messages are placed ahead of the existing ones and the whole
// collection is sorted newest first.  The inputs are not modified.
func Merge(existing, fresh []message.InboundMessage) []message.InboundMessage {
	seen := make(map[string]bool, len(existing)+len(fresh))
	for i := range existing {
		seen[existing[i].ID] = true
	}

	merged := make([]message.InboundMessage, 0, len(existing)+len(fresh))
	for _, m := range fresh {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		merged = append(merged, m)
	}
	merged = append(merged, existing...)
	message.SortNewestFirst(merged)
	return merged
}
