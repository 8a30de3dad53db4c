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

// Package archive keeps the raw provider payload of each ingested
// message on disk, outside the database, for the raw view.
package archive

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/matta/jobtrail/internal/message"

	"github.com/pkg/errors"
)

const (
	dirFileMode     = 0700
	messageFileMode = 0600

	pathFarm16 = "abcdefghijklmnop"
)

type Archive struct {
	// Root of the directory farm.
	path string
}

type path struct {
	root string
	dirs []string
	base string
}

func (p path) Join() string {
	parts := make([]string, 1, len(p.dirs)+2)
	parts[0] = p.root
	parts = append(parts, p.dirs...)
	parts = append(parts, p.base)
	return filepath.Join(parts...)
}

// New opens the archive rooted at dir, creating its directory farm.
func New(dir string) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive: no directory")
	}
	if err := mkdirfarm(dir, 2); err != nil {
		return nil, errors.Wrapf(err, "archive: creating %q", dir)
	}
	return &Archive{path: dir}, nil
}

// Has reports whether the payload of message id owned by accountID
// has been stored.
func (a *Archive) Has(accountID, id string) bool {
	_, err := os.Stat(a.makePath(accountID, id).Join())
	return err == nil
}

// Store writes msg's raw payload.  Messages already present are left
// untouched, since provider payloads never change for an id.
func (a *Archive) Store(msg *message.InboundMessage) error {
	if msg.ID == "" {
		return errors.New("message has no ID")
	}
	if msg.RawContent == "" {
		return errors.Errorf("message %s has no raw content", msg.ID)
	}
	if a.Has(msg.AccountID, msg.ID) {
		return nil
	}
	p := a.makePath(msg.AccountID, msg.ID).Join()
	return errors.Wrapf(os.WriteFile(p, []byte(msg.RawContent), messageFileMode), "archive: writing %s", msg.ID)
}

// StoreAll stores every message with raw content and returns how many
// were newly written.
func (a *Archive) StoreAll(msgs []message.InboundMessage) (int, error) {
	n := 0
	for i := range msgs {
		if msgs[i].RawContent == "" || a.Has(msgs[i].AccountID, msgs[i].ID) {
			continue
		}
		if err := a.Store(&msgs[i]); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Load returns the stored payload.
func (a *Archive) Load(accountID, id string) ([]byte, error) {
	data, err := os.ReadFile(a.makePath(accountID, id).Join())
	if err != nil {
		return nil, errors.Wrapf(err, "archive: reading %s", id)
	}
	return data, nil
}

// Remove deletes every stored payload owned by accountID.
func (a *Archive) Remove(accountID string) error {
	prefix := basename{scope: accountID}.encode()
	return filepath.Walk(a.path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), prefix) {
			return nil
		}
		return os.Remove(p)
	})
}

// basename holds the fields encoded into the file name of a stored
// payload.
type basename struct {
	// The connected account the message belongs to.  Provider ids
	// are only unique within one mailbox.
	scope string

	// The provider's message id.
	permID string
}

// Return the specified string with characters that should not appear
// in a file name escaped.
func escape(s string) string {
	hexCount := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			hexCount++
		}
	}

	if hexCount == 0 {
		return s
	}

	t := make([]byte, len(s)+2*hexCount)
	j := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case shouldEscape(c):
			t[j] = '='
			t[j+1] = "0123456789ABCDEF"[c>>4]
			t[j+2] = "0123456789ABCDEF"[c&15]
			j += 3
		default:
			t[j] = s[i]
			j++
		}
	}
	return string(t)
}

// Return true if the specified character should be escaped.  Only the
// alphanumeric subset of the POSIX portable filename character set is
// passed through.
func shouldEscape(c byte) bool {
	if 'A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9' {
		return false
	}
	return true
}

// encode returns "jobtrail-1-<scope>-" followed by the escaped id and
// ".json".  With an empty permID it yields the prefix shared by every
// payload of scope.
func (b basename) encode() string {
	var sb strings.Builder
	const prefix = "jobtrail-1-"
	sb.WriteString(prefix)
	sb.WriteString(escape(b.scope))
	sb.WriteRune('-')
	if b.permID == "" {
		return sb.String()
	}
	sb.WriteString(escape(b.permID))
	sb.WriteString(".json")
	return sb.String()
}

func mkdir(dir string) error {
	if err := os.MkdirAll(dir, dirFileMode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func mkdirfarm(path string, depth int) error {
	if err := mkdir(path); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}

	for i := 0; i < len(pathFarm16); i++ {
		path := filepath.Join(path, pathFarm16[i:i+1])
		if err := mkdirfarm(path, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func fingerprint(b []byte) uint32 {
	hash := fnv.New32a()
	hash.Write(b)
	return hash.Sum32()
}

func pathParts(id string) []string {
	fp := fingerprint([]byte(id))
	nibble1 := fp & 0xf
	nibble2 := (fp >> 4) & 0xf
	return []string{pathFarm16[nibble1 : nibble1+1], pathFarm16[nibble2 : nibble2+1]}
}

func (a *Archive) makePath(accountID, id string) path {
	return path{
		root: a.path,
		dirs: pathParts(id),
		base: basename{scope: accountID, permID: id}.encode(),
	}
}
