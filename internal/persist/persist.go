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

// Package persist stores the tracker's collections in SQLite.  Each
// collection (applications, messages, accounts) is serialized as one
// JSON document per mode, so mock and real data never mix.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/message"
	"github.com/matta/jobtrail/internal/tracker"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Mode selects which data set is read and written.
type Mode string

const (
	ModeReal Mode = "real"
	ModeMock Mode = "mock"
)

// ParseMode maps a config value to a Mode.  The empty string is real.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeReal:
		return ModeReal, nil
	case ModeMock:
		return ModeMock, nil
	}
	return "", errors.Errorf("unknown mode %q (want %q or %q)", s, ModeReal, ModeMock)
}

const (
	collectionApplications = "applications"
	collectionMessages     = "messages"
	collectionAccounts     = "accounts"
)

var (
	createTableSql = []string{
		// The collections table holds one serialized collection per
		// (mode, name) pair.
		//
		// Field: mode
		//
		//   "real" or "mock".
		//
		// Field: name
		//
		//   One of "applications", "messages" or "accounts".
		//
		// Field: data
		//
		//   The collection as a JSON array.
		//
		// Field: updated_at
		//
		//   Unix milliseconds of the last write.
		`
CREATE TABLE IF NOT EXISTS collections (
mode TEXT NOT NULL,
name TEXT NOT NULL,
data TEXT NOT NULL,
updated_at INTEGER NOT NULL,
PRIMARY KEY (mode, name)
);`,
	}
)

type DB struct {
	db  *sql.DB
	now func() time.Time
}

type Tx struct {
	tx   *sql.Tx
	mode Mode
	now  func() time.Time
}

// State is every collection for one mode.
type State struct {
	Applications []tracker.JobApplication
	Messages     []message.InboundMessage
	Accounts     []account.ConnectedAccount
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  A CLI invocation and
	// a long scan can overlap, so wait up to a minute.
	var busyTimeout = int(time.Minute / time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Printf("opening database at %q", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}
	// Each connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db: db, now: time.Now}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Begin starts a transaction over the collections of mode.
func (db *DB) Begin(ctx context.Context, mode Mode) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx: tx, mode: mode, now: db.now}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}
	return nil
}

func (tx *Tx) load(ctx context.Context, name string, out interface{}) error {
	const q = `SELECT data FROM collections WHERE mode = $1 AND name = $2`
	var data string
	err := tx.tx.QueryRowContext(ctx, q, string(tx.mode), name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil // a non-error; the collection is empty
	}
	if err != nil {
		return errors.Wrapf(err, "db load of %s/%s failed", tx.mode, name)
	}
	if err := json.Unmarshal([]byte(data), out); err != nil {
		return errors.Wrapf(err, "corrupt %s/%s collection", tx.mode, name)
	}
	return nil
}

func (tx *Tx) save(ctx context.Context, name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", name)
	}
	const q = `INSERT INTO collections (mode, name, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (mode, name)
		DO UPDATE SET (data, updated_at) = ($3, $4)`
	if _, err := tx.tx.ExecContext(ctx, q, string(tx.mode), name, string(data), tx.now().UnixMilli()); err != nil {
		return errors.Wrapf(err, "db save of %s/%s failed", tx.mode, name)
	}
	return nil
}

func (tx *Tx) Applications(ctx context.Context) ([]tracker.JobApplication, error) {
	var apps []tracker.JobApplication
	err := tx.load(ctx, collectionApplications, &apps)
	return apps, err
}

func (tx *Tx) Messages(ctx context.Context) ([]message.InboundMessage, error) {
	var msgs []message.InboundMessage
	err := tx.load(ctx, collectionMessages, &msgs)
	return msgs, err
}

func (tx *Tx) Accounts(ctx context.Context) ([]account.ConnectedAccount, error) {
	var accounts []account.ConnectedAccount
	err := tx.load(ctx, collectionAccounts, &accounts)
	return accounts, err
}

func (tx *Tx) SaveApplications(ctx context.Context, apps []tracker.JobApplication) error {
	if apps == nil {
		apps = []tracker.JobApplication{}
	}
	return tx.save(ctx, collectionApplications, apps)
}

func (tx *Tx) SaveMessages(ctx context.Context, msgs []message.InboundMessage) error {
	if msgs == nil {
		msgs = []message.InboundMessage{}
	}
	return tx.save(ctx, collectionMessages, msgs)
}

func (tx *Tx) SaveAccounts(ctx context.Context, accounts []account.ConnectedAccount) error {
	if accounts == nil {
		accounts = []account.ConnectedAccount{}
	}
	return tx.save(ctx, collectionAccounts, accounts)
}

// Load reads every collection for mode.
func (db *DB) Load(ctx context.Context, mode Mode) (*State, error) {
	tx, err := db.Begin(ctx, mode)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	st := &State{}
	if st.Applications, err = tx.Applications(ctx); err != nil {
		return nil, err
	}
	if st.Messages, err = tx.Messages(ctx); err != nil {
		return nil, err
	}
	if st.Accounts, err = tx.Accounts(ctx); err != nil {
		return nil, err
	}
	return st, nil
}

// Save writes every collection of st for mode in one transaction.
func (db *DB) Save(ctx context.Context, mode Mode, st *State) error {
	tx, err := db.Begin(ctx, mode)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.SaveApplications(ctx, st.Applications); err != nil {
		return err
	}
	if err := tx.SaveMessages(ctx, st.Messages); err != nil {
		return err
	}
	if err := tx.SaveAccounts(ctx, st.Accounts); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed")
}
