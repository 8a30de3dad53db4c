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

// Command jobtrail tracks job applications from recruiting mail.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/matta/jobtrail/internal/account"
	"github.com/matta/jobtrail/internal/archive"
	"github.com/matta/jobtrail/internal/config"
	"github.com/matta/jobtrail/internal/extract"
	"github.com/matta/jobtrail/internal/gmail"
	"github.com/matta/jobtrail/internal/llm"
	"github.com/matta/jobtrail/internal/persist"
	"github.com/matta/jobtrail/internal/tracehttp"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

var (
	flagConfig string
	flagMock   bool

	v = config.New()
)

var rootCmd = &cobra.Command{
	Use:           "jobtrail",
	Short:         "Track job applications from recruiting mail",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $HOME/.jobtrail.yaml)")
	rootCmd.PersistentFlags().BoolVar(&flagMock, "mock", false, "use the offline demo data set")
	rootCmd.PersistentFlags().Bool("trace", false, "log HTTP requests and responses")
	v.BindPFlag("trace", rootCmd.PersistentFlags().Lookup("trace"))
}

// env is everything a command needs, built once per invocation.
type env struct {
	cfg       *config.Config
	mode      persist.Mode
	db        *persist.DB
	state     *persist.State
	gmail     *gmail.Service
	engine    *extract.Engine
	archive   *archive.Archive
	oauth     *oauth2.Config
	refresher account.Refresher
	transport http.RoundTripper
	secrets   config.SecretStore
	now       func() time.Time
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load(v, flagConfig)
	if err != nil {
		return nil, err
	}
	mode, err := persist.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if flagMock {
		mode = persist.ModeMock
	}

	e := &env{cfg: cfg, mode: mode, now: time.Now}

	e.transport = http.DefaultTransport
	if cfg.Trace {
		e.transport = tracehttp.Wrap(e.transport)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, errors.Wrapf(err, "creating data directory %q", cfg.DataDir)
	}
	e.db, err = persist.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize database")
	}
	e.state, err = e.db.Load(ctx, mode)
	if err != nil {
		e.db.Close()
		return nil, errors.Wrap(err, "unable to load saved state")
	}

	e.archive, err = archive.New(cfg.ArchiveDir())
	if err != nil {
		e.db.Close()
		return nil, err
	}

	e.gmail = gmail.New(gmail.Config{Endpoint: cfg.Gmail.Endpoint, Transport: e.transport})

	e.secrets, err = config.OpenKeyring(cfg.DataDir)
	if err != nil {
		log.Printf("keyring unavailable: %v", err)
		e.secrets = nil
	}

	// The credential is resolved once here and passed down.
	var model extract.Model
	client, err := llm.New(llm.Config{
		APIKey:    config.ResolveAPIKey(cfg, e.secrets),
		Model:     cfg.AI.Model,
		Endpoint:  cfg.AI.Endpoint,
		Transport: e.transport,
	})
	switch {
	case err == nil:
		model = client
	case errors.Is(err, llm.ErrNoCredential):
		log.Print("no AI API key configured; using heuristic extraction")
	default:
		e.db.Close()
		return nil, err
	}
	e.engine = extract.New(model)

	if cfg.OAuth.ClientID != "" {
		e.oauth = account.NewOAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret)
		e.oauth.RedirectURL = cfg.OAuth.RedirectURL
		e.refresher = account.OAuthRefresher{Config: e.oauth}
	}
	return e, nil
}

// oauthContext makes the oauth2 package use the (possibly traced)
// transport for token exchanges and refreshes.
func (e *env) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: e.transport})
}

func (e *env) save(ctx context.Context) error {
	return errors.Wrap(e.db.Save(ctx, e.mode, e.state), "unable to save state")
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		log.Printf("closing database: %v", err)
	}
}

// withEnv adapts a command body that needs an env.  When mutates is
// set, state is saved after a successful run.
func withEnv(mutates bool, fn func(ctx context.Context, e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.close()
		if err := fn(ctx, e, cmd, args); err != nil {
			return err
		}
		if mutates {
			return e.save(ctx)
		}
		return nil
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Failed: %v\n", err)
	}
}
