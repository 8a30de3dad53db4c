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
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/matta/jobtrail/internal/gmailhttp"
	"github.com/matta/jobtrail/internal/message"

	"github.com/emersion/go-message/mail"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ReadonlyScope = gmail_api.GmailReadonlyScope
	ModifyScope   = gmail_api.GmailModifyScope
	SendScope     = gmail_api.GmailSendScope

	// DefaultLimit is the listing size used when the caller passes
	// none.  The relevance query is broad, so it is generous.
	DefaultLimit = 50

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsMessagesList    = 5
	quotaUnitsMessagesTrash   = 5
	quotaUnitsMessagesSend    = 100
	quotaUnitsGetProfile      = 1
	quotaUnitsPerSecond       = 250
	rateLimitPerSecond        = quotaUnitsPerSecond * 0.8
	rateLimitBurst            = quotaUnitsPerSecond + quotaUnitsMessagesSend
	syntheticTokenPrefix      = "mock_"
	replyMetadataMessageIDHdr = "Message-ID"
)

var (
	ErrMessageNotFound = errors.New("gmail message not found")
)

// IsSyntheticToken reports whether token belongs to a demo/offline
// session.  Such tokens never reach the network.
func IsSyntheticToken(token string) bool {
	return strings.HasPrefix(token, syntheticTokenPrefix)
}

// Config controls how a Service reaches the Gmail API.
type Config struct {
	// Endpoint overrides the API base URL, e.g. for a test server.
	Endpoint string

	// Transport is the base round tripper beneath the bearer token
	// transport.  Nil means http.DefaultTransport.
	Transport http.RoundTripper
}

// Service provides access to a Gmail mailbox on behalf of whichever
// connected account supplies the bearer token.
type Service struct {
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a Service.  The rate limiter is shared by every account
// the Service serves.
func New(cfg Config) *Service {
	return &Service{
		cfg:     cfg,
		limiter: rate.NewLimiter(rateLimitPerSecond, rateLimitBurst),
		now:     time.Now,
	}
}

func (s *Service) api(ctx context.Context, token string) (*gmail_api.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(gmailhttp.New(token, s.cfg.Transport))}
	if s.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.cfg.Endpoint))
	}
	svc, err := gmail_api.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize Gmail API client")
	}
	return svc, nil
}

// FetchMessages lists messages matching the relevance query for window
// and fetches each one concurrently.  A message that fails to fetch or
// normalize is logged and left out; only the listing call can fail the
// batch.  An error response from the API is returned as a *SessionError;
// a transport failure with no response is returned wrapped as is.  The
// result order does not follow the listing order.
func (s *Service) FetchMessages(ctx context.Context, token, accountID string, limit int64, window Window) ([]message.InboundMessage, error) {
	if IsSyntheticToken(token) {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	svc, err := s.api(ctx, token)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesList); err != nil {
		return nil, err
	}
	q := BuildQuery(window)
	list, err := svc.Users.Messages.List("me").Q(q).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return nil, classifyListError(err)
	}
	log.Printf("listed Gmail messages for account %s; window %s; count %d", accountID, window, len(list.Messages))

	found := make([]*message.InboundMessage, len(list.Messages))
	var grp errgroup.Group
	for i, ref := range list.Messages {
		if ref == nil || ref.Id == "" {
			continue
		}
		i, id := i, ref.Id
		grp.Go(func() error {
			msg, err := s.getMessage(ctx, svc, id)
			if err != nil {
				log.Printf("skipping Gmail message %s: %v", id, err)
				return nil
			}
			found[i] = Normalize(msg, accountID)
			return nil
		})
	}
	// Every task swallows its own failure, so Wait only joins.
	_ = grp.Wait()

	out := make([]message.InboundMessage, 0, len(found))
	for _, m := range found {
		if m != nil {
			out = append(out, *m)
		}
	}
	log.Printf("fetched %d of %d Gmail messages for account %s", len(out), len(list.Messages), accountID)
	return out, nil
}

func isChat(msg *gmail_api.Message) bool {
	return hasLabel(msg.LabelIds, "CHAT")
}

func (s *Service) getMessage(ctx context.Context, svc *gmail_api.Service, id string) (*gmail_api.Message, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return nil, err
	}
	msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err == nil && isChat(msg) {
		err = ErrMessageNotFound
	}
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			err = ErrMessageNotFound
		}
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	return msg, nil
}

// Profile returns the mailbox address token belongs to.
func (s *Service) Profile(ctx context.Context, token string) (string, error) {
	svc, err := s.api(ctx, token)
	if err != nil {
		return "", err
	}
	if err := s.limiter.WaitN(ctx, quotaUnitsGetProfile); err != nil {
		return "", err
	}
	p, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", classifyListError(err)
	}
	return p.EmailAddress, nil
}

// Trash moves a message to the mailbox's trash.
func (s *Service) Trash(ctx context.Context, token, id string) error {
	if IsSyntheticToken(token) {
		return nil
	}
	svc, err := s.api(ctx, token)
	if err != nil {
		return err
	}
	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesTrash); err != nil {
		return err
	}
	if _, err := svc.Users.Messages.Trash("me", id).Context(ctx).Do(); err != nil {
		return errors.Wrapf(err, "trashing message %v", id)
	}
	return nil
}

// Reply sends body as a plain-text reply to original, in the same
// thread.  It returns the id of the sent message.  Sends are never
// retried.
func (s *Service) Reply(ctx context.Context, token string, original *message.InboundMessage, body string) (string, error) {
	if IsSyntheticToken(token) {
		return "", nil
	}
	svc, err := s.api(ctx, token)
	if err != nil {
		return "", err
	}

	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
		return "", err
	}
	meta, err := svc.Users.Messages.Get("me", original.ID).Format("metadata").
		MetadataHeaders(replyMetadataMessageIDHdr, "Subject").Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "getting original message %v", original.ID)
	}
	var msgID string
	if meta.Payload != nil {
		msgID = header(meta.Payload.Headers, replyMetadataMessageIDHdr)
	}

	raw, err := composeReply(original, msgID, body, s.now())
	if err != nil {
		return "", err
	}

	if err := s.limiter.WaitN(ctx, quotaUnitsMessagesSend); err != nil {
		return "", err
	}
	sent, err := svc.Users.Messages.Send("me", &gmail_api.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		ThreadId: meta.ThreadId,
	}).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrapf(err, "sending reply to %v", original.ID)
	}
	return sent.Id, nil
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// composeReply renders an RFC 5322 message answering original.
// messageID is the original's Message-ID header and may be empty.
func composeReply(original *message.InboundMessage, messageID, body string, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	to := &mail.Address{Address: original.SenderEmail}
	if original.SenderName != original.SenderEmail {
		to.Name = original.SenderName
	}
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(replySubject(original.Subject))
	if messageID != "" {
		h.Set("In-Reply-To", messageID)
		h.Set("References", messageID)
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, errors.Wrap(err, "creating reply writer")
	}
	if _, err := io.WriteString(w, body); err != nil {
		return nil, errors.Wrap(err, "writing reply body")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing reply writer")
	}
	return buf.Bytes(), nil
}
