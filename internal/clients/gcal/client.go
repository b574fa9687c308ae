// Package gcal mirrors events onto a Google Calendar.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tazhate/calmirror/internal/reconcile"
	"github.com/tazhate/calmirror/internal/translate"
)

const (
	// TokenName is the key of the Google credentials in the credential store.
	TokenName = "google"
	// identityProperty is the private extended property carrying the feed identity.
	identityProperty = "calmirrorIdentity"
)

// ErrNoCredentials is returned when no token has been stored yet.
var ErrNoCredentials = errors.New("no stored google credentials, run `calmirror auth`")

// CredentialStore keeps the OAuth token across runs.
type CredentialStore interface {
	LoadToken(ctx context.Context, name string) (*oauth2.Token, error)
	SaveToken(ctx context.Context, name string, tok *oauth2.Token) error
}

// OAuthConfig returns the OAuth client configuration for calendar access.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarEventsScope},
	}
}

// Exchange trades an authorization code for a token and stores it.
func Exchange(ctx context.Context, cfg *oauth2.Config, store CredentialStore, code string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}
	return store.SaveToken(ctx, TokenName, tok)
}

// Client is a Google Calendar client bound to one calendar.
type Client struct {
	service    *calendar.Service
	calendarID string
}

// New creates a client authenticated with the stored token. Refreshed tokens
// are written back to store.
func New(ctx context.Context, cfg *oauth2.Config, store CredentialStore, calendarID string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tok, err := store.LoadToken(ctx, TokenName)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, ErrNoCredentials
	}

	ts := &savingTokenSource{
		base:   oauth2.ReuseTokenSource(tok, cfg.TokenSource(context.Background(), tok)),
		store:  store,
		last:   tok.AccessToken,
		logger: logger,
	}
	return NewWithHTTPClient(ctx, oauth2.NewClient(context.Background(), ts), calendarID)
}

// NewWithHTTPClient creates a client on top of an already authenticated HTTP
// client. Extra options (such as an endpoint override) are passed to the API.
func NewWithHTTPClient(ctx context.Context, httpClient *http.Client, calendarID string, opts ...option.ClientOption) (*Client, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &Client{service: service, calendarID: calendarID}, nil
}

// CreateEvent inserts body and returns the new event id.
func (c *Client) CreateEvent(ctx context.Context, body translate.Body) (string, error) {
	created, err := c.service.Events.Insert(c.calendarID, toEvent(body)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert event: %w", remoteError(err))
	}
	return created.Id, nil
}

// UpdateEvent replaces the event with the given id.
func (c *Client) UpdateEvent(ctx context.Context, id string, body translate.Body) error {
	if _, err := c.service.Events.Update(c.calendarID, id, toEvent(body)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("update event: %w", remoteError(err))
	}
	return nil
}

// DeleteEvent deletes the event with the given id.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	if err := c.service.Events.Delete(c.calendarID, id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete event: %w", remoteError(err))
	}
	return nil
}

// remoteError maps "not found" and "gone" responses onto reconcile.ErrRemoteGone.
func remoteError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound, http.StatusGone:
			return reconcile.ErrRemoteGone
		}
	}
	return err
}

func toEvent(body translate.Body) *calendar.Event {
	return &calendar.Event{
		Summary:      body.Summary,
		Description:  body.Description,
		Location:     body.Location,
		Start:        toDateTime(body.Start),
		End:          toDateTime(body.End),
		Status:       body.Status,
		Transparency: body.Transparency,
		Recurrence:   body.Recurrence,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{identityProperty: body.Identity},
		},
	}
}

func toDateTime(dt translate.DateTime) *calendar.EventDateTime {
	if dt.Date != "" {
		return &calendar.EventDateTime{Date: dt.Date}
	}
	return &calendar.EventDateTime{DateTime: dt.DateTime, TimeZone: dt.TimeZone}
}

// savingTokenSource stores every token it has not seen before.
type savingTokenSource struct {
	base   oauth2.TokenSource
	store  CredentialStore
	logger *zap.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.SaveToken(context.Background(), TokenName, tok); err != nil {
			s.logger.Warn("failed to save refreshed token", zap.Error(err))
		} else {
			s.last = tok.AccessToken
			s.logger.Info("refreshed google token saved", zap.Time("expiry", tok.Expiry))
		}
	}
	return tok, nil
}
