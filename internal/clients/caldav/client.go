// Package caldav mirrors events onto a CalDAV calendar collection.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"

	"github.com/tazhate/calmirror/internal/reconcile"
	"github.com/tazhate/calmirror/internal/translate"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	productID = "-//calmirror//CalDAV//EN"
)

// Calendar is a calendar collection found on the server.
type Calendar struct {
	Path        string
	DisplayName string
}

// Client is a CalDAV client bound to one calendar collection.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	timeout      time.Duration

	mu     sync.Mutex
	client *caldav.Client
	now    func() time.Time
}

// NewClient creates a new CalDAV client
func NewClient(baseURL, username, password, calendarPath string) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	return &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		timeout:      30 * time.Second,
		now:          time.Now,
	}
}

// IsConfigured returns true if the client has credentials
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// connect establishes connection to CalDAV server
func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: c.timeout,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

// basicAuthTransport adds Basic Auth to HTTP requests
type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// DiscoverCalendars returns all calendars of the user
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{Path: cal.Path, DisplayName: cal.Name})
	}
	return result, nil
}

// CreateEvent stores body as a new calendar object and returns its path.
// The object name is derived from the event identity, so re-creating the
// same identity overwrites the same object.
func (c *Client) CreateEvent(ctx context.Context, body translate.Body) (string, error) {
	if c.calendarPath == "" {
		return "", fmt.Errorf("calendar path not specified")
	}
	path := c.objectPath(body.Identity)
	if err := c.put(ctx, path, body); err != nil {
		return "", fmt.Errorf("create event: %w", err)
	}
	return path, nil
}

// UpdateEvent replaces the object at path. For CalDAV, update is the same as
// create (PUT replaces).
func (c *Client) UpdateEvent(ctx context.Context, path string, body translate.Body) error {
	if err := c.put(ctx, path, body); err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// DeleteEvent removes the object at path.
func (c *Client) DeleteEvent(ctx context.Context, path string) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	if err := client.RemoveAll(ctx, path); err != nil {
		if isNotFound(err) {
			return reconcile.ErrRemoteGone
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

func (c *Client) put(ctx context.Context, path string, body translate.Body) error {
	client, err := c.connect()
	if err != nil {
		return err
	}
	cal, err := c.encode(body)
	if err != nil {
		return err
	}
	if _, err := client.PutCalendarObject(ctx, path, cal); err != nil {
		return err
	}
	return nil
}

func (c *Client) objectPath(identity string) string {
	path := c.calendarPath
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + objectUID(identity) + ".ics"
}

// objectUID maps an identity onto a stable, path-safe UID.
func objectUID(identity string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("calmirror:"+identity)).String()
}

// isNotFound reports a 404 or 410 answer from the server. go-webdav keeps its
// status error type internal; its message always starts with the code and
// status text. Transport failures never count, whatever their URL contains.
func isNotFound(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "404 ") || strings.HasPrefix(msg, "410 ")
}
