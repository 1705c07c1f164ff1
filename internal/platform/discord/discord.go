// Package discord implements membership checks and direct-message delivery
// against the Discord REST API.
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/notify"
)

// DefaultBaseURL is the versioned Discord REST endpoint.
const DefaultBaseURL = "https://discord.com/api/v10"

const (
	maxRetries       = 4
	maxRetryAfter    = 30 * time.Second
	requestTimeout   = 15 * time.Second
	codeCannotDMUser = 50007
)

// Config holds what the adapter needs to reach one guild.
type Config struct {
	Token   string
	GuildID string
	BaseURL string
}

// Client talks to the Discord REST API on behalf of a bot user.
type Client struct {
	http    *resty.Client
	guildID string
	log     *zap.Logger
	backoff func() backoff.BackOff
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	if strings.TrimSpace(cfg.GuildID) == "" {
		return nil, errors.New("discord guild id is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}

	c := resty.New().
		SetBaseURL(base).
		SetTimeout(requestTimeout).
		SetAuthScheme("Bot").
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "DiscordBot (https://github.com/kalambet/emobot, 1.0)")

	return &Client{
		http:    c,
		guildID: cfg.GuildID,
		log:     logger.WithFields(log, logger.FieldComponent, "discord"),
		backoff: func() backoff.BackOff {
			exp := backoff.NewExponentialBackOff()
			exp.InitialInterval = 500 * time.Millisecond
			exp.MaxInterval = 10 * time.Second
			return backoff.WithMaxRetries(exp, maxRetries)
		},
	}, nil
}

type user struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

type member struct {
	User user   `json:"user"`
	Nick string `json:"nick"`
}

// displayName follows the client's precedence: guild nickname, global
// display name, then username.
func (m member) displayName() string {
	for _, n := range []string{m.Nick, m.User.GlobalName, m.User.Username} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

type apiError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
}

// StatusError is a non-success Discord response.
type StatusError struct {
	Status  int
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("discord: status %d", e.Status)
	}
	return fmt.Sprintf("discord: status %d (code %d): %s", e.Status, e.Code, e.Message)
}

// do runs one request with retries on rate limiting and server errors.
// Other failures are returned without retrying.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	op := func() error {
		req := c.http.R().SetContext(ctx).ForceContentType("application/json")
		if body != nil {
			req.SetBody(body)
		}
		if result != nil {
			req.SetResult(result)
		}

		resp, err := req.Execute(method, path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return fmt.Errorf("discord %s %s: %w", method, path, err)
		}
		if resp.IsSuccess() {
			return nil
		}

		var ae apiError
		_ = json.Unmarshal(resp.Body(), &ae)
		statusErr := &StatusError{Status: resp.StatusCode(), Code: ae.Code, Message: ae.Message}

		switch {
		case resp.StatusCode() == http.StatusTooManyRequests:
			wait := retryAfter(resp.Header().Get("Retry-After"), ae.RetryAfter)
			c.log.Debug("rate limited", zap.String("path", path), zap.Duration("retry_after", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
			return statusErr
		case resp.StatusCode() >= http.StatusInternalServerError:
			return statusErr
		default:
			return backoff.Permanent(statusErr)
		}
	}
	return backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
}

func retryAfter(header string, body float64) time.Duration {
	secs := body
	if secs <= 0 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(header), 64); err == nil {
			secs = v
		}
	}
	d := time.Duration(secs * float64(time.Second))
	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}

func statusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func (c *Client) getMember(ctx context.Context, identity string) (member, error) {
	var m member
	err := c.do(ctx, http.MethodGet, "/guilds/"+c.guildID+"/members/"+identity, nil, &m)
	return m, err
}

// IsMember reports whether identity still belongs to the guild.
func (c *Client) IsMember(ctx context.Context, identity string) (bool, error) {
	_, err := c.getMember(ctx, identity)
	switch {
	case err == nil:
		return true, nil
	case statusOf(err) == http.StatusNotFound:
		return false, nil
	default:
		return false, err
	}
}

// Resolve finds the guild member and opens a DM channel with them. The
// returned recipient ID is the DM channel.
func (c *Client) Resolve(ctx context.Context, identity string) (notify.Recipient, error) {
	m, err := c.getMember(ctx, identity)
	if err != nil {
		return notify.Recipient{}, c.classify(identity, err)
	}
	if m.User.Bot {
		return notify.Recipient{}, fmt.Errorf("member %s is a bot: %w", identity, notify.ErrUnreachable)
	}

	var ch struct {
		ID string `json:"id"`
	}
	err = c.do(ctx, http.MethodPost, "/users/@me/channels", map[string]string{"recipient_id": identity}, &ch)
	if err != nil {
		return notify.Recipient{}, c.classify(identity, err)
	}
	return notify.Recipient{ID: ch.ID, DisplayName: m.displayName()}, nil
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
}

type createMessage struct {
	Embeds []embed `json:"embeds"`
}

// Send delivers msg as an embed to the DM channel in to.ID.
func (c *Client) Send(ctx context.Context, to notify.Recipient, msg notify.Message) error {
	e := embed{Title: msg.Title, Description: msg.Description, Color: msg.Color}
	for _, f := range msg.Fields {
		e.Fields = append(e.Fields, embedField{Name: f.Name, Value: f.Value})
	}
	err := c.do(ctx, http.MethodPost, "/channels/"+to.ID+"/messages", createMessage{Embeds: []embed{e}}, nil)
	if err != nil {
		return c.classify(to.ID, err)
	}
	return nil
}

// classify maps "gone" and "forbidden" responses to notify.ErrUnreachable.
func (c *Client) classify(target string, err error) error {
	var se *StatusError
	if errors.As(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusForbidden || se.Code == codeCannotDMUser) {
		return fmt.Errorf("%s: %w: %w", target, notify.ErrUnreachable, err)
	}
	return err
}
