// Package notify delivers match notifications to both parties of a match
// through a chat platform.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/emobot/internal/logger"
	"github.com/kalambet/emobot/internal/matching"
	"github.com/kalambet/emobot/internal/metrics"
	"github.com/kalambet/emobot/internal/profile"
)

// ErrUnreachable marks a recipient that cannot be resolved or does not accept
// direct messages.
var ErrUnreachable = errors.New("recipient unreachable")

const (
	matchTitle = "🎉 You have a new match!"
	matchColor = 0x00ff00
)

// Recipient is a resolved, addressable member.
type Recipient struct {
	ID          string
	DisplayName string
}

// Field is a named block of a notification.
type Field struct {
	Name  string
	Value string
}

// Message is a platform-neutral rich notification.
type Message struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
}

// Platform resolves identities and delivers direct messages.
type Platform interface {
	// Resolve returns the recipient for identity, or an error wrapping
	// ErrUnreachable when the identity is no longer a reachable member.
	Resolve(ctx context.Context, identity string) (Recipient, error)
	Send(ctx context.Context, to Recipient, msg Message) error
}

// Notifier tells both parties of each match about it.
type Notifier struct {
	platform Platform
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func New(platform Platform, log *zap.Logger, m *metrics.Metrics) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		platform: platform,
		log:      logger.WithFields(log, logger.FieldComponent, "notifier"),
		metrics:  m,
	}
}

// Notify sends a message to subject and to every matched member. Pairs with
// an unresolvable party are skipped; a failed delivery to one party does not
// prevent delivery to the other. It returns the number of messages delivered.
func (n *Notifier) Notify(ctx context.Context, subject profile.Profile, matches []matching.Match) int {
	if len(matches) == 0 {
		return 0
	}
	log := n.log.With(zap.String(logger.FieldIdentity, subject.Identity))

	self, err := n.platform.Resolve(ctx, subject.Identity)
	if err != nil {
		n.skip(log, subject.Identity, err)
		return 0
	}

	delivered := 0
	for _, m := range matches {
		if ctx.Err() != nil {
			break
		}
		other, err := n.platform.Resolve(ctx, m.Profile.Identity)
		if err != nil {
			n.skip(log, m.Profile.Identity, err)
			continue
		}

		common := matching.Overlap(subject, m.Profile)
		if n.send(ctx, log, self, Compose(m.Score, displayName(other, m.Profile), common)) {
			delivered++
		}
		if n.send(ctx, log, other, Compose(m.Score, displayName(self, subject), common)) {
			delivered++
		}
	}
	return delivered
}

func (n *Notifier) skip(log *zap.Logger, identity string, err error) {
	n.metrics.Notification(metrics.DeliveryUnreachable)
	level := log.Debug
	if !errors.Is(err, ErrUnreachable) {
		level = log.Warn
	}
	level("skipping match notification", zap.String("party", identity), zap.Error(err))
}

func (n *Notifier) send(ctx context.Context, log *zap.Logger, to Recipient, msg Message) bool {
	err := n.platform.Send(ctx, to, msg)
	switch {
	case err == nil:
		n.metrics.Notification(metrics.DeliverySent)
		return true
	case errors.Is(err, ErrUnreachable):
		n.metrics.Notification(metrics.DeliveryUnreachable)
		log.Info("recipient does not accept direct messages", zap.String("recipient", to.ID), zap.Error(err))
	default:
		n.metrics.Notification(metrics.DeliveryFailed)
		log.Warn("match notification failed", zap.String("recipient", to.ID), zap.Error(err))
	}
	return false
}

func displayName(r Recipient, p profile.Profile) string {
	if name := strings.TrimSpace(r.DisplayName); name != "" {
		return name
	}
	return p.Name()
}

// Compose builds the notification for a member matched with otherName.
func Compose(score float64, otherName string, common profile.Categories) Message {
	msg := Message{
		Title:       matchTitle,
		Description: fmt.Sprintf("You have %.1f%% similarity with %s!", score*100, otherName),
		Color:       matchColor,
	}
	for _, c := range profile.AllCategories {
		items := common.List(c)
		if len(items) == 0 {
			continue
		}
		msg.Fields = append(msg.Fields, Field{
			Name:  "Common " + c.Title(),
			Value: strings.Join(items, ", "),
		})
	}
	return msg
}
