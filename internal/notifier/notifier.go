package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"nukeguard/internal/dispatcher"
	"nukeguard/internal/logging"
	"nukeguard/internal/platform"
)

type Kind int

const (
	// KindRestricted is a principal quarantined by rate detection.
	KindRestricted Kind = iota
	// KindBotQuarantined is an automated account demoted on join.
	KindBotQuarantined
)

func (k Kind) subject() dispatcher.Subject {
	if k == KindBotQuarantined {
		return dispatcher.SubjectBot
	}
	return dispatcher.SubjectUser
}

// Incident describes what happened to a principal.
type Incident struct {
	ID            string
	Kind          Kind
	CommunityID   string
	CommunityName string
	PrincipalID   string
	PrincipalName string
	AvatarURL     string
	Reason        string
	// Groupings lists the roles affected, shown for bot demotions.
	Groupings []string
	At        time.Time
}

const (
	colorRestricted = 0xED4245
	colorBot        = 0xFEE75C
)

// Notifier posts incidents to a private audit channel, creating the channel
// on first use.
type Notifier struct {
	api         platform.ChannelAPI
	channelName string
	webhook     *Webhook

	mu       sync.Mutex
	channels map[string]string
	group    singleflight.Group
}

func New(api platform.ChannelAPI, channelName string, webhook *Webhook) *Notifier {
	return &Notifier{
		api:         api,
		channelName: channelName,
		webhook:     webhook,
		channels:    make(map[string]string),
	}
}

// Publish sends the incident with its four controls and returns the message
// handle. A cached channel that has since been deleted is recreated once.
func (n *Notifier) Publish(ctx context.Context, inc Incident) (*platform.Message, error) {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.At.IsZero() {
		inc.At = time.Now()
	}

	notice := BuildNotice(inc)

	msg, err := n.send(ctx, inc.CommunityID, notice)
	if errors.Is(err, platform.ErrNotFound) {
		n.forget(inc.CommunityID)
		msg, err = n.send(ctx, inc.CommunityID, notice)
	}
	if err != nil {
		return nil, fmt.Errorf("publish incident %s: %w", inc.ID, err)
	}

	if n.webhook != nil {
		if werr := n.webhook.Post(ctx, plainText(inc)); werr != nil {
			logging.Warn("webhook mirror for incident %s failed: %v", inc.ID, werr)
		}
	}

	return msg, nil
}

func (n *Notifier) send(ctx context.Context, communityID string, notice platform.Notice) (*platform.Message, error) {
	channelID, err := n.EnsureChannel(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return n.api.SendNotice(ctx, channelID, notice)
}

// EnsureChannel resolves the audit channel by name, creating it hidden from
// the default role when missing. Concurrent callers for one community share
// a single lookup.
func (n *Notifier) EnsureChannel(ctx context.Context, communityID string) (string, error) {
	n.mu.Lock()
	id, ok := n.channels[communityID]
	n.mu.Unlock()
	if ok {
		return id, nil
	}

	v, err, _ := n.group.Do(communityID, func() (interface{}, error) {
		id, err := n.resolveChannel(ctx, communityID)
		if err != nil {
			return "", err
		}
		if id == "" {
			ch, err := n.api.CreatePrivateChannel(ctx, communityID, n.channelName)
			if err != nil {
				// another process may have created it meanwhile
				if again, rerr := n.resolveChannel(ctx, communityID); rerr == nil && again != "" {
					id = again
				} else {
					return "", fmt.Errorf("create audit channel: %w", err)
				}
			} else {
				id = ch.ID
				logging.Info("created audit channel #%s (%s) in %s", n.channelName, id, communityID)
			}
		}

		n.mu.Lock()
		n.channels[communityID] = id
		n.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (n *Notifier) resolveChannel(ctx context.Context, communityID string) (string, error) {
	chans, err := n.api.Channels(ctx, communityID)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	for _, c := range chans {
		if c.Name == n.channelName {
			return c.ID, nil
		}
	}
	return "", nil
}

func (n *Notifier) forget(communityID string) {
	n.mu.Lock()
	delete(n.channels, communityID)
	n.mu.Unlock()
}

// Delete removes a notice once one of its controls was used.
func (n *Notifier) Delete(ctx context.Context, channelID, messageID string) error {
	if channelID == "" || messageID == "" {
		return nil
	}
	err := n.api.DeleteMessage(ctx, channelID, messageID)
	if errors.Is(err, platform.ErrNotFound) {
		return nil
	}
	return err
}

// BuildNotice renders an incident as a platform notice.
func BuildNotice(inc Incident) platform.Notice {
	title := "User Restricted"
	color := colorRestricted
	if inc.Kind == KindBotQuarantined {
		title = "Bot Quarantined"
		color = colorBot
	}

	principal := inc.PrincipalName
	if principal == "" {
		principal = inc.PrincipalID
	}
	community := inc.CommunityName
	if community == "" {
		community = inc.CommunityID
	}

	fields := []platform.Field{
		{Name: "User", Value: fmt.Sprintf("<@%s>", inc.PrincipalID), Inline: true},
		{Name: "User ID", Value: inc.PrincipalID, Inline: true},
		{Name: "Server", Value: community, Inline: true},
		{Name: "Server ID", Value: inc.CommunityID, Inline: true},
		{Name: "Reason", Value: inc.Reason, Inline: false},
	}
	if len(inc.Groupings) > 0 {
		roles := make([]string, len(inc.Groupings))
		for i, r := range inc.Groupings {
			roles[i] = fmt.Sprintf("<@&%s>", r)
		}
		fields = append(fields, platform.Field{Name: "Roles Stripped", Value: strings.Join(roles, " "), Inline: false})
	}
	fields = append(fields, platform.Field{Name: "Incident", Value: inc.ID, Inline: false})

	subject := inc.Kind.subject()
	control := func(a dispatcher.Action) string {
		return dispatcher.Command{Action: a, Subject: subject, Community: inc.CommunityID, Principal: inc.PrincipalID}.CustomID()
	}

	restoreLabel := "Restore User"
	if inc.Kind == KindBotQuarantined {
		restoreLabel = "Restore Bot"
	}

	return platform.Notice{
		Title:       title,
		Description: fmt.Sprintf("**%s** was placed in the restricted state.", principal),
		Color:       color,
		Fields:      fields,
		Footer:      principal,
		FooterIcon:  inc.AvatarURL,
		Timestamp:   inc.At,
		Actions: []platform.Action{
			{Label: restoreLabel, CustomID: control(dispatcher.ActionRestore), Style: platform.StyleSuccess},
			{Label: "Kick", CustomID: control(dispatcher.ActionKick), Style: platform.StyleSecondary},
			{Label: "Ban", CustomID: control(dispatcher.ActionBan), Style: platform.StyleDanger},
			{Label: "Dismiss", CustomID: control(dispatcher.ActionDismiss), Style: platform.StylePrimary},
		},
	}
}

func plainText(inc Incident) string {
	label := "restricted"
	if inc.Kind == KindBotQuarantined {
		label = "bot quarantined"
	}
	return fmt.Sprintf("[%s] %s (%s) in %s (%s): %s [incident %s]",
		label, inc.PrincipalName, inc.PrincipalID, inc.CommunityName, inc.CommunityID, inc.Reason, inc.ID)
}
