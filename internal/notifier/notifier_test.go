package notifier

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"nukeguard/internal/dispatcher"
	"nukeguard/internal/platform"
	"nukeguard/internal/platform/platformtest"
)

func newFake() *platformtest.Fake {
	fake := platformtest.New("self")
	fake.AddCommunity("g1", "Guild One", "owner")
	return fake
}

func TestPublishCreatesChannelOnce(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	n := New(fake, "logs-restrictions", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := n.Publish(ctx, Incident{CommunityID: "g1", PrincipalID: "u1", Reason: "bans limit exceeded"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fake.ChannelsNamed("g1", "logs-restrictions"))
	assert.Equal(t, 1, fake.Calls("CreatePrivateChannel"))
	assert.Len(t, fake.Notices(), 8)
}

func TestPublishReusesExistingChannel(t *testing.T) {
	fake := newFake()
	fake.AddChannel("g1", platform.Channel{ID: "c9", Name: "logs-restrictions"})
	n := New(fake, "logs-restrictions", nil)

	msg, err := n.Publish(context.Background(), Incident{CommunityID: "g1", PrincipalID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "c9", msg.ChannelID)
	assert.Zero(t, fake.Calls("CreatePrivateChannel"))
}

func TestCreateRaceResolvesByName(t *testing.T) {
	fake := newFake()
	fake.FailOn("CreatePrivateChannel", errors.New("already exists"))
	n := New(fake, "logs-restrictions", nil)

	// simulates the channel appearing between the lookup and the create
	_, err := n.EnsureChannel(context.Background(), "g1")
	assert.Error(t, err)

	fake.AddChannel("g1", platform.Channel{ID: "c1", Name: "logs-restrictions"})
	id, err := n.EnsureChannel(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestNoticeCarriesFourControls(t *testing.T) {
	inc := Incident{
		ID:            "inc-1",
		Kind:          KindRestricted,
		CommunityID:   "g1",
		CommunityName: "Guild One",
		PrincipalID:   "u1",
		PrincipalName: "mallory",
		Reason:        "channels_deleted limit exceeded",
		At:            time.Unix(1700000000, 0),
	}

	notice := BuildNotice(inc)
	assert.Equal(t, "User Restricted", notice.Title)
	require.Len(t, notice.Actions, 4)

	var actions []dispatcher.Action
	for _, a := range notice.Actions {
		cmd, err := dispatcher.ParseCustomID(a.CustomID)
		require.NoError(t, err)
		assert.Equal(t, dispatcher.SubjectUser, cmd.Subject)
		assert.Equal(t, "g1", cmd.Community)
		assert.Equal(t, "u1", cmd.Principal)
		actions = append(actions, cmd.Action)
	}
	assert.Equal(t, []dispatcher.Action{
		dispatcher.ActionRestore, dispatcher.ActionKick, dispatcher.ActionBan, dispatcher.ActionDismiss,
	}, actions)

	var names []string
	for _, f := range notice.Fields {
		names = append(names, f.Name)
	}
	assert.Subset(t, names, []string{"User ID", "Server", "Server ID", "Reason", "Incident"})
}

func TestBotNoticeUsesBotSubject(t *testing.T) {
	notice := BuildNotice(Incident{
		Kind:        KindBotQuarantined,
		CommunityID: "g1",
		PrincipalID: "b1",
		Groupings:   []string{"r1", "r2"},
	})

	assert.Equal(t, "Bot Quarantined", notice.Title)
	cmd, err := dispatcher.ParseCustomID(notice.Actions[0].CustomID)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.SubjectBot, cmd.Subject)
}

func TestPublishRecreatesDeletedChannel(t *testing.T) {
	ctx := context.Background()
	fake := newFake()
	n := New(fake, "logs-restrictions", nil)

	_, err := n.Publish(ctx, Incident{CommunityID: "g1", PrincipalID: "u1"})
	require.NoError(t, err)

	fake.FailOn("SendNotice", platform.ErrNotFound)
	_, err = n.Publish(ctx, Incident{CommunityID: "g1", PrincipalID: "u1"})
	assert.ErrorIs(t, err, platform.ErrNotFound)
	// the cache was dropped, so the next publish looks the channel up again
	fake.FailOn("SendNotice", nil)
	_, err = n.Publish(ctx, Incident{CommunityID: "g1", PrincipalID: "u1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fake.Calls("Channels"), 2)
}

func TestDeleteIgnoresMissingMessage(t *testing.T) {
	fake := newFake()
	n := New(fake, "logs-restrictions", nil)

	fake.FailOn("DeleteMessage", platform.ErrNotFound)
	assert.NoError(t, n.Delete(context.Background(), "c1", "m1"))
	assert.NoError(t, n.Delete(context.Background(), "", ""))
}

func TestWebhookMirror(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	bodies := make(chan string, 1)
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		bodies <- string(ctx.PostBody())
	}}
	go srv.Serve(ln)
	defer srv.Shutdown()

	hook := NewWebhook("http://"+ln.Addr().String(), dispatcher.NewHTTPPool(1, 2*time.Second))
	n := New(newFake(), "logs-restrictions", hook)

	_, err = n.Publish(context.Background(), Incident{
		ID: "inc-7", CommunityID: "g1", CommunityName: "Guild One", PrincipalID: "u1", PrincipalName: "mallory", Reason: "bans limit exceeded",
	})
	require.NoError(t, err)

	select {
	case body := <-bodies:
		assert.Contains(t, body, "mallory (u1)")
		assert.Contains(t, body, "incident inc-7")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestNewWebhookEmptyURL(t *testing.T) {
	assert.Nil(t, NewWebhook("", nil))
}
