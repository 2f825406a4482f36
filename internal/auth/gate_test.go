package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nukeguard/internal/platform"
	"nukeguard/internal/platform/platformtest"
)

type memAllowList map[string]bool

func (m memAllowList) IsAllowListed(_ context.Context, communityID, principalID string) (bool, error) {
	return m[communityID+"/"+principalID], nil
}

func newGate(t *testing.T) (*Gate, *platformtest.Fake) {
	t.Helper()
	fake := platformtest.New("self")
	fake.AddCommunity("g1", "Guild", "owner")

	now := time.Now()
	fake.AddMember("g1", platform.Member{UserID: "owner"})
	fake.AddMember("g1", platform.Member{UserID: "mod"})
	fake.AddMember("g1", platform.Member{UserID: "user"})
	fake.AddMember("g1", platform.Member{UserID: "oldbot", Bot: true, JoinedAt: now.Add(-48 * time.Hour)})
	fake.AddMember("g1", platform.Member{UserID: "newbot", Bot: true, JoinedAt: now.Add(-time.Minute)})
	fake.AddMember("g1", platform.Member{UserID: "listedbot", Bot: true, JoinedAt: now.Add(-48 * time.Hour)})

	allow := memAllowList{"g1/mod": true, "g1/listedbot": true}
	return NewGate(fake, allow, 10*time.Minute), fake
}

func TestIsExempt(t *testing.T) {
	ctx := context.Background()
	gate, _ := newGate(t)

	cases := []struct {
		principal string
		exempt    bool
	}{
		{"self", true},
		{"owner", true},
		{"mod", true},
		{"listedbot", true},
		{"oldbot", true},
		{"newbot", false},
		{"user", false},
		{"departed", false},
	}

	for _, tc := range cases {
		t.Run(tc.principal, func(t *testing.T) {
			exempt, err := gate.IsExempt(ctx, Subject{Community: "g1", Principal: tc.principal})
			require.NoError(t, err)
			assert.Equal(t, tc.exempt, exempt)
		})
	}
}

func TestIsExemptPropagatesLookupErrors(t *testing.T) {
	gate, fake := newGate(t)
	fake.FailOn("Community", errors.New("gateway timeout"))

	_, err := gate.IsExempt(context.Background(), Subject{Community: "g1", Principal: "user"})
	assert.Error(t, err)
}

func TestIsExemptMemberLookupError(t *testing.T) {
	gate, fake := newGate(t)
	fake.FailOn("Member", errors.New("gateway timeout"))

	_, err := gate.IsExempt(context.Background(), Subject{Community: "g1", Principal: "oldbot"})
	assert.Error(t, err)

	exempt, err := gate.IsExempt(context.Background(), Subject{Community: "g1", Principal: "owner"})
	require.NoError(t, err)
	assert.True(t, exempt, "owner is decided without a member lookup")
}

func TestCanManage(t *testing.T) {
	ctx := context.Background()
	gate, _ := newGate(t)

	ok, err := gate.CanManage(ctx, Subject{Community: "g1", Principal: "owner"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CanManage(ctx, Subject{Community: "g1", Principal: "oldbot"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsNewAutomatedAccount(t *testing.T) {
	gate, _ := newGate(t)
	gate.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	assert.True(t, gate.IsNewAutomatedAccount(&platform.Member{Bot: true, JoinedAt: time.Date(2023, 12, 31, 23, 55, 0, 0, time.UTC)}))
	assert.False(t, gate.IsNewAutomatedAccount(&platform.Member{Bot: true, JoinedAt: time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC)}))
	assert.False(t, gate.IsNewAutomatedAccount(&platform.Member{Bot: false}))
}
