// Package platformtest is an in-memory platform.Platform for tests.
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nukeguard/internal/platform"
)

// SentNotice is a notice delivered to a channel.
type SentNotice struct {
	Message platform.Message
	Notice  platform.Notice
}

type guild struct {
	community platform.Community
	roles     map[string]*platform.Role
	members   map[string]*platform.Member
	channels  map[string]*platform.Channel
	audit     []platform.AuditEntry
	kicked    []string
	banned    []string
}

// Fake keeps guild state in memory. Every method is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	selfID  string
	guilds  map[string]*guild
	seq     int
	errs    map[string]error
	notices []SentNotice
	deleted []platform.Message
	calls   map[string]int
}

func New(selfID string) *Fake {
	return &Fake{
		selfID: selfID,
		guilds: make(map[string]*guild),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

// AddCommunity registers a guild and its default role.
func (f *Fake) AddCommunity(id, name, ownerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := &guild{
		community: platform.Community{ID: id, Name: name, OwnerID: ownerID},
		roles:     make(map[string]*platform.Role),
		members:   make(map[string]*platform.Member),
		channels:  make(map[string]*platform.Channel),
	}
	g.roles[id] = &platform.Role{ID: id, Name: "@everyone", Permissions: 0x400}
	f.guilds[id] = g
}

func (f *Fake) AddRole(communityID string, role platform.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := role
	f.guilds[communityID].roles[role.ID] = &r
}

// DeleteRole removes a role from the guild and from every member.
func (f *Fake) DeleteRole(communityID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.guilds[communityID]
	delete(g.roles, roleID)
	for _, m := range g.members {
		m.Roles = without(m.Roles, roleID)
	}
}

// AddMember registers a member. The default role is implied and need not
// be listed in roles.
func (f *Fake) AddMember(communityID string, m platform.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := m
	cp.Roles = append([]string(nil), m.Roles...)
	f.guilds[communityID].members[m.UserID] = &cp
}

// GrantRole adds a role to a member directly, bypassing error injection.
func (f *Fake) GrantRole(communityID, userID, roleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.guilds[communityID].members[userID]
	if !contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
}

func (f *Fake) AddChannel(communityID string, ch platform.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := ch
	f.guilds[communityID].channels[ch.ID] = &c
}

// AddAuditEntry prepends an entry so it is returned first.
func (f *Fake) AddAuditEntry(communityID string, e platform.AuditEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.guilds[communityID]
	g.audit = append([]platform.AuditEntry{e}, g.audit...)
}

// FailOn makes the named method return err until cleared with a nil err.
func (f *Fake) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// Calls returns how many times method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// MemberRoles returns a sorted copy of a member's roles.
func (f *Fake) MemberRoles(communityID, userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.guilds[communityID].members[userID]
	if !ok {
		return nil
	}
	roles := append([]string(nil), m.Roles...)
	sort.Strings(roles)
	return roles
}

func (f *Fake) Role(communityID, roleID string) (platform.Role, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.guilds[communityID].roles[roleID]
	if !ok {
		return platform.Role{}, false
	}
	return *r, true
}

// RoleByName returns the first role with name.
func (f *Fake) RoleByName(communityID, name string) (platform.Role, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.guilds[communityID].roles {
		if r.Name == name {
			return *r, true
		}
	}
	return platform.Role{}, false
}

func (f *Fake) ChannelsNamed(communityID, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.guilds[communityID].channels {
		if c.Name == name {
			n++
		}
	}
	return n
}

func (f *Fake) Notices() []SentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentNotice(nil), f.notices...)
}

func (f *Fake) DeletedMessages() []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Message(nil), f.deleted...)
}

func (f *Fake) Kicked(communityID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.guilds[communityID].kicked...)
}

func (f *Fake) Banned(communityID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.guilds[communityID].banned...)
}

// enter records the call and returns the injected error, if any. Caller
// must hold f.mu.
func (f *Fake) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *Fake) guild(id string) (*guild, error) {
	g, ok := f.guilds[id]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", id, platform.ErrNotFound)
	}
	return g, nil
}

func (f *Fake) nextID() string {
	f.seq++
	return fmt.Sprintf("fake-%d", f.seq)
}

func (f *Fake) SelfID() string {
	return f.selfID
}

func (f *Fake) Community(ctx context.Context, communityID string) (*platform.Community, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Community"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	c := g.community
	return &c, nil
}

func (f *Fake) Member(ctx context.Context, communityID, userID string) (*platform.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Member"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	m, ok := g.members[userID]
	if !ok {
		return nil, fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	cp := *m
	cp.Roles = append([]string(nil), m.Roles...)
	return &cp, nil
}

func (f *Fake) Roles(ctx context.Context, communityID string) ([]*platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Roles"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	roles := make([]*platform.Role, 0, len(g.roles))
	for _, r := range g.roles {
		cp := *r
		roles = append(roles, &cp)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

func (f *Fake) CreateRole(ctx context.Context, communityID, name string, permissions int64, reason string) (*platform.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateRole"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	r := &platform.Role{ID: f.nextID(), Name: name, Permissions: permissions}
	g.roles[r.ID] = r
	cp := *r
	return &cp, nil
}

func (f *Fake) EditRolePermissions(ctx context.Context, communityID, roleID string, permissions int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("EditRolePermissions"); err != nil {
		return err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return err
	}
	r, ok := g.roles[roleID]
	if !ok {
		return fmt.Errorf("role %s: %w", roleID, platform.ErrNotFound)
	}
	r.Permissions = permissions
	return nil
}

func (f *Fake) AddMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddMemberRole"); err != nil {
		return err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return err
	}
	m, ok := g.members[userID]
	if !ok {
		return fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	if _, ok := g.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, platform.ErrNotFound)
	}
	if !contains(m.Roles, roleID) {
		m.Roles = append(m.Roles, roleID)
	}
	return nil
}

func (f *Fake) RemoveMemberRole(ctx context.Context, communityID, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RemoveMemberRole"); err != nil {
		return err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return err
	}
	m, ok := g.members[userID]
	if !ok {
		return fmt.Errorf("member %s: %w", userID, platform.ErrNotFound)
	}
	m.Roles = without(m.Roles, roleID)
	return nil
}

func (f *Fake) Kick(ctx context.Context, communityID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Kick"); err != nil {
		return err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return err
	}
	delete(g.members, userID)
	g.kicked = append(g.kicked, userID)
	return nil
}

func (f *Fake) Ban(ctx context.Context, communityID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Ban"); err != nil {
		return err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return err
	}
	delete(g.members, userID)
	g.banned = append(g.banned, userID)
	return nil
}

func (f *Fake) AuditLog(ctx context.Context, communityID string, kind platform.AuditKind, limit int) ([]platform.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AuditLog"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	var out []platform.AuditEntry
	for _, e := range g.audit {
		if e.Kind != kind {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *Fake) Channels(ctx context.Context, communityID string) ([]*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Channels"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	chans := make([]*platform.Channel, 0, len(g.channels))
	for _, c := range g.channels {
		cp := *c
		chans = append(chans, &cp)
	}
	sort.Slice(chans, func(i, j int) bool { return chans[i].ID < chans[j].ID })
	return chans, nil
}

func (f *Fake) CreatePrivateChannel(ctx context.Context, communityID, name string) (*platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreatePrivateChannel"); err != nil {
		return nil, err
	}
	g, err := f.guild(communityID)
	if err != nil {
		return nil, err
	}
	c := &platform.Channel{ID: f.nextID(), Name: name}
	g.channels[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *Fake) SendNotice(ctx context.Context, channelID string, n platform.Notice) (*platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SendNotice"); err != nil {
		return nil, err
	}
	msg := platform.Message{ChannelID: channelID, ID: f.nextID()}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	f.notices = append(f.notices, SentNotice{Message: msg, Notice: n})
	return &msg, nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteMessage"); err != nil {
		return err
	}
	f.deleted = append(f.deleted, platform.Message{ChannelID: channelID, ID: messageID})
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

var _ platform.Platform = (*Fake)(nil)
