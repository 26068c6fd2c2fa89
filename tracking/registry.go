package tracking

import (
	"fmt"
	"sort"
	"strings"

	"git.sr.ht/~delthas/ircsync/irc"
)

// Membership is a (nick, channel) pair, both casemapped. The set of
// memberships of a registry is the only source of truth for who is on
// which channel.
type Membership struct {
	Nick    string
	Channel string
}

// Registry stores the users, channels and memberships of one network.
// It is not safe for concurrent use: it belongs to the goroutine handling
// the network's messages.
type Registry struct {
	netID   string
	casemap func(string) string

	users      map[string]*User
	channels   map[string]*Channel
	membership map[Membership]struct{}

	// Indices over membership, updated with it.
	byNick    map[string]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

// NewRegistry returns an empty registry. casemap defaults to RFC 1459
// casemapping when nil.
func NewRegistry(netID string, casemap func(string) string) *Registry {
	if casemap == nil {
		casemap = irc.CasemapRFC1459
	}
	return &Registry{
		netID:      netID,
		casemap:    casemap,
		users:      map[string]*User{},
		channels:   map[string]*Channel{},
		membership: map[Membership]struct{}{},
		byNick:     map[string]map[string]struct{}{},
		byChannel:  map[string]map[string]struct{}{},
	}
}

func (r *Registry) NetID() string {
	return r.netID
}

func (r *Registry) Casemap(name string) string {
	return r.casemap(name)
}

// GetOrCreateUser returns the user designated by a nick or a full
// hostmask, creating it if needed. A stored placeholder is resolved in
// place when a full hostmask is given. Names containing a dot are servers:
// their user is returned but not stored.
func (r *Registry) GetOrCreateUser(hostmaskOrNick string) *User {
	p := irc.ParsePrefix(hostmaskOrNick)
	if p == nil {
		p = &irc.Prefix{}
	}
	nickCf := r.casemap(p.Name)

	if u, ok := r.users[nickCf]; ok {
		if p.Full() {
			u.Resolve(p.User, p.Host)
		}
		return u
	}

	if p.Full() {
		u := &User{
			Nick:     p.Name,
			Identity: Resolved{Ident: p.User, Host: p.Host},
			NetID:    r.netID,
		}
		r.users[nickCf] = u
		return u
	}

	if strings.Contains(p.Name, ".") {
		return &User{
			Nick:     p.Name,
			Identity: Resolved{Ident: p.Name, Host: p.Name},
			NetID:    r.netID,
			Server:   true,
		}
	}

	u := &User{
		Nick:     p.Name,
		Identity: Placeholder{},
		NetID:    r.netID,
	}
	r.users[nickCf] = u
	return u
}

// GetOrCreateChannel returns the channel, creating it if needed.
func (r *Registry) GetOrCreateChannel(name string) *Channel {
	nameCf := r.casemap(name)
	if c, ok := r.channels[nameCf]; ok {
		return c
	}
	c := newChannel(name, r.netID)
	r.channels[nameCf] = c
	return c
}

func (r *Registry) LookupUser(nick string) (*User, bool) {
	u, ok := r.users[r.casemap(nick)]
	return u, ok
}

func (r *Registry) LookupChannel(name string) (*Channel, bool) {
	c, ok := r.channels[r.casemap(name)]
	return c, ok
}

// Users returns the stored users sorted by casemapped nick.
func (r *Registry) Users() []*User {
	keys := make([]string, 0, len(r.users))
	for k := range r.users {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	users := make([]*User, len(keys))
	for i, k := range keys {
		users[i] = r.users[k]
	}
	return users
}

// Channels returns the channels sorted by casemapped name.
func (r *Registry) Channels() []*Channel {
	keys := make([]string, 0, len(r.channels))
	for k := range r.channels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	channels := make([]*Channel, len(keys))
	for i, k := range keys {
		channels[i] = r.channels[k]
	}
	return channels
}

// Memberships returns a sorted copy of the membership set.
func (r *Registry) Memberships() []Membership {
	ms := make([]Membership, 0, len(r.membership))
	for m := range r.membership {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Nick != ms[j].Nick {
			return ms[i].Nick < ms[j].Nick
		}
		return ms[i].Channel < ms[j].Channel
	})
	return ms
}

func (r *Registry) IsMember(nick, channel string) bool {
	_, ok := r.membership[Membership{Nick: r.casemap(nick), Channel: r.casemap(channel)}]
	return ok
}

// UserChannels returns the channels nick is on, sorted by name.
func (r *Registry) UserChannels(nick string) []*Channel {
	keys := sortedKeys(r.byNick[r.casemap(nick)])
	channels := make([]*Channel, 0, len(keys))
	for _, k := range keys {
		channels = append(channels, r.channels[k])
	}
	return channels
}

// ChannelUsers returns the users on a channel, sorted by nick.
func (r *Registry) ChannelUsers(channel string) []*User {
	keys := sortedKeys(r.byChannel[r.casemap(channel)])
	users := make([]*User, 0, len(keys))
	for _, k := range keys {
		users = append(users, r.users[k])
	}
	return users
}

// AddMembership records that nick is on channel. Both must be known.
func (r *Registry) AddMembership(nick, channel string) error {
	m := Membership{Nick: r.casemap(nick), Channel: r.casemap(channel)}
	if _, ok := r.users[m.Nick]; !ok {
		return &LookupError{Op: "add membership", Nick: nick, Channel: channel}
	}
	if _, ok := r.channels[m.Channel]; !ok {
		return &LookupError{Op: "add membership", Nick: nick, Channel: channel}
	}
	r.insert(m)
	return nil
}

// RemoveMembership reports whether nick was on channel.
func (r *Registry) RemoveMembership(nick, channel string) bool {
	m := Membership{Nick: r.casemap(nick), Channel: r.casemap(channel)}
	if _, ok := r.membership[m]; !ok {
		return false
	}
	r.delete(m)
	if c, ok := r.channels[m.Channel]; ok {
		c.dropFlags(m.Nick)
	}
	return true
}

// RemoveUser deletes a user and all its memberships. It returns the
// channels the user was on.
func (r *Registry) RemoveUser(nick string) ([]*Channel, error) {
	nickCf := r.casemap(nick)
	if _, ok := r.users[nickCf]; !ok {
		return nil, &LookupError{Op: "remove user", Nick: nick}
	}
	channels := r.UserChannels(nick)
	for _, c := range channels {
		m := Membership{Nick: nickCf, Channel: r.casemap(c.Name)}
		r.delete(m)
		c.dropFlags(nickCf)
	}
	delete(r.users, nickCf)
	return channels, nil
}

// RenameUser moves a user to a new nick in a single step: the users map
// entry, every membership and every status flag follow it, and the old
// nick is appended to its history.
func (r *Registry) RenameUser(oldNick, newNick string) (*User, error) {
	oldCf := r.casemap(oldNick)
	newCf := r.casemap(newNick)
	u, ok := r.users[oldCf]
	if !ok {
		return nil, &LookupError{Op: "rename user", Nick: oldNick}
	}

	u.PreviousNicks = append(u.PreviousNicks, u.Nick)
	u.Nick = newNick
	if oldCf == newCf {
		return u, nil
	}

	if stale, ok := r.users[newCf]; ok {
		// the server gave the nick away: whoever we had under it is gone
		if _, err := r.RemoveUser(stale.Nick); err != nil {
			return nil, err
		}
	}

	delete(r.users, oldCf)
	r.users[newCf] = u

	for channelCf := range r.byNick[oldCf] {
		r.delete(Membership{Nick: oldCf, Channel: channelCf})
		r.insert(Membership{Nick: newCf, Channel: channelCf})
	}
	for _, c := range r.channels {
		c.renameFlags(oldCf, newCf)
	}
	return u, nil
}

// clearChannel forgets the members of a channel and their statuses.
func (r *Registry) clearChannel(name string) {
	nameCf := r.casemap(name)
	for nickCf := range r.byChannel[nameCf] {
		r.delete(Membership{Nick: nickCf, Channel: nameCf})
	}
	if c, ok := r.channels[nameCf]; ok {
		c.Flags = map[byte]map[string]struct{}{}
	}
}

// CheckConsistency verifies that the indices match the membership set
// and that every membership refers to a stored user and channel.
func (r *Registry) CheckConsistency() error {
	byNick := map[string]map[string]struct{}{}
	byChannel := map[string]map[string]struct{}{}
	for m := range r.membership {
		if _, ok := r.users[m.Nick]; !ok {
			return fmt.Errorf("membership %v: unknown user", m)
		}
		if _, ok := r.channels[m.Channel]; !ok {
			return fmt.Errorf("membership %v: unknown channel", m)
		}
		addIndex(byNick, m.Nick, m.Channel)
		addIndex(byChannel, m.Channel, m.Nick)
	}
	if err := compareIndex("nick", byNick, r.byNick); err != nil {
		return err
	}
	return compareIndex("channel", byChannel, r.byChannel)
}

func (r *Registry) insert(m Membership) {
	r.membership[m] = struct{}{}
	addIndex(r.byNick, m.Nick, m.Channel)
	addIndex(r.byChannel, m.Channel, m.Nick)
}

func (r *Registry) delete(m Membership) {
	delete(r.membership, m)
	removeIndex(r.byNick, m.Nick, m.Channel)
	removeIndex(r.byChannel, m.Channel, m.Nick)
}

func addIndex(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		set = map[string]struct{}{}
		index[key] = set
	}
	set[value] = struct{}{}
}

func removeIndex(index map[string]map[string]struct{}, key, value string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, value)
	if len(set) == 0 {
		delete(index, key)
	}
}

func compareIndex(name string, want, got map[string]map[string]struct{}) error {
	if len(want) != len(got) {
		return fmt.Errorf("%s index has %d keys, membership has %d", name, len(got), len(want))
	}
	for k, set := range want {
		if len(got[k]) != len(set) {
			return fmt.Errorf("%s index for %q has %d entries, membership has %d", name, k, len(got[k]), len(set))
		}
		for v := range set {
			if _, ok := got[k][v]; !ok {
				return fmt.Errorf("%s index for %q lacks %q", name, k, v)
			}
		}
	}
	return nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
