package tracking

import (
	"sort"
	"strings"
)

// Identity is either Placeholder or Resolved.
type Identity interface {
	isIdentity()
}

// Placeholder is the identity of a user only known by nick so far.
type Placeholder struct{}

// Resolved is the identity of a user whose full hostmask was seen.
type Resolved struct {
	Ident string
	Host  string
}

func (Placeholder) isIdentity() {}
func (Resolved) isIdentity()    {}

// User is a known user of a network.
type User struct {
	Nick     string
	Identity Identity
	Account  string // "" if not logged in or unknown.
	NetID    string

	// PreviousNicks lists former nicks, oldest first.
	PreviousNicks []string

	// Server is set for server pseudo-users, which are never stored.
	Server bool
}

// Resolved reports whether the ident and host of u are known.
func (u *User) Resolved() bool {
	_, ok := u.Identity.(Resolved)
	return ok
}

// Resolve upgrades a placeholder to a resolved identity. It reports false
// and leaves u untouched if u is already resolved.
func (u *User) Resolve(ident, host string) bool {
	if u.Resolved() {
		return false
	}
	u.Identity = Resolved{Ident: ident, Host: host}
	return true
}

func (u *User) Ident() string {
	if id, ok := u.Identity.(Resolved); ok {
		return id.Ident
	}
	return ""
}

func (u *User) Host() string {
	if id, ok := u.Identity.(Resolved); ok {
		return id.Host
	}
	return ""
}

func (u *User) Hostmask() string {
	if id, ok := u.Identity.(Resolved); ok {
		return u.Nick + "!" + id.Ident + "@" + id.Host
	}
	return u.Nick
}

func (u *User) String() string {
	return "User " + u.Hostmask()
}

// SyncStep is a set of the replies a channel waits for after we join it.
type SyncStep uint8

const (
	SyncMode SyncStep = 1 << iota
	SyncWho
	SyncNames

	// SyncComplete is the state of a synchronized channel.
	SyncComplete = SyncMode | SyncWho | SyncNames
)

func (s SyncStep) Has(step SyncStep) bool {
	return s&step == step
}

func (s SyncStep) String() string {
	var steps []string
	if s.Has(SyncMode) {
		steps = append(steps, "mode")
	}
	if s.Has(SyncWho) {
		steps = append(steps, "who")
	}
	if s.Has(SyncNames) {
		steps = append(steps, "names")
	}
	return "{" + strings.Join(steps, ",") + "}"
}

// Channel is a known channel of a network. Channels are never removed from
// their registry.
type Channel struct {
	Name      string
	Available bool // whether we are on the channel.
	Mode      string
	Topic     string
	NetID     string
	SyncState SyncStep

	// Flags maps status symbols to the casemapped nicks holding them.
	Flags map[byte]map[string]struct{}

	synced bool // whether sync-done was emitted for this cycle.
}

func newChannel(name, netID string) *Channel {
	return &Channel{
		Name:  name,
		NetID: netID,
		Flags: map[byte]map[string]struct{}{},
	}
}

// Synced reports whether mode, who and names replies were all received
// since we last joined.
func (c *Channel) Synced() bool {
	return c.SyncState == SyncComplete
}

// HasFlag reports whether the casemapped nick holds the status symbol.
func (c *Channel) HasFlag(symbol byte, nickCf string) bool {
	_, ok := c.Flags[symbol][nickCf]
	return ok
}

func (c *Channel) addFlag(symbol byte, nickCf string) {
	nicks, ok := c.Flags[symbol]
	if !ok {
		nicks = map[string]struct{}{}
		c.Flags[symbol] = nicks
	}
	nicks[nickCf] = struct{}{}
}

func (c *Channel) removeFlag(symbol byte, nickCf string) {
	delete(c.Flags[symbol], nickCf)
}

// dropFlags removes every status of nickCf.
func (c *Channel) dropFlags(nickCf string) {
	for _, nicks := range c.Flags {
		delete(nicks, nickCf)
	}
}

func (c *Channel) renameFlags(oldCf, newCf string) {
	for _, nicks := range c.Flags {
		if _, ok := nicks[oldCf]; ok {
			delete(nicks, oldCf)
			nicks[newCf] = struct{}{}
		}
	}
}

// restartSync resets the barrier for a new sync cycle.
func (c *Channel) restartSync() {
	c.SyncState = 0
	c.synced = false
}

// FlagNicks returns the sorted nicks holding symbol.
func (c *Channel) FlagNicks(symbol byte) []string {
	nicks := make([]string, 0, len(c.Flags[symbol]))
	for nick := range c.Flags[symbol] {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	return nicks
}

func (c *Channel) String() string {
	return "Channel " + c.Name
}
