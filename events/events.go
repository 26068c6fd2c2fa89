package events

import (
	"strings"

	"git.sr.ht/~delthas/ircsync/irc"
)

// Kind names an event on the dispatcher.
type Kind string

// Kinds derived from a message's verb.
const (
	KindJoin      Kind = "join"
	KindPart      Kind = "part"
	KindQuit      Kind = "quit"
	KindKick      Kind = "kick"
	KindNick      Kind = "nick"
	KindModeSet   Kind = "+mode"
	KindModeUnset Kind = "-mode"
)

// Raw kinds, one per verb: the payload is the irc.Message itself.
const (
	KindExtJoin     Kind = "irc-join"
	KindAccount     Kind = "irc-account"
	KindTopic       Kind = "irc-" + irc.RplTopic
	KindTopicChange Kind = "irc-topic"
	KindWhoReply    Kind = "irc-" + irc.RplWhoreply
	KindWhoxReply   Kind = "irc-" + irc.RplWhospecialreply
	KindWhoEnd      Kind = "irc-" + irc.RplEndofwho
	KindChannelMode Kind = "irc-" + irc.RplChannelmodeis
	KindNamesReply  Kind = "irc-" + irc.RplNamreply
	KindNamesEnd    Kind = "irc-" + irc.RplEndofnames
)

// Kinds emitted by handlers rather than read off the wire.
const (
	KindSyncDone         Kind = "sync-done"
	KindTopicChanged     Kind = "topic-changed"
	KindNetworkAvailable Kind = "netid-available"
	KindPluginRegistered Kind = "plugin-registered"
)

// Raw returns the kind under which every message with this verb is
// emitted.
func Raw(verb string) Kind {
	return Kind("irc-" + strings.ToLower(verb))
}

type Join struct {
	Msg     irc.Message
	User    *irc.Prefix
	Channel string
}

type Part struct {
	Msg     irc.Message
	User    *irc.Prefix
	Channel string
	Reason  string
}

type Quit struct {
	Msg    irc.Message
	User   *irc.Prefix
	Reason string
}

type Kick struct {
	Msg     irc.Message
	Kicker  *irc.Prefix
	Kickee  string
	Channel string
	Reason  string
}

type Nick struct {
	Msg     irc.Message
	User    *irc.Prefix
	NewNick string
}

// ModeChange is a single channel mode change. A MODE message changing
// several modes yields one event per change.
type ModeChange struct {
	Msg     irc.Message
	User    *irc.Prefix
	Channel string
	Mode    byte
	Arg     string
}

// NetworkAvailable is emitted once a connection has registered and knows
// its network.
type NetworkAvailable struct {
	Conn irc.Conn
}

type PluginRegistered struct {
	Name string
}
