package events

import (
	"errors"
	"fmt"
	"strings"

	"git.sr.ht/~delthas/ircsync/irc"
)

// ErrNoSource is returned for user-originated verbs lacking a source.
var ErrNoSource = errors.New("events: message has no source")

const (
	defaultChanTypes = "#&"
	defaultChanModes = "beI,k,l,imnpst"
)

// Event is a kind with its payload, ready to be emitted.
type Event struct {
	Kind    Kind
	Payload any
}

func feature(conn irc.Conn, key, def string) string {
	if conn == nil {
		return def
	}
	if v, ok := conn.Feature(key); ok {
		return v
	}
	return def
}

// IsChannel reports whether name is a channel according to conn's
// CHANTYPES.
func IsChannel(conn irc.Conn, name string) bool {
	chantypes := feature(conn, "CHANTYPES", defaultChanTypes)
	return name != "" && strings.IndexByte(chantypes, name[0]) >= 0
}

// Prefixes returns the membership mode mapping advertised by conn.
func Prefixes(conn irc.Conn) irc.PrefixMapping {
	m, err := irc.ParsePrefixMapping(feature(conn, "PREFIX", irc.DefaultPrefixes))
	if err != nil {
		m, _ = irc.ParsePrefixMapping(irc.DefaultPrefixes)
	}
	return m
}

// FromMessage turns a message into the events it stands for: the derived
// events of its verb first, then its raw event.
func FromMessage(msg irc.Message) ([]Event, error) {
	var evs []Event
	var err error
	switch msg.Command {
	case "JOIN":
		evs, err = joinEvents(msg)
	case "PART":
		evs, err = partEvents(msg)
	case "QUIT":
		evs, err = quitEvents(msg)
	case "KICK":
		evs, err = kickEvents(msg)
	case "NICK":
		evs, err = nickEvents(msg)
	case "MODE":
		evs, err = modeEvents(msg)
	}
	if err != nil {
		return nil, err
	}
	return append(evs, Event{Kind: Raw(msg.Command), Payload: msg}), nil
}

func source(msg irc.Message) (*irc.Prefix, error) {
	p := msg.Prefix()
	if p == nil {
		return nil, fmt.Errorf("%s: %w", msg.Command, ErrNoSource)
	}
	return p, nil
}

func joinEvents(msg irc.Message) ([]Event, error) {
	var channels string
	if err := msg.ParseParams(&channels); err != nil {
		return nil, err
	}
	user, err := source(msg)
	if err != nil {
		return nil, err
	}
	var evs []Event
	for _, channel := range strings.Split(channels, ",") {
		evs = append(evs, Event{Kind: KindJoin, Payload: Join{
			Msg:     msg,
			User:    user,
			Channel: channel,
		}})
	}
	return evs, nil
}

func partEvents(msg irc.Message) ([]Event, error) {
	var channels, reason string
	if err := msg.ParseParams(&channels); err != nil {
		return nil, err
	}
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	user, err := source(msg)
	if err != nil {
		return nil, err
	}
	var evs []Event
	for _, channel := range strings.Split(channels, ",") {
		evs = append(evs, Event{Kind: KindPart, Payload: Part{
			Msg:     msg,
			User:    user,
			Channel: channel,
			Reason:  reason,
		}})
	}
	return evs, nil
}

func quitEvents(msg irc.Message) ([]Event, error) {
	var reason string
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}
	user, err := source(msg)
	if err != nil {
		return nil, err
	}
	return []Event{{Kind: KindQuit, Payload: Quit{
		Msg:    msg,
		User:   user,
		Reason: reason,
	}}}, nil
}

func kickEvents(msg irc.Message) ([]Event, error) {
	var channel, nick, reason string
	if err := msg.ParseParams(&channel, &nick); err != nil {
		return nil, err
	}
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}
	kicker, err := source(msg)
	if err != nil {
		return nil, err
	}
	return []Event{{Kind: KindKick, Payload: Kick{
		Msg:     msg,
		Kicker:  kicker,
		Kickee:  nick,
		Channel: channel,
		Reason:  reason,
	}}}, nil
}

func nickEvents(msg irc.Message) ([]Event, error) {
	var nick string
	if err := msg.ParseParams(&nick); err != nil {
		return nil, err
	}
	user, err := source(msg)
	if err != nil {
		return nil, err
	}
	return []Event{{Kind: KindNick, Payload: Nick{
		Msg:     msg,
		User:    user,
		NewNick: nick,
	}}}, nil
}

func modeEvents(msg irc.Message) ([]Event, error) {
	var target, mode string
	if err := msg.ParseParams(&target, &mode); err != nil {
		return nil, err
	}
	if !IsChannel(msg.Conn, target) {
		// user modes are not tracked
		return nil, nil
	}

	chanmodes := irc.ParseChanModes(feature(msg.Conn, "CHANMODES", defaultChanModes))
	prefixes := Prefixes(msg.Conn)
	changes, err := irc.ParseChannelMode(mode, msg.Params[2:], chanmodes, prefixes.Modes)
	if err != nil {
		return nil, err
	}

	// servers may set modes without a source
	user := msg.Prefix()
	evs := make([]Event, 0, len(changes))
	for _, change := range changes {
		kind := KindModeSet
		if !change.Enable {
			kind = KindModeUnset
		}
		evs = append(evs, Event{Kind: kind, Payload: ModeChange{
			Msg:     msg,
			User:    user,
			Channel: target,
			Mode:    change.Mode,
			Arg:     change.Param,
		}})
	}
	return evs, nil
}
