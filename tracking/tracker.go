package tracking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang/glog"

	"git.sr.ht/~delthas/ircsync/events"
	"git.sr.ht/~delthas/ircsync/irc"
)

// SyncDone is the payload of events.KindSyncDone.
type SyncDone struct {
	Channel *Channel
}

// TopicChanged is the payload of events.KindTopicChanged. User is nil when
// the topic was set without a source.
type TopicChanged struct {
	User    *User
	Channel *Channel
	Topic   string
}

// Tracker applies events of one network connection to its registry.
// Handlers run on the dispatcher's goroutine, one event at a time.
type Tracker struct {
	conn    irc.Conn
	bus     *events.Dispatcher
	metrics *Metrics
	reg     *Registry
}

func NewTracker(conn irc.Conn, bus *events.Dispatcher, metrics *Metrics) *Tracker {
	return &Tracker{
		conn:    conn,
		bus:     bus,
		metrics: metrics,
	}
}

// Registry returns the registry of the network, or nil before it became
// available.
func (t *Tracker) Registry() *Registry {
	return t.reg
}

// Register installs the tracker handlers on its dispatcher and announces
// itself with events.KindPluginRegistered.
func (t *Tracker) Register() error {
	on(t, events.KindNetworkAvailable, t.handleNetworkAvailable)

	on(t, events.KindJoin, t.handleJoin)
	on(t, events.KindPart, t.handlePart)
	on(t, events.KindQuit, t.handleQuit)
	on(t, events.KindKick, t.handleKick)
	on(t, events.KindNick, t.handleNick)
	on(t, events.KindModeSet, t.handleModeSet)
	on(t, events.KindModeUnset, t.handleModeUnset)

	on(t, events.KindExtJoin, t.handleExtJoin)
	on(t, events.KindAccount, t.handleAccount)
	on(t, events.KindTopic, t.handleTopic)
	on(t, events.KindTopicChange, t.handleTopicChange)
	on(t, events.KindWhoReply, t.handleWhoReply)
	on(t, events.KindWhoxReply, t.handleWhoxReply)
	on(t, events.KindWhoEnd, t.handleWhoEnd)
	on(t, events.KindChannelMode, t.handleChannelMode)
	on(t, events.KindNamesReply, t.handleNamesReply)
	on(t, events.KindNamesEnd, t.handleNamesEnd)

	return t.bus.Emit(events.KindPluginRegistered, events.PluginRegistered{Name: "tracking"})
}

func on[T any](t *Tracker, kind events.Kind, h func(T) error) {
	t.bus.On(kind, func(payload any) error {
		ev, ok := payload.(T)
		if !ok {
			return fmt.Errorf("tracking: unexpected payload %T", payload)
		}
		if t.reg == nil && kind != events.KindNetworkAvailable {
			return ErrNotAvailable
		}
		err := h(ev)
		t.metrics.observe(t.reg, string(kind), err)
		if err != nil {
			if errors.Is(err, ErrLookupInconsistency) {
				glog.Warningf("[track] %s: %s", kind, err)
			}
			return err
		}
		if glog.V(2) {
			glog.Infof("[track] %s applied", kind)
		}
		return nil
	})
}

func (t *Tracker) connOf(msg irc.Message) irc.Conn {
	if msg.Conn != nil {
		return msg.Conn
	}
	return t.conn
}

func (t *Tracker) isMe(conn irc.Conn, nick string) bool {
	return t.reg.Casemap(nick) == t.reg.Casemap(conn.Nick())
}

func (t *Tracker) handleNetworkAvailable(ev events.NetworkAvailable) error {
	conn := ev.Conn
	if conn == nil {
		conn = t.conn
	}
	casemapping, _ := conn.Feature("CASEMAPPING")
	t.conn = conn
	t.reg = NewRegistry(conn.NetID(), irc.Casemapping(casemapping))
	glog.Infof("[track] network %s available", conn.NetID())
	return nil
}

func (t *Tracker) handleJoin(ev events.Join) error {
	user := t.reg.GetOrCreateUser(ev.User.String())
	return t.join(t.connOf(ev.Msg), user, ev.Channel, true)
}

// join records user on channel. A JOIN of ours starts a new sync cycle;
// joins inferred from WHO replies never do.
func (t *Tracker) join(conn irc.Conn, user *User, channel string, fromJoin bool) error {
	c := t.reg.GetOrCreateChannel(channel)

	if fromJoin && t.isMe(conn, user.Nick) {
		t.reg.clearChannel(c.Name)
		c.restartSync()
		t.syncChannel(conn, c.Name)
		c.Available = true
	}

	return t.reg.AddMembership(user.Nick, c.Name)
}

// syncChannel requests what the sync barrier waits for. NAMES is sent by
// the server on its own after a JOIN.
func (t *Tracker) syncChannel(conn irc.Conn, channel string) {
	if _, ok := conn.Feature("WHOX"); ok {
		conn.WriteMessage(irc.NewMessage("WHO", channel, "%cnuha"))
	} else {
		conn.WriteMessage(irc.NewMessage("WHO", channel))
	}
	conn.WriteMessage(irc.NewMessage("MODE", channel))
}

func (t *Tracker) markSynced(c *Channel, step SyncStep) error {
	c.SyncState |= step
	if c.SyncState != SyncComplete || c.synced {
		return nil
	}
	c.synced = true
	t.metrics.synced(t.reg)
	glog.Infof("[track] %s synchronized on %s", c.Name, t.reg.netID)
	return t.bus.Emit(events.KindSyncDone, SyncDone{Channel: c})
}

func (t *Tracker) handleTopic(msg irc.Message) error {
	var channel, topic string
	if err := msg.ParseParams(nil, &channel, &topic); err != nil {
		return err
	}
	t.reg.GetOrCreateChannel(channel).Topic = topic
	return nil
}

func (t *Tracker) handleTopicChange(msg irc.Message) error {
	var channel, topic string
	if err := msg.ParseParams(&channel, &topic); err != nil {
		return err
	}
	c := t.reg.GetOrCreateChannel(channel)
	c.Topic = topic

	var user *User
	if msg.Source != "" {
		user = t.reg.GetOrCreateUser(msg.Source)
	}
	return t.bus.Emit(events.KindTopicChanged, TopicChanged{
		User:    user,
		Channel: c,
		Topic:   topic,
	})
}

func (t *Tracker) handleWhoxReply(msg irc.Message) error {
	// we request "%cnuha"
	var channel, ident, host, nick, account string
	if err := msg.ParseParams(nil, &channel, &ident, &host, &nick, &account); err != nil {
		return err
	}
	user := t.reg.GetOrCreateUser(nick + "!" + ident + "@" + host)
	if account != "0" {
		user.Account = account
	} else {
		user.Account = ""
	}
	conn := t.connOf(msg)
	if !events.IsChannel(conn, channel) {
		return nil
	}
	return t.join(conn, user, channel, false)
}

func (t *Tracker) handleWhoReply(msg irc.Message) error {
	var channel, ident, host, nick, flags string
	if err := msg.ParseParams(nil, &channel, &ident, &host, nil, &nick, &flags); err != nil {
		return err
	}
	user := t.reg.GetOrCreateUser(nick + "!" + ident + "@" + host)
	conn := t.connOf(msg)
	if !events.IsChannel(conn, channel) {
		return nil
	}
	if err := t.join(conn, user, channel, false); err != nil {
		return err
	}

	// flags are H or G, then an optional *, then the status symbols
	c := t.reg.GetOrCreateChannel(channel)
	prefixes := events.Prefixes(conn)
	nickCf := t.reg.Casemap(nick)
	for i := 0; i < len(flags); i++ {
		if prefixes.IsSymbol(flags[i]) {
			c.addFlag(flags[i], nickCf)
		}
	}
	return nil
}

func (t *Tracker) handleNamesReply(msg irc.Message) error {
	var channel, names string
	if err := msg.ParseParams(nil, nil, &channel, &names); err != nil {
		return err
	}
	c := t.reg.GetOrCreateChannel(channel)
	prefixes := events.Prefixes(t.connOf(msg))

	for _, name := range strings.Fields(names) {
		symbols, p := irc.ParseNameReply(name, prefixes)
		if p == nil || p.Name == "" {
			continue
		}
		user := t.reg.GetOrCreateUser(p.String())
		if err := t.reg.AddMembership(user.Nick, c.Name); err != nil {
			return err
		}
		nickCf := t.reg.Casemap(user.Nick)
		for i := 0; i < len(symbols); i++ {
			c.addFlag(symbols[i], nickCf)
		}
	}
	return nil
}

func (t *Tracker) handleNamesEnd(msg irc.Message) error {
	var channel string
	if err := msg.ParseParams(nil, &channel); err != nil {
		return err
	}
	return t.markSynced(t.reg.GetOrCreateChannel(channel), SyncNames)
}

func (t *Tracker) handleChannelMode(msg irc.Message) error {
	var channel string
	if err := msg.ParseParams(nil, &channel, nil); err != nil {
		return err
	}
	c := t.reg.GetOrCreateChannel(channel)
	c.Mode = strings.Join(msg.Params[2:], " ")
	return t.markSynced(c, SyncMode)
}

func (t *Tracker) handleWhoEnd(msg irc.Message) error {
	var mask string
	if err := msg.ParseParams(nil, &mask); err != nil {
		return err
	}
	if !events.IsChannel(t.connOf(msg), mask) {
		// end of a WHO on a nick
		return nil
	}
	return t.markSynced(t.reg.GetOrCreateChannel(mask), SyncWho)
}

func (t *Tracker) handleExtJoin(msg irc.Message) error {
	if !t.connOf(msg).HasCapability("extended-join") || len(msg.Params) < 2 {
		return nil
	}
	return t.setAccount(msg, msg.Params[1])
}

func (t *Tracker) handleAccount(msg irc.Message) error {
	var account string
	if err := msg.ParseParams(&account); err != nil {
		return err
	}
	return t.setAccount(msg, account)
}

func (t *Tracker) setAccount(msg irc.Message, account string) error {
	if msg.Source == "" {
		return fmt.Errorf("%s: %w", msg.Command, events.ErrNoSource)
	}
	user := t.reg.GetOrCreateUser(msg.Source)
	if account == "*" {
		user.Account = ""
	} else {
		user.Account = account
	}
	return nil
}

func (t *Tracker) handlePart(ev events.Part) error {
	t.reg.RemoveMembership(ev.User.Name, ev.Channel)
	if t.isMe(t.connOf(ev.Msg), ev.User.Name) {
		if c, ok := t.reg.LookupChannel(ev.Channel); ok {
			c.Available = false
		}
	}
	return nil
}

func (t *Tracker) handleQuit(ev events.Quit) error {
	_, err := t.reg.RemoveUser(ev.User.Name)
	return err
}

func (t *Tracker) handleKick(ev events.Kick) error {
	c, ok := t.reg.LookupChannel(ev.Channel)
	if !ok {
		return &LookupError{Op: "kick", Channel: ev.Channel}
	}
	if _, ok := t.reg.LookupUser(ev.Kickee); !ok {
		return &LookupError{Op: "kick", Nick: ev.Kickee}
	}
	t.reg.RemoveMembership(ev.Kickee, ev.Channel)
	if t.isMe(t.connOf(ev.Msg), ev.Kickee) {
		c.Available = false
	}
	return nil
}

func (t *Tracker) handleNick(ev events.Nick) error {
	if _, ok := t.reg.LookupUser(ev.User.Name); !ok && t.isMe(t.connOf(ev.Msg), ev.NewNick) {
		// we changed nick before sharing any channel
		return nil
	}
	_, err := t.reg.RenameUser(ev.User.Name, ev.NewNick)
	return err
}

func (t *Tracker) handleModeSet(ev events.ModeChange) error {
	symbol, ok := events.Prefixes(t.connOf(ev.Msg)).Symbol(ev.Mode)
	if !ok {
		return nil
	}
	t.reg.GetOrCreateChannel(ev.Channel).addFlag(symbol, t.reg.Casemap(ev.Arg))
	return nil
}

func (t *Tracker) handleModeUnset(ev events.ModeChange) error {
	symbol, ok := events.Prefixes(t.connOf(ev.Msg)).Symbol(ev.Mode)
	if !ok {
		return nil
	}
	t.reg.GetOrCreateChannel(ev.Channel).removeFlag(symbol, t.reg.Casemap(ev.Arg))
	return nil
}
