package tracking

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"git.sr.ht/~delthas/ircsync/events"
	"git.sr.ht/~delthas/ircsync/irc"
)

type fakeConn struct {
	nick     string
	features map[string]string
	caps     map[string]bool
	written  []string
}

func (c *fakeConn) NetID() string                  { return "test" }
func (c *fakeConn) Nick() string                   { return c.nick }
func (c *fakeConn) HasCapability(name string) bool { return c.caps[name] }
func (c *fakeConn) WriteMessage(msg irc.Message)   { c.written = append(c.written, msg.String()) }
func (c *fakeConn) Feature(key string) (string, bool) {
	v, ok := c.features[key]
	return v, ok
}

// flush returns the lines written since the last call.
func (c *fakeConn) flush() []string {
	w := c.written
	c.written = nil
	return w
}

type harness struct {
	t       *testing.T
	conn    *fakeConn
	bus     *events.Dispatcher
	tracker *Tracker
	metrics *Metrics
	syncs   []string
	topics  []TopicChanged
	plugins []string
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t: t,
		conn: &fakeConn{
			nick:     "me",
			features: map[string]string{"WHOX": ""},
			caps:     map[string]bool{"extended-join": true},
		},
		bus:     events.NewDispatcher(),
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.bus.On(events.KindPluginRegistered, func(payload any) error {
		h.plugins = append(h.plugins, payload.(events.PluginRegistered).Name)
		return nil
	})
	h.bus.On(events.KindSyncDone, func(payload any) error {
		h.syncs = append(h.syncs, payload.(SyncDone).Channel.Name)
		return nil
	})
	h.bus.On(events.KindTopicChanged, func(payload any) error {
		h.topics = append(h.topics, payload.(TopicChanged))
		return nil
	})
	h.tracker = NewTracker(h.conn, h.bus, h.metrics)
	require.NoError(t, h.tracker.Register())
	return h
}

func (h *harness) available() *Registry {
	require.NoError(h.t, h.bus.Emit(events.KindNetworkAvailable, events.NetworkAvailable{Conn: h.conn}))
	return h.tracker.Registry()
}

func (h *harness) feed(line string) error {
	h.t.Helper()
	msg, err := irc.ParseMessage(line)
	require.NoError(h.t, err)
	msg.Conn = h.conn
	evs, err := events.FromMessage(msg)
	if err != nil {
		return err
	}
	return h.bus.EmitAll(evs)
}

func (h *harness) mustFeed(lines ...string) {
	h.t.Helper()
	for _, line := range lines {
		require.NoError(h.t, h.feed(line), line)
	}
	require.NoError(h.t, h.tracker.Registry().CheckConsistency())
}

// joined sets up #c with me, bob, alice and a completed sync.
func (h *harness) joined() *Registry {
	r := h.available()
	h.mustFeed(
		":me!u@host JOIN #c",
		":srv 353 me = #c :@me +bob alice",
		":srv 366 me #c :End of /NAMES list",
		":srv 354 me #c bobu bobhost bob bobacct",
		":srv 354 me #c aliceu alicehost alice 0",
		":srv 354 me #c u host me 0",
		":srv 315 me #c :End of /WHO list",
		":srv 324 me #c +nt",
	)
	h.conn.flush()
	return r
}

func TestRegisterAnnounces(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, []string{"tracking"}, h.plugins)
	assert.Nil(t, h.tracker.Registry())

	err := h.feed(":me!u@h JOIN #c")
	assert.True(t, errors.Is(err, ErrNotAvailable))
}

func TestSyncBarrier(t *testing.T) {
	h := newHarness(t)
	r := h.available()

	h.mustFeed(":me!u@host JOIN #c")
	assert.Equal(t, []string{"WHO #c %cnuha", "MODE #c"}, h.conn.flush())
	c, ok := r.LookupChannel("#c")
	require.True(t, ok)
	assert.True(t, c.Available)
	assert.True(t, r.IsMember("me", "#c"))

	h.mustFeed(
		":srv 353 me = #c :@me +bob alice",
		":srv 366 me #c :End of /NAMES list",
		":srv 354 me #c bobu bobhost bob bobacct",
		":srv 315 me #c :End of /WHO list",
	)
	assert.Equal(t, SyncWho|SyncNames, c.SyncState)
	assert.Empty(t, h.syncs)

	h.mustFeed(":srv 324 me #c +nt")
	assert.Equal(t, []string{"#c"}, h.syncs)
	assert.True(t, c.Synced())
	assert.Equal(t, "+nt", c.Mode)

	// a late duplicate does not fire again
	h.mustFeed(":srv 315 me #c :End of /WHO list")
	assert.Equal(t, []string{"#c"}, h.syncs)

	// rejoining starts a new cycle
	h.mustFeed(":me!u@host JOIN #c")
	assert.Equal(t, SyncStep(0), c.SyncState)
	assert.Equal(t, []string{"me"}, usersByFilter(r, "#c"))
	assert.False(t, c.HasFlag('@', "me"))
	h.mustFeed(
		":srv 324 me #c +n",
		":srv 315 me #c :End of /WHO list",
		":srv 366 me #c :End of /NAMES list",
	)
	assert.Equal(t, []string{"#c", "#c"}, h.syncs)
	assert.Equal(t, "+n", c.Mode)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Syncs.WithLabelValues("test")))
}

func TestSyncWithoutWhox(t *testing.T) {
	h := newHarness(t)
	delete(h.conn.features, "WHOX")
	h.available()
	h.mustFeed(":me!u@host JOIN #c")
	assert.Equal(t, []string{"WHO #c", "MODE #c"}, h.conn.flush())

	// someone else joining does not trigger requests
	h.mustFeed(":bob!u@h JOIN #c")
	assert.Empty(t, h.conn.flush())
}

func TestNamesReply(t *testing.T) {
	h := newHarness(t)
	r := h.joined()
	c, _ := r.LookupChannel("#c")

	assert.True(t, c.HasFlag('@', "me"))
	assert.True(t, c.HasFlag('+', "bob"))
	assert.False(t, c.HasFlag('@', "bob"))
	assert.Equal(t, []string{"alice", "bob", "me"}, usersByFilter(r, "#c"))

	h.mustFeed(":srv 353 me = #c :@+dave!d@dhost")
	assert.True(t, c.HasFlag('@', "dave"))
	assert.True(t, c.HasFlag('+', "dave"))
	dave, ok := r.LookupUser("dave")
	require.True(t, ok)
	assert.Equal(t, Resolved{Ident: "d", Host: "dhost"}, dave.Identity)
}

func TestWhoReplies(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	bob, _ := r.LookupUser("bob")
	assert.Equal(t, Resolved{Ident: "bobu", Host: "bobhost"}, bob.Identity)
	assert.Equal(t, "bobacct", bob.Account)
	alice, _ := r.LookupUser("alice")
	assert.Equal(t, "", alice.Account)

	h.mustFeed(":srv 352 me #c carolu carolhost srv carol H@ :0 Carol")
	carol, ok := r.LookupUser("carol")
	require.True(t, ok)
	assert.Equal(t, "carolu", carol.Ident())
	assert.True(t, r.IsMember("carol", "#c"))
	c, _ := r.LookupChannel("#c")
	assert.True(t, c.HasFlag('@', "carol"))

	// WHO on a nick: no membership, no sync
	h.mustFeed(
		":srv 352 me * daveu davehost srv dave H :0 Dave",
		":srv 315 me dave :End of /WHO list",
	)
	_, ok = r.LookupUser("dave")
	assert.True(t, ok)
	assert.Empty(t, channelsByFilter(r, "dave"))
	_, ok = r.LookupChannel("dave")
	assert.False(t, ok)
}

func TestQuit(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	h.mustFeed(":bob!bobu@bobhost QUIT :bye")
	_, ok := r.LookupUser("bob")
	assert.False(t, ok)
	assert.Empty(t, channelsByFilter(r, "bob"))
	c, _ := r.LookupChannel("#c")
	assert.False(t, c.HasFlag('+', "bob"))

	h.mustFeed(
		":alice!aliceu@alicehost QUIT",
		":me!u@host PART #c",
	)
	assert.Empty(t, usersByFilter(r, "#c"))
	c, ok = r.LookupChannel("#c")
	require.True(t, ok)
	assert.False(t, c.Available)

	err := h.feed(":ghost!g@h QUIT :boo")
	assert.True(t, errors.Is(err, ErrLookupInconsistency))
	var le *LookupError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "ghost", le.Nick)
}

func TestKick(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	h.mustFeed(":me!u@host KICK #c bob :out")
	assert.False(t, r.IsMember("bob", "#c"))
	_, ok := r.LookupUser("bob")
	assert.True(t, ok)

	err := h.feed(":me!u@host KICK #nowhere alice")
	assert.True(t, errors.Is(err, ErrLookupInconsistency))
	err = h.feed(":me!u@host KICK #c ghost")
	assert.True(t, errors.Is(err, ErrLookupInconsistency))

	h.mustFeed(":alice!aliceu@alicehost KICK #c me")
	c, _ := r.LookupChannel("#c")
	assert.False(t, c.Available)
	assert.False(t, r.IsMember("me", "#c"))
}

func TestNick(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	h.mustFeed(":bob!bobu@bobhost NICK robert")
	u, ok := r.LookupUser("robert")
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, u.PreviousNicks)
	assert.Equal(t, "bobacct", u.Account)
	assert.True(t, r.IsMember("robert", "#c"))
	for _, m := range r.Memberships() {
		assert.NotEqual(t, "bob", m.Nick)
	}
	c, _ := r.LookupChannel("#c")
	assert.True(t, c.HasFlag('+', "robert"))

	err := h.feed(":ghost!g@h NICK spirit")
	assert.True(t, errors.Is(err, ErrLookupInconsistency))

	// our own nick change before sharing a channel
	h.conn.nick = "newme"
	h.mustFeed(":oldme!u@h NICK newme")
}

func TestModes(t *testing.T) {
	h := newHarness(t)
	r := h.joined()
	c, _ := r.LookupChannel("#c")

	h.mustFeed(":me!u@host MODE #c +ov-v alice alice bob")
	assert.True(t, c.HasFlag('@', "alice"))
	assert.True(t, c.HasFlag('+', "alice"))
	assert.False(t, c.HasFlag('+', "bob"))

	h.mustFeed(":me!u@host MODE #c -o+b alice *!*@spam")
	assert.False(t, c.HasFlag('@', "alice"))
	assert.Equal(t, []string{"alice"}, c.FlagNicks('+'))
}

func TestAccounts(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	h.mustFeed(":dave!d@h JOIN #c daveacct :Dave")
	dave, _ := r.LookupUser("dave")
	assert.Equal(t, "daveacct", dave.Account)

	h.mustFeed(":dave!d@h ACCOUNT *")
	assert.Equal(t, "", dave.Account)
	h.mustFeed(":dave!d@h ACCOUNT other")
	assert.Equal(t, "other", dave.Account)

	h.mustFeed(":erin!e@h JOIN #c * :Erin")
	erin, _ := r.LookupUser("erin")
	assert.Equal(t, "", erin.Account)

	// without extended-join, JOIN params carry no account
	h.conn.caps = nil
	h.mustFeed(":frank!f@h JOIN #c")
	frank, _ := r.LookupUser("frank")
	assert.Equal(t, "", frank.Account)
}

func TestTopic(t *testing.T) {
	h := newHarness(t)
	r := h.joined()
	c, _ := r.LookupChannel("#c")

	h.mustFeed(":srv 332 me #c :welcome here")
	assert.Equal(t, "welcome here", c.Topic)
	assert.Empty(t, h.topics)

	h.mustFeed(":bob!bobu@bobhost TOPIC #c :new topic")
	assert.Equal(t, "new topic", c.Topic)
	require.Len(t, h.topics, 1)
	assert.Equal(t, "bob", h.topics[0].User.Nick)
	assert.Same(t, c, h.topics[0].Channel)
	assert.Equal(t, "new topic", h.topics[0].Topic)
}

func TestSnapshot(t *testing.T) {
	h := newHarness(t)
	r := h.joined()

	s := r.Snapshot()
	assert.Equal(t, "test", s.NetID)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, ChannelSnapshot{
		Name:      "#c",
		Available: true,
		Mode:      "+nt",
		Sync:      "{mode,who,names}",
		Users:     []string{"alice", "bob", "me"},
		Flags:     map[string][]string{"@": {"me"}, "+": {"bob"}},
	}, s.Channels[0])
	require.Len(t, s.Users, 3)
	assert.Equal(t, UserSnapshot{
		Nick:     "bob",
		Ident:    "bobu",
		Host:     "bobhost",
		Account:  "bobacct",
		Channels: []string{"#c"},
	}, s.Users[1])

	out, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), "network: test")
}

func TestMetrics(t *testing.T) {
	h := newHarness(t)
	h.joined()

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Memberships.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Channels.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Events.WithLabelValues("test", string(events.KindJoin))))

	h.feed(":ghost!g@h QUIT")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Errors.WithLabelValues("test", string(events.KindQuit))))
}
