package irc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/golang/glog"
)

type SASLClient interface {
	Handshake() (mech string)
	Respond(challenge string) (res string, err error)
}

type SASLPlain struct {
	Username string
	Password string
}

func (auth *SASLPlain) Handshake() (mech string) {
	mech = "PLAIN"
	return
}

func (auth *SASLPlain) Respond(challenge string) (res string, err error) {
	if challenge != "+" {
		err = errors.New("unexpected challenge")
		return
	}

	user := []byte(auth.Username)
	pass := []byte(auth.Password)
	payload := bytes.Join([][]byte{user, user, pass}, []byte{0})
	res = base64.StdEncoding.EncodeToString(payload)

	return
}

// SupportedCapabilities is the set of capabilities requested from servers.
var SupportedCapabilities = map[string]struct{}{
	"account-notify":    {},
	"away-notify":       {},
	"cap-notify":        {},
	"extended-join":     {},
	"message-tags":      {},
	"multi-prefix":      {},
	"server-time":       {},
	"userhost-in-names": {},
}

// ClientParams defines how to register on an IRC server.
type ClientParams struct {
	Nickname string
	Username string
	RealName string
	NetID    string
	Auth     SASLClient
}

// Client holds the connection-level state: negotiated capabilities, the
// ISUPPORT feature table and our current nickname. It implements Conn.
type Client struct {
	out        chan<- Message
	closed     bool
	registered bool
	capEnded   bool
	ready      bool

	nick   string
	nickCf string // casemapped nickname.
	user   string
	real   string
	acct   string
	host   string
	netID  string
	auth   SASLClient

	availableCaps map[string]string
	enabledCaps   map[string]struct{}
	features      map[string]string

	casemap func(string) string
}

func NewClient(out chan<- Message, params ClientParams) *Client {
	c := &Client{
		out:           out,
		nick:          params.Nickname,
		nickCf:        CasemapRFC1459(params.Nickname),
		user:          params.Username,
		real:          params.RealName,
		netID:         params.NetID,
		auth:          params.Auth,
		availableCaps: map[string]string{},
		enabledCaps:   map[string]struct{}{},
		features:      map[string]string{},
		casemap:       CasemapRFC1459,
	}

	c.WriteMessage(NewMessage("CAP", "LS", "302"))
	c.WriteMessage(NewMessage("NICK", c.nick))
	c.WriteMessage(NewMessage("USER", c.user, "0", "*", c.real))

	return c
}

func (c *Client) Close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}

func (c *Client) WriteMessage(msg Message) {
	if c.closed {
		return
	}
	c.out <- msg
}

// HasCapability reports whether the given capability has been negotiated
// successfully.
func (c *Client) HasCapability(capability string) bool {
	_, ok := c.enabledCaps[capability]
	return ok
}

func (c *Client) Feature(key string) (string, bool) {
	v, ok := c.features[strings.ToUpper(key)]
	return v, ok
}

func (c *Client) Nick() string {
	return c.nick
}

// NetID returns the configured network ID, or the NETWORK the server
// advertises.
func (c *Client) NetID() string {
	if c.netID != "" {
		return c.netID
	}
	if network, ok := c.features["NETWORK"]; ok {
		return network
	}
	return "*"
}

func (c *Client) Account() string {
	return c.acct
}

func (c *Client) IsMe(nick string) bool {
	return c.nickCf == c.casemap(nick)
}

func (c *Client) Casemap(name string) string {
	return c.casemap(name)
}

// HandleMessage updates the connection state. It reports ready once, when
// registration is over and the ISUPPORT table is complete.
func (c *Client) HandleMessage(msg Message) (ready bool, err error) {
	switch msg.Command {
	case "CAP":
		return false, c.handleCap(msg)
	case "AUTHENTICATE":
		if c.auth == nil {
			break
		}

		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return false, err
		}

		res, err := c.auth.Respond(payload)
		if err != nil {
			c.WriteMessage(NewMessage("AUTHENTICATE", "*"))
		} else {
			c.WriteMessage(NewMessage("AUTHENTICATE", res))
		}
	case rplLoggedin:
		var nuh string
		if err := msg.ParseParams(nil, &nuh, &c.acct); err != nil {
			return false, err
		}

		prefix := ParsePrefix(nuh)
		c.user = prefix.User
		c.host = prefix.Host
	case rplLoggedout:
		c.acct = ""
	case rplSaslsuccess, errNicklocked, errSaslfail, errSasltoolong, errSaslaborted, errSaslalready:
		if msg.Command != rplSaslsuccess {
			glog.Warningf("[client] sasl failed: %s %s", msg.Command, strings.Join(msg.Params, " "))
		}
		c.auth = nil
		c.endRegistration()
	case rplSaslmechs:
		// the server follows up with ERR_SASLFAIL
	case errNicknameinuse:
		if c.registered {
			break
		}
		var nick string
		if err := msg.ParseParams(nil, &nick); err != nil {
			return false, err
		}
		c.WriteMessage(NewMessage("NICK", nick+"_"))
	case rplWelcome:
		if err := msg.ParseParams(&c.nick); err != nil {
			return false, err
		}
		c.nickCf = c.casemap(c.nick)
		c.registered = true
	case rplIsupport:
		if len(msg.Params) < 3 {
			return false, msg.errNotEnoughParams(3)
		}
		c.updateFeatures(msg.Params[1 : len(msg.Params)-1])
	case rplEndofmotd, errNomotd:
		if c.registered && !c.ready {
			c.ready = true
			return true, nil
		}
	case "NICK":
		var nick string
		if err := msg.ParseParams(&nick); err != nil {
			return false, err
		}
		if p := msg.Prefix(); p != nil && c.IsMe(p.Name) {
			c.nick = nick
			c.nickCf = c.casemap(nick)
		}
	case "PING":
		var payload string
		if err := msg.ParseParams(&payload); err != nil {
			return false, err
		}

		c.WriteMessage(NewMessage("PONG", payload))
	case "ERROR":
		c.Close()
	}
	return false, nil
}

func (c *Client) handleCap(msg Message) error {
	var subcommand, caps string
	if err := msg.ParseParams(nil, &subcommand); err != nil {
		return err
	}
	if len(msg.Params) > 3 && msg.Params[2] == "*" {
		if err := msg.ParseParams(nil, nil, nil, &caps); err != nil {
			return err
		}
	} else {
		if err := msg.ParseParams(nil, nil, &caps); err != nil {
			return err
		}
	}

	switch subcommand {
	case "ACK":
		for _, cap := range ParseCaps(caps) {
			if cap.Enable {
				c.enabledCaps[cap.Name] = struct{}{}
			} else {
				delete(c.enabledCaps, cap.Name)
			}

			if c.auth != nil && cap.Name == "sasl" && cap.Enable {
				c.WriteMessage(NewMessage("AUTHENTICATE", c.auth.Handshake()))
			}
		}
		if c.auth == nil {
			c.endRegistration()
		}
	case "NAK":
		c.auth = nil
		c.endRegistration()
	case "LS", "NEW":
		var reqs []string
		for _, cap := range ParseCaps(caps) {
			c.availableCaps[cap.Name] = cap.Value
			if _, ok := SupportedCapabilities[cap.Name]; !ok {
				if cap.Name != "sasl" || c.auth == nil {
					continue
				}
			}
			if _, ok := c.enabledCaps[cap.Name]; ok {
				continue
			}
			reqs = append(reqs, cap.Name)
		}
		if len(reqs) > 0 {
			c.WriteMessage(NewMessage("CAP", "REQ", strings.Join(reqs, " ")))
		}
		if subcommand == "NEW" || (len(msg.Params) > 3 && msg.Params[2] == "*") {
			// more CAP LS lines follow
			return nil
		}
		if _, ok := c.availableCaps["sasl"]; !ok {
			c.auth = nil
		}
		if len(reqs) == 0 {
			c.endRegistration()
		}
	case "DEL":
		for _, cap := range ParseCaps(caps) {
			delete(c.availableCaps, cap.Name)
			delete(c.enabledCaps, cap.Name)
		}
	}
	return nil
}

func (c *Client) updateFeatures(features []string) {
	for _, f := range features {
		if f == "" || f == "-" || f == "=" || f == "-=" {
			continue
		}

		add := true
		if strings.HasPrefix(f, "-") {
			add = false
			f = f[1:]
		}

		key, value, _ := strings.Cut(f, "=")
		key = strings.ToUpper(key)

		if !add {
			delete(c.features, key)
			if key == "CASEMAPPING" {
				c.casemap = CasemapRFC1459
			}
			continue
		}

		c.features[key] = value
		if key == "CASEMAPPING" {
			c.casemap = Casemapping(value)
			c.nickCf = c.casemap(c.nick)
		}
	}
}

func (c *Client) endRegistration() {
	if c.registered || c.capEnded {
		return
	}
	c.capEnded = true
	c.WriteMessage(NewMessage("CAP", "END"))
}
