package irc

import (
	"fmt"
	"strings"
)

// Prefix is the "nick!user@host" source of a message.
type Prefix struct {
	Name string
	User string
	Host string
}

// ParsePrefix splits a hostmask. Missing parts are left empty.
func ParsePrefix(s string) *Prefix {
	if s == "" {
		return nil
	}

	p := &Prefix{}
	name, userhost, hasUser := strings.Cut(s, "!")
	if hasUser {
		p.Name = name
		p.User, p.Host, _ = strings.Cut(userhost, "@")
	} else {
		p.Name, p.Host, _ = strings.Cut(s, "@")
	}
	return p
}

// Full reports whether both the user and host parts are known.
func (p *Prefix) Full() bool {
	return p.User != "" && p.Host != ""
}

func (p *Prefix) String() string {
	if p == nil {
		return "*"
	}

	if p.User != "" && p.Host != "" {
		return p.Name + "!" + p.User + "@" + p.Host
	} else if p.User != "" {
		return p.Name + "!" + p.User
	} else if p.Host != "" {
		return p.Name + "@" + p.Host
	} else {
		return p.Name
	}
}

// DefaultPrefixes is assumed until the server advertises PREFIX.
const DefaultPrefixes = "(ov)@+"

// PrefixMapping maps channel membership modes to their status symbols,
// e.g. 'o' to '@'. The two strings have the same length and are ordered
// from the highest rank to the lowest.
type PrefixMapping struct {
	Modes   string
	Symbols string
}

// ParsePrefixMapping decodes the value of the PREFIX ISUPPORT token, shaped
// as "(modes)symbols".
func ParsePrefixMapping(value string) (PrefixMapping, error) {
	if value == "" {
		return PrefixMapping{}, nil
	}
	if !strings.HasPrefix(value, "(") {
		return PrefixMapping{}, &ParseError{Line: value, Reason: "PREFIX must start with '('"}
	}
	modes, symbols, ok := strings.Cut(value[1:], ")")
	if !ok {
		return PrefixMapping{}, &ParseError{Line: value, Reason: "PREFIX lacks ')'"}
	}
	if len(modes) != len(symbols) {
		return PrefixMapping{}, &ParseError{Line: value, Reason: fmt.Sprintf("PREFIX has %d modes but %d symbols", len(modes), len(symbols))}
	}
	return PrefixMapping{Modes: modes, Symbols: symbols}, nil
}

// Symbol returns the status symbol of a membership mode.
func (m PrefixMapping) Symbol(mode byte) (byte, bool) {
	i := strings.IndexByte(m.Modes, mode)
	if i < 0 {
		return 0, false
	}
	return m.Symbols[i], true
}

// Mode returns the membership mode of a status symbol.
func (m PrefixMapping) Mode(symbol byte) (byte, bool) {
	i := strings.IndexByte(m.Symbols, symbol)
	if i < 0 {
		return 0, false
	}
	return m.Modes[i], true
}

func (m PrefixMapping) IsSymbol(c byte) bool {
	return strings.IndexByte(m.Symbols, c) >= 0
}

// ParseNameReply splits a RPL_NAMREPLY entry into its status symbols and
// its name. Every leading symbol is kept (multi-prefix). With
// userhost-in-names the name is a full hostmask.
func ParseNameReply(entry string, m PrefixMapping) (symbols string, name *Prefix) {
	i := 0
	for i < len(entry) && m.IsSymbol(entry[i]) {
		i++
	}
	return entry[:i], ParsePrefix(entry[i:])
}

// ModeChange is one item of a MODE message.
type ModeChange struct {
	Enable bool
	Mode   byte
	Param  string
}

// ParseChannelMode expands a channel MODE string into single changes.
// chanmodes holds the four CHANMODES groups; prefixModes the membership
// modes, which always take a parameter.
func ParseChannelMode(mode string, params []string, chanmodes [4]string, prefixModes string) ([]ModeChange, error) {
	var changes []ModeChange
	enable := true
	for i := 0; i < len(mode); i++ {
		c := mode[i]
		switch c {
		case '+':
			enable = true
			continue
		case '-':
			enable = false
			continue
		}

		var takesParam bool
		switch {
		case strings.IndexByte(prefixModes, c) >= 0,
			strings.IndexByte(chanmodes[0], c) >= 0,
			strings.IndexByte(chanmodes[1], c) >= 0:
			takesParam = true
		case strings.IndexByte(chanmodes[2], c) >= 0:
			takesParam = enable
		}

		change := ModeChange{Enable: enable, Mode: c}
		if takesParam {
			if len(params) == 0 {
				return nil, fmt.Errorf("irc: mode %c: missing parameter", c)
			}
			change.Param = params[0]
			params = params[1:]
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// ParseChanModes splits the CHANMODES ISUPPORT value.
func ParseChanModes(value string) (chanmodes [4]string) {
	types := strings.SplitN(value, ",", 5)
	for i := 0; i < len(types) && i < len(chanmodes); i++ {
		chanmodes[i] = types[i]
	}
	return
}

// Cap is one item of a CAP LS/ACK/NEW/DEL list.
type Cap struct {
	Name   string
	Value  string
	Enable bool
}

func ParseCaps(caps string) (diff []Cap) {
	for _, c := range strings.Split(caps, " ") {
		if c == "" || c == "-" || c == "=" || c == "-=" {
			continue
		}

		var item Cap
		if strings.HasPrefix(c, "-") {
			item.Enable = false
			c = c[1:]
		} else {
			item.Enable = true
		}

		item.Name, item.Value, _ = strings.Cut(c, "=")
		diff = append(diff, item)
	}
	return
}

func CasemapASCII(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func CasemapRFC1459(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		} else if r == '~' {
			r = '^'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func CasemapStrictRFC1459(name string) string {
	var sb strings.Builder
	sb.Grow(len(name))
	for _, r := range name {
		if 'A' <= r && r <= 'Z' {
			r += 'a' - 'A'
		} else if r == '[' {
			r = '{'
		} else if r == ']' {
			r = '}'
		} else if r == '\\' {
			r = '|'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Casemapping returns the function matching a CASEMAPPING value.
func Casemapping(value string) func(string) string {
	switch value {
	case "ascii":
		return CasemapASCII
	case "strict-rfc1459":
		return CasemapStrictRFC1459
	default:
		return CasemapRFC1459
	}
}
