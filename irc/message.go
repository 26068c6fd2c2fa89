package irc

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrParse is matched by every *ParseError.
var ErrParse = errors.New("irc: malformed message")

// ParseError reports a line that could not be split into a message.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("irc: cannot parse %q: %s", e.Line, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// ParamError is returned when a message lacks parameters a handler needs.
type ParamError struct {
	Command  string
	Expected int
	Got      int
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("irc: %s: expected at least %d params, got %d", e.Command, e.Expected, e.Got)
}

// Conn is the connection a message was received on.
type Conn interface {
	// NetID identifies the network; registries are scoped to it.
	NetID() string
	// Nick is the current local nickname.
	Nick() string
	HasCapability(capability string) bool
	// Feature returns an RPL_ISUPPORT token value.
	Feature(key string) (value string, ok bool)
	// WriteMessage queues msg for sending. It never blocks on the network.
	WriteMessage(msg Message)
}

// Message is a parsed protocol line.
type Message struct {
	Tags    map[string]string `yaml:"tags,omitempty"`
	Source  string            `yaml:"source,omitempty"`
	Command string            `yaml:"command"`
	Params  []string          `yaml:"params,omitempty"`

	// Conn is the connection the message belongs to, nil for built messages.
	Conn Conn `yaml:"-"`
}

func NewMessage(command string, params ...string) Message {
	return Message{
		Command: command,
		Params:  params,
	}
}

// BuildMessage constructs a message from its parts without validating them.
func BuildMessage(verb string, params []string, source string, tags map[string]string) Message {
	msg := Message{
		Command: verb,
		Params:  params,
		Source:  source,
	}
	if len(tags) > 0 {
		msg.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			msg.Tags[k] = v
		}
	}
	return msg
}

// ParseMessageBytes decodes b permissively and parses it.
func ParseMessageBytes(b []byte) (Message, error) {
	return ParseMessage(string(b))
}

// ParseMessage parses a single line, without its CRLF terminator. Invalid
// UTF-8 sequences are replaced, never rejected.
func ParseMessage(line string) (msg Message, err error) {
	line = strings.ToValidUTF8(line, string([]rune{unicode.ReplacementChar}))
	rest := line

	if strings.HasPrefix(rest, "@") {
		var tags string
		tags, rest, _ = strings.Cut(rest[1:], " ")
		msg.Tags = parseTags(tags)
		if rest == "" {
			return msg, &ParseError{Line: line, Reason: "no command after tags"}
		}
	}

	if strings.HasPrefix(rest, ":") {
		var source string
		source, rest, _ = strings.Cut(rest[1:], " ")
		msg.Source = source
	}

	var verb string
	var more bool
	verb, rest, more = strings.Cut(rest, " ")
	if verb == "" {
		return msg, &ParseError{Line: line, Reason: "no command"}
	}
	msg.Command = strings.ToUpper(verb)
	if more && rest == "" {
		// "CMD " has a single empty parameter
		msg.Params = []string{""}
	}

	// The trailing parameter keeps every space up to the end of the line.
	for rest != "" {
		if strings.HasPrefix(rest, ":") {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		var p string
		p, rest, more = strings.Cut(rest, " ")
		msg.Params = append(msg.Params, p)
		if more && rest == "" {
			// "A B " has a last empty parameter
			msg.Params = append(msg.Params, "")
		}
	}

	return msg, nil
}

// IsReply reports whether the message is a numeric reply.
func (msg *Message) IsReply() bool {
	if len(msg.Command) != 3 {
		return false
	}
	for _, r := range msg.Command {
		if !('0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

// Prefix parses the message source. It returns nil when there is none.
func (msg *Message) Prefix() *Prefix {
	if msg.Source == "" {
		return nil
	}
	return ParsePrefix(msg.Source)
}

func (msg *Message) errNotEnoughParams(expected int) error {
	return &ParamError{
		Command:  msg.Command,
		Expected: expected,
		Got:      len(msg.Params),
	}
}

// ParseParams stores the first len(out) params into out. nil entries are
// skipped.
func (msg *Message) ParseParams(out ...*string) error {
	if len(msg.Params) < len(out) {
		return msg.errNotEnoughParams(len(out))
	}
	for i := range out {
		if out[i] != nil {
			*out[i] = msg.Params[i]
		}
	}
	return nil
}

func (msg *Message) String() string {
	var sb strings.Builder

	if len(msg.Tags) != 0 {
		sb.WriteRune('@')
		sb.WriteString(formatTags(msg.Tags))
		sb.WriteRune(' ')
	}

	if msg.Source != "" {
		sb.WriteRune(':')
		sb.WriteString(msg.Source)
		sb.WriteRune(' ')
	}

	sb.WriteString(msg.Command)

	if len(msg.Params) != 0 {
		for _, p := range msg.Params[:len(msg.Params)-1] {
			sb.WriteRune(' ')
			sb.WriteString(p)
		}
		last := msg.Params[len(msg.Params)-1]
		sb.WriteRune(' ')
		if last == "" || strings.ContainsRune(last, ' ') || strings.HasPrefix(last, ":") {
			sb.WriteRune(':')
		}
		sb.WriteString(last)
	}

	return sb.String()
}

var tagEscaper = strings.NewReplacer(
	"\\", "\\\\",
	";", "\\:",
	" ", "\\s",
	"\r", "\\r",
	"\n", "\\n",
)

func unescapeTagValue(escaped string) string {
	var sb strings.Builder
	sb.Grow(len(escaped))
	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '\\' {
			sb.WriteByte(c)
			continue
		}
		i++
		if i >= len(escaped) {
			break
		}
		switch escaped[i] {
		case ':':
			sb.WriteByte(';')
		case 's':
			sb.WriteByte(' ')
		case 'r':
			sb.WriteByte('\r')
		case 'n':
			sb.WriteByte('\n')
		default:
			sb.WriteByte(escaped[i])
		}
	}
	return sb.String()
}

func parseTags(s string) map[string]string {
	tags := map[string]string{}
	for _, item := range strings.Split(s, ";") {
		if item == "" {
			continue
		}
		k, v, _ := strings.Cut(item, "=")
		tags[k] = unescapeTagValue(v)
	}
	return tags
}

func formatTags(tags map[string]string) string {
	var sb strings.Builder
	first := true
	for k, v := range tags {
		if !first {
			sb.WriteRune(';')
		}
		first = false
		sb.WriteString(k)
		if v != "" {
			sb.WriteRune('=')
			sb.WriteString(tagEscaper.Replace(v))
		}
	}
	return sb.String()
}
