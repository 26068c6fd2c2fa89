package irc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertParse(t *testing.T, line string, expected Message) {
	t.Helper()
	actual, err := ParseMessage(line)
	require.NoError(t, err, "%q", line)
	assert.Equal(t, expected.Command, actual.Command, "%q: command", line)
	assert.Equal(t, expected.Source, actual.Source, "%q: source", line)
	assert.Equal(t, expected.Params, actual.Params, "%q: params", line)
	if len(expected.Tags) == 0 {
		assert.Empty(t, actual.Tags, "%q: tags", line)
	} else {
		assert.Equal(t, expected.Tags, actual.Tags, "%q: tags", line)
	}
}

func TestParseMessage(t *testing.T) {
	assertParse(t, "PRIVMSG #chan :hello world", Message{
		Command: "PRIVMSG",
		Params:  []string{"#chan", "hello world"},
	})
	assertParse(t, "@id=123;time=2021 :nick!u@h PRIVMSG #c :hi", Message{
		Tags:    map[string]string{"id": "123", "time": "2021"},
		Source:  "nick!u@h",
		Command: "PRIVMSG",
		Params:  []string{"#c", "hi"},
	})
	assertParse(t, "MODE #c arg1 arg2 :trailing has spaces", Message{
		Command: "MODE",
		Params:  []string{"#c", "arg1", "arg2", "trailing has spaces"},
	})
	assertParse(t, "PING", Message{
		Command: "PING",
	})
	assertParse(t, "ping x", Message{
		Command: "PING",
		Params:  []string{"x"},
	})
	assertParse(t, "PRIVMSG #c ::)", Message{
		Command: "PRIVMSG",
		Params:  []string{"#c", ":)"},
	})
	assertParse(t, "PRIVMSG #c :", Message{
		Command: "PRIVMSG",
		Params:  []string{"#c", ""},
	})
	assertParse(t, "USER a b ", Message{
		Command: "USER",
		Params:  []string{"a", "b", ""},
	})
	assertParse(t, "AWAY ", Message{
		Command: "AWAY",
		Params:  []string{""},
	})
	assertParse(t, "AWAY a ", Message{
		Command: "AWAY",
		Params:  []string{"a", ""},
	})
	assertParse(t, "NOTICE  x", Message{
		Command: "NOTICE",
		Params:  []string{"", "x"},
	})
}

func TestParseMessageTags(t *testing.T) {
	assertParse(t, `@flag;k=a\sb\:c\\d\ne :s CMD`, Message{
		Tags:    map[string]string{"flag": "", "k": "a b;c\\d\ne"},
		Source:  "s",
		Command: "CMD",
	})
	assertParse(t, `@k=trailing\ :s CMD`, Message{
		Tags:    map[string]string{"k": "trailing"},
		Source:  "s",
		Command: "CMD",
	})
}

func TestParseMessageErrors(t *testing.T) {
	for _, line := range []string{
		"",
		"@id=1",
		"@id=1 ",
		":source",
		":source ",
	} {
		_, err := ParseMessage(line)
		require.Error(t, err, "%q", line)
		assert.True(t, errors.Is(err, ErrParse), "%q: %v", line, err)
		var pe *ParseError
		assert.True(t, errors.As(err, &pe), "%q", line)
	}
}

func TestParseMessagePermissive(t *testing.T) {
	msg, err := ParseMessageBytes([]byte("PRIVMSG #c :caf\xe9 \xff!"))
	require.NoError(t, err)
	require.Len(t, msg.Params, 2)
	assert.Equal(t, "caf� �!", msg.Params[1])
}

func TestBuildMessage(t *testing.T) {
	tags := map[string]string{"time": "now"}
	msg := BuildMessage("JOIN", []string{"#c"}, "n!u@h", tags)
	tags["time"] = "later"

	assert.Equal(t, "JOIN", msg.Command)
	assert.Equal(t, []string{"#c"}, msg.Params)
	assert.Equal(t, "now", msg.Tags["time"])
	assert.Equal(t, &Prefix{Name: "n", User: "u", Host: "h"}, msg.Prefix())

	// no validation at all
	msg = BuildMessage("", nil, "", nil)
	assert.Nil(t, msg.Tags)
	assert.Nil(t, msg.Prefix())
}

func TestMessageString(t *testing.T) {
	for _, line := range []string{
		"PRIVMSG #chan :hello world",
		":nick!u@h JOIN #c",
		"PRIVMSG #c :",
		"PRIVMSG #c ::)",
		"@k=a\\sb :s TAGMSG #c",
	} {
		msg, err := ParseMessage(line)
		require.NoError(t, err)
		assert.Equal(t, line, msg.String())
	}
}

func TestParseParams(t *testing.T) {
	msg := NewMessage("KICK", "#c", "nick")
	var channel, nick, reason string
	require.NoError(t, msg.ParseParams(&channel, nil))
	assert.Equal(t, "#c", channel)

	err := msg.ParseParams(&channel, &nick, &reason)
	var pe *ParamError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, &ParamError{Command: "KICK", Expected: 3, Got: 2}, pe)
}

func TestIsReply(t *testing.T) {
	for line, expected := range map[string]bool{
		":s 001 n :hi":  true,
		":s 1234 n :hi": false,
		":s 01a n :hi":  false,
		"PRIVMSG #c :x": false,
	} {
		msg, err := ParseMessage(line)
		require.NoError(t, err)
		assert.Equal(t, expected, msg.IsReply(), line)
	}
}
