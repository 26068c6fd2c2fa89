package irc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrefix(t *testing.T) {
	assert.Nil(t, ParsePrefix(""))
	assert.Equal(t, &Prefix{Name: "nick"}, ParsePrefix("nick"))
	assert.Equal(t, &Prefix{Name: "nick", User: "user", Host: "host"}, ParsePrefix("nick!user@host"))
	assert.Equal(t, &Prefix{Name: "nick", Host: "host"}, ParsePrefix("nick@host"))
	assert.Equal(t, &Prefix{Name: "irc.example.org"}, ParsePrefix("irc.example.org"))

	assert.True(t, ParsePrefix("n!u@h").Full())
	assert.False(t, ParsePrefix("n@h").Full())
	assert.Equal(t, "n!u@h", ParsePrefix("n!u@h").String())
	assert.Equal(t, "*", (*Prefix)(nil).String())
}

func TestParsePrefixMapping(t *testing.T) {
	m, err := ParsePrefixMapping("(qaohv)~&@%+")
	require.NoError(t, err)
	assert.Equal(t, PrefixMapping{Modes: "qaohv", Symbols: "~&@%+"}, m)

	symbol, ok := m.Symbol('h')
	assert.True(t, ok)
	assert.Equal(t, byte('%'), symbol)
	mode, ok := m.Mode('~')
	assert.True(t, ok)
	assert.Equal(t, byte('q'), mode)
	_, ok = m.Symbol('b')
	assert.False(t, ok)

	m, err = ParsePrefixMapping("")
	require.NoError(t, err)
	assert.Equal(t, PrefixMapping{}, m)

	for _, value := range []string{"ov)@+", "(ov@+", "(ov)@"} {
		_, err := ParsePrefixMapping(value)
		assert.True(t, errors.Is(err, ErrParse), value)
	}
}

func TestParseNameReply(t *testing.T) {
	m, err := ParsePrefixMapping(DefaultPrefixes)
	require.NoError(t, err)

	symbols, name := ParseNameReply("@+nick", m)
	assert.Equal(t, "@+", symbols)
	assert.Equal(t, &Prefix{Name: "nick"}, name)

	symbols, name = ParseNameReply("nick!u@h", m)
	assert.Equal(t, "", symbols)
	assert.Equal(t, &Prefix{Name: "nick", User: "u", Host: "h"}, name)

	symbols, name = ParseNameReply("+", m)
	assert.Equal(t, "+", symbols)
	assert.Nil(t, name)
}

func TestParseChannelMode(t *testing.T) {
	chanmodes := ParseChanModes("beI,k,l,imnpst")
	assert.Equal(t, [4]string{"beI", "k", "l", "imnpst"}, chanmodes)

	changes, err := ParseChannelMode("+ov-v+lk-l+m", []string{"a", "b", "c", "10", "key"}, chanmodes, "ov")
	require.NoError(t, err)
	assert.Equal(t, []ModeChange{
		{Enable: true, Mode: 'o', Param: "a"},
		{Enable: true, Mode: 'v', Param: "b"},
		{Enable: false, Mode: 'v', Param: "c"},
		{Enable: true, Mode: 'l', Param: "10"},
		{Enable: true, Mode: 'k', Param: "key"},
		{Enable: false, Mode: 'l'},
		{Enable: true, Mode: 'm'},
	}, changes)

	_, err = ParseChannelMode("+o", nil, chanmodes, "ov")
	assert.Error(t, err)
}

func TestParseCaps(t *testing.T) {
	assert.Equal(t, []Cap{
		{Name: "sasl", Value: "PLAIN,EXTERNAL", Enable: true},
		{Name: "multi-prefix", Enable: true},
		{Name: "away-notify", Enable: false},
	}, ParseCaps("sasl=PLAIN,EXTERNAL  multi-prefix -away-notify -"))
}

func TestCasemapping(t *testing.T) {
	assert.Equal(t, "nick{}|^", Casemapping("rfc1459")("NICK[]\\~"))
	assert.Equal(t, "nick{}|~", Casemapping("strict-rfc1459")("NICK[]\\~"))
	assert.Equal(t, "nick[]\\~", Casemapping("ascii")("NICK[]\\~"))
	assert.Equal(t, "nick{}|^", Casemapping("")("NICK[]\\~"))
}
