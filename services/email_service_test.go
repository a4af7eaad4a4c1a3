package services

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderMessage(t *testing.T, to, subject, body string) (header, text string) {
	t.Helper()
	msg, err := newMessage("noreply@houseparty.app", to, subject, body)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	header, text, ok := strings.Cut(buf.String(), "\r\n\r\n")
	require.True(t, ok)
	return header, text
}

func TestNewMessageKeepsSubjectOnOneHeader(t *testing.T) {
	header, text := renderMessage(t, "target@example.com", "x\r\nBcc: v@evil.com\r\n\r\nPHISH invited you", "Hello")

	for _, line := range strings.Split(header, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), line)
	}
	assert.NotContains(t, text, "PHISH")
	assert.Contains(t, text, "Hello")
}

func TestNewMessageEncodesNonASCIISubject(t *testing.T) {
	header, _ := renderMessage(t, "target@example.com", "House Party - José invited you to a party!", "Hello")

	assert.NotContains(t, header, "José")
	assert.Contains(t, header, "=?UTF-8?")
}

func TestNewMessageRejectsBadRecipient(t *testing.T) {
	_, err := newMessage("noreply@houseparty.app", "not an address", "s", "b")
	assert.Error(t, err)
}
