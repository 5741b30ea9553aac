package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPProviderBuildsMessage(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 2525, From: "no-reply@clientflow.local", FromName: "ClientFlow"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	err := p.Send(context.Background(), []string{" owner@example.com ", ""}, "New booking", "<p>hi</p>")
	require.NoError(t, err)
	assert.Equal(t, "smtp.local:2525", gotAddr)
	assert.Equal(t, []string{"owner@example.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: ClientFlow <no-reply@clientflow.local>\r\n"))
	assert.Contains(t, gotMsg, "Subject: New booking\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "<p>hi</p>"))
}

func TestSMTPProviderRequiresRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25})
	err := p.Send(context.Background(), nil, "s", "b")
	assert.ErrorIs(t, err, ErrNoRecipients)
}
