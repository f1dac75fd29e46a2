package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTemplateRendersAndSends(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	p := NewSMTP(Config{Host: "mail.local", Port: 2525, From: "partners@example.com"})
	p.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := SendTemplate(context.Background(), p, []string{"ada@example.com"}, "attribution_created", map[string]any{
		"display_name": "Ada",
		"code":         "ADA2026",
	})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, "partners@example.com", gotFrom)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: You have a new referral")
	assert.Contains(t, string(gotMsg), "X-Template: attribution_created")
	assert.Contains(t, string(gotMsg), "<strong>ADA2026</strong>")
}

func TestRenderSubjectOverrideAndEscaping(t *testing.T) {
	subject, body, err := Render("partner_rejected", map[string]any{
		"subject":      "Custom",
		"display_name": "<b>x</b>",
		"review_note":  "Incomplete profile",
	})
	require.NoError(t, err)
	assert.Equal(t, "Custom", subject)
	assert.Contains(t, body, "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, body, "Incomplete profile")

	_, _, err = Render("missing", nil)
	assert.Error(t, err)
}

func TestDeliverRequiresRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "mail.local", Port: 25})
	assert.ErrorIs(t, p.Deliver(context.Background(), Message{Subject: "s"}), ErrNoRecipients)
	assert.ErrorIs(t, SendTemplate(context.Background(), Discard{}, nil, "payout_paid", nil), ErrNoRecipients)
	assert.NoError(t, Discard{}.Deliver(context.Background(), Message{To: []string{"a@b.c"}}))
}
