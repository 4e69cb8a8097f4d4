package mailer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

type sent struct {
	from string
	to   []string
	raw  string
}

func TestSend(t *testing.T) {
	var deliveries []sent
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		var buf bytes.Buffer
		if _, err := msg.WriteTo(&buf); err != nil {
			return err
		}
		deliveries = append(deliveries, sent{from: from, to: to, raw: buf.String()})
		return nil
	})

	m, err := NewMailer("billing@example.com", sender, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), "jane@example.com", "Payment receipt", "Thanks! Invoice: in_1"))

	require.Len(t, deliveries, 1)
	assert.Equal(t, "billing@example.com", deliveries[0].from)
	assert.Equal(t, []string{"jane@example.com"}, deliveries[0].to)
	assert.Contains(t, deliveries[0].raw, "Subject: Payment receipt")
	assert.Contains(t, deliveries[0].raw, "Thanks! Invoice: in_1")
}

func TestSendFailure(t *testing.T) {
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		return fmt.Errorf("connection refused")
	})
	m, err := NewMailer("billing@example.com", sender, zap.NewNop())
	require.NoError(t, err)

	assert.Error(t, m.Send(context.Background(), "jane@example.com", "Payment receipt", "body"))
}

func TestSendCanceled(t *testing.T) {
	called := false
	sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		called = true
		return nil
	})
	m, err := NewMailer("billing@example.com", sender, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.Send(ctx, "jane@example.com", "Payment receipt", "body"))
	assert.False(t, called)
}

func TestNewMailerValidation(t *testing.T) {
	_, err := NewSMTPMailer(Options{From: "billing@example.com", Logger: zap.NewNop()})
	assert.Error(t, err)

	_, err = NewMailer("", gomail.SendFunc(func(string, []string, io.WriterTo) error { return nil }), zap.NewNop())
	assert.Error(t, err)
}
