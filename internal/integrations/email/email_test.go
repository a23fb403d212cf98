package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
)

type fakeDialer struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeDialer) DialAndSendWithContext(_ context.Context, messages ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, messages...)
	return nil
}

func testConfig() model.EmailConfig {
	return model.EmailConfig{Host: "smtp.example.com", Port: 587, Username: "bot@example.com", Password: "secret", FromName: "Acme IA"}
}

func TestSendBuildsMessage(t *testing.T) {
	d := &fakeDialer{}
	c := NewWithDialer(testConfig(), d)

	err := c.Send(context.Background(), Message{To: []string{"ana@example.com"}, Subject: "Propuesta", Body: "Hola Ana"})
	require.NoError(t, err)
	require.Len(t, d.sent, 1)

	rcpts, err := d.sent[0].GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, rcpts)
	assert.Equal(t, []string{"Propuesta"}, d.sent[0].GetGenHeader(mail.HeaderSubject))
}

func TestSendValidatesInput(t *testing.T) {
	c := NewWithDialer(testConfig(), &fakeDialer{})

	err := c.Send(context.Background(), Message{Subject: "x"})
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))

	err = c.Send(context.Background(), Message{To: []string{"not-an-address"}, Subject: "x"})
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))

	err = c.Send(context.Background(), Message{To: []string{"ana@example.com"}})
	assert.Equal(t, errx.KindValidation, errx.KindOf(err))
}

func TestSendWrapsDeliveryFailure(t *testing.T) {
	c := NewWithDialer(testConfig(), &fakeDialer{err: errors.New("535 authentication failed")})

	err := c.Send(context.Background(), Message{To: []string{"ana@example.com"}, Subject: "Hola", Body: "..."})
	require.Error(t, err)
	assert.Equal(t, errx.KindIntegration, errx.KindOf(err))
}
