package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, params)
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{FromEmail: "front@clinic.test"}, nil))
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromEmail: "front@clinic.test"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, defaultFromName, sender.fromName)

	custom := NewSendGridSender(SendGridConfig{APIKey: "test-key", FromName: "Harbor Dental"}, nil)
	require.NotNil(t, custom)
	assert.Equal(t, "Harbor Dental", custom.fromName)
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Test"})
	assert.Error(t, err)
}

func TestStubEmailSender_Send(t *testing.T) {
	assert.NoError(t, NewStubEmailSender(nil).Send(context.Background(), EmailMessage{To: "p@example.com"}))
}

func TestSESSender_Send(t *testing.T) {
	client := &mockSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "front@clinic.test", FromName: "Harbor Dental"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Subject: "Hi", Body: "text", HTML: "<p>html</p>"})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "Harbor Dental <front@clinic.test>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"p@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Hi", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "text", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "<p>html</p>", aws.ToString(in.Content.Simple.Body.Html.Data))
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&mockSES{err: errors.New("throttled")}, SESConfig{FromEmail: "front@clinic.test"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "p@example.com", Body: "text"})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSESSender_NilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestNewEmailSender_SelectsProvider(t *testing.T) {
	_, ok := NewEmailSender(ProviderConfig{Provider: "sendgrid", APIKey: "k"}, nil, nil).(*SendGridSender)
	assert.True(t, ok)

	_, ok = NewEmailSender(ProviderConfig{Provider: " SES "}, &mockSES{}, nil).(*SESSender)
	assert.True(t, ok)

	_, ok = NewEmailSender(ProviderConfig{Provider: "sendgrid"}, nil, nil).(*StubEmailSender)
	assert.True(t, ok, "missing key falls back to stub")

	_, ok = NewEmailSender(ProviderConfig{Provider: "ses"}, nil, nil).(*StubEmailSender)
	assert.True(t, ok, "missing client falls back to stub")

	_, ok = NewEmailSender(ProviderConfig{}, nil, nil).(*StubEmailSender)
	assert.True(t, ok)
}

func TestReminderEmail(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	starts := time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC)

	msg := ReminderEmail(AppointmentReminder{
		PatientName:  "Ana <Ruiz>",
		PatientEmail: "ana@example.com",
		Provider:     "Dr. Patel",
		StartsAt:     starts,
		ClinicName:   "Harbor Dental",
		Location:     ny,
	})

	assert.Equal(t, "ana@example.com", msg.To)
	assert.Equal(t, "Appointment reminder: May 4, 10:30 AM", msg.Subject)
	assert.Contains(t, msg.Body, "Hello Ana <Ruiz>,")
	assert.Contains(t, msg.Body, "at Harbor Dental on Monday, May 4 at 10:30 AM EDT with Dr. Patel.")
	assert.Contains(t, msg.HTML, "Ana &lt;Ruiz&gt;")
	assert.NotContains(t, msg.HTML, "<Ruiz>")
}

func TestReminderEmailDefaults(t *testing.T) {
	msg := ReminderEmail(AppointmentReminder{PatientEmail: "p@example.com", StartsAt: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)})
	assert.Contains(t, msg.Body, "Hello,\n")
	assert.Contains(t, msg.Body, "at our clinic on Monday, May 4 at 9:00 AM UTC.")
	assert.NotContains(t, msg.Body, " with ")
}
