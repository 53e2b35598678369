package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/mongo"
	"github.com/ftu-admissions/admission-api/internal/logger/loggertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	mu    sync.Mutex
	input []*ses.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

type memoryFailures struct {
	mu       sync.Mutex
	failures []mongo.FailedNotification
}

func (m *memoryFailures) Record(_ context.Context, failure mongo.FailedNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure)
	return nil
}

func submitted() domain.Application {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return domain.Application{
		ID:          "app-1",
		UserID:      "user-1",
		Stream:      domain.StreamMasters,
		Program:     "MSCS",
		FullName:    "Jane Doe",
		Email:       "jane@x.com",
		Documents:   []domain.Reference{{URL: "https://cdn.test/a.pdf"}},
		Status:      domain.StatusSubmitted,
		SubmittedAt: &at,
	}
}

func TestMessengerSendWithRetry(t *testing.T) {
	var calls atomic.Int32
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		if calls.Add(1) < 2 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&last))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewMessengerClient(srv.URL+"/", srv.Client())
	require.NoError(t, client.SendWithRetry(context.Background(), "discord", "user-1", "hello", 3, time.Millisecond))
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, "user-1", last["userId"])
	assert.Equal(t, "discord", last["destination"])

	assert.Error(t, client.Send(context.Background(), "discord", " ", "hello"))
	assert.Error(t, client.SendWithRetry(context.Background(), "", "user-1", "hello", 1, 0))
}

func TestEmailSenderBuildsInput(t *testing.T) {
	api := &fakeSES{}
	sender := NewEmailSender(api, "admissions@ftu.test")
	require.True(t, sender.Enabled())

	require.NoError(t, sender.Send(context.Background(), "jane@x.com", "subject", "body"))
	require.Len(t, api.input, 1)
	assert.Equal(t, "admissions@ftu.test", *api.input[0].Source)
	assert.Equal(t, []string{"jane@x.com"}, api.input[0].Destination.ToAddresses)
	assert.Equal(t, "body", *api.input[0].Message.Body.Text.Data)

	assert.Error(t, sender.Send(context.Background(), "", "s", "b"))
	assert.False(t, (*EmailSender)(nil).Enabled())
}

func TestDispatcherDeliversToAllChannels(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	api := &fakeSES{}
	failures := &memoryFailures{}
	dispatcher := NewDispatcher(Config{
		Email:                NewEmailSender(api, "admissions@ftu.test"),
		Messenger:            NewMessengerClient(srv.URL, srv.Client()),
		MessengerDestination: "discord",
		PublicBaseURL:        "https://api.test/",
		Failures:             failures,
		Logger:               loggertest.New(t),
	})

	dispatcher.NotifySubmitted(context.Background(), submitted())

	require.Len(t, api.input, 1)
	assert.Contains(t, *api.input[0].Message.Body.Text.Data, "https://api.test/applications/app-1/receipt")
	assert.EqualValues(t, 1, received.Load())
	assert.Empty(t, failures.failures)
}

func TestDispatcherPersistsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	failures := &memoryFailures{}
	dispatcher := NewDispatcher(Config{
		Email:                NewEmailSender(&fakeSES{err: errors.New("throttled")}, "admissions@ftu.test"),
		Messenger:            NewMessengerClient(srv.URL, srv.Client()),
		MessengerDestination: "discord",
		Failures:             failures,
		Attempts:             2,
		Logger:               loggertest.New(t),
	})

	dispatcher.NotifySubmitted(context.Background(), submitted())

	require.Len(t, failures.failures, 2)
	assert.Equal(t, "applicant_email", failures.failures[0].Target)
	assert.Contains(t, failures.failures[0].Error, "throttled")
	assert.Equal(t, "admin_notification", failures.failures[1].Target)
	assert.Equal(t, 2, failures.failures[1].Attempts)
	assert.Equal(t, "app-1", failures.failures[1].Payload["applicationId"])
}

func TestDispatcherWithoutChannelsIsNoop(t *testing.T) {
	failures := &memoryFailures{}
	NewDispatcher(Config{Failures: failures}).NotifySubmitted(context.Background(), submitted())
	assert.Empty(t, failures.failures)
}

func TestBuildAdminMessage(t *testing.T) {
	msg := buildAdminMessage(submitted(), "https://admin.test/applications/")
	assert.Contains(t, msg, "**Jane Doe** submitted an application.")
	assert.Contains(t, msg, "- Stream: Masters")
	assert.Contains(t, msg, "[Open in admin](https://admin.test/applications/app-1)")
}
