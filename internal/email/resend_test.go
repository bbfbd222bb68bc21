package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEmailNotConfigured(t *testing.T) {
	err := NewResendClient("", "from@example.com").SendEmail(context.Background(), "a@b.c", "s", "<p/>")
	assert.ErrorIs(t, err, ErrEmailNotConfigured)

	err = NewResendClient("re_key", "").SendEmail(context.Background(), "a@b.c", "s", "<p/>")
	assert.ErrorIs(t, err, ErrEmailNotConfigured)
}

func TestSendAuditReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_key", r.Header.Get("Authorization"))
		var body sendEmailRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "audits@locallift.test", body.From)
		assert.Equal(t, []string{"owner@example.com"}, body.To)
		assert.Equal(t, "Your Google Business Profile audit: 72/100", body.Subject)
		assert.Contains(t, body.HTML, "Joe &amp; Sons")
		assert.Contains(t, body.HTML, "&lt;b&gt;")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	c := NewResendClient("re_key", "audits@locallift.test").WithBaseURL(srv.URL)
	score := 72
	require.NoError(t, c.SendAuditReport(context.Background(), "owner@example.com", "Joe & Sons", &score, "Score: 72/100 <b>"))
}

func TestSendEmailFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewResendClient("re_key", "audits@locallift.test").WithBaseURL(srv.URL)
	err := c.SendAuditReport(context.Background(), "owner@example.com", "Cafe", nil, "report")
	assert.ErrorIs(t, err, ErrSendFailed)
}
