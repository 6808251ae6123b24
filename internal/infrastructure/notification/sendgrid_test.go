package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendgridMailer_Send(t *testing.T) {
	var got struct {
		auth string
		path string
		body map[string]any
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")
		got.path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got.body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewSendgridMailer(SendgridConfig{APIKey: "SG.key", FromEmail: "bursar@school.example", FromName: "Bursary", Host: srv.URL}, nil)
	err := m.Send(context.Background(), Message{
		To:      mail.Address{Name: "Ada Obi", Address: "ada@example.com"},
		Subject: "Payment receipt RCP1",
		Text:    "plain",
		HTML:    "<p>html</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer SG.key", got.auth)
	assert.Equal(t, "/v3/mail/send", got.path)
	from := got.body["from"].(map[string]any)
	assert.Equal(t, "bursar@school.example", from["email"])
	p := got.body["personalizations"].([]any)[0].(map[string]any)
	assert.Equal(t, "Payment receipt RCP1", p["subject"])
	assert.Equal(t, "ada@example.com", p["to"].([]any)[0].(map[string]any)["email"])
	assert.Len(t, got.body["content"], 2)
}

func TestSendgridMailer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()
	m := NewSendgridMailer(SendgridConfig{APIKey: "wrong", FromEmail: "a@b.c", Host: srv.URL}, nil)

	t.Run("rejected", func(t *testing.T) {
		err := m.Send(context.Background(), Message{To: mail.Address{Address: "x@y.z"}, Subject: "s", Text: "t"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 401")
	})

	t.Run("no recipient", func(t *testing.T) {
		err := m.Send(context.Background(), Message{Subject: "s"})
		assert.ErrorContains(t, err, "no recipient")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := m.Send(ctx, Message{To: mail.Address{Address: "x@y.z"}})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
