package chat

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostMessage_RequiresToken(t *testing.T) {
	c := NewClient()
	err := c.PostMessage(context.Background(), "", "C1", "hi")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPostMessage_HitsWebAPI(t *testing.T) {
	var gotChannel, gotText string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotChannel = r.Form.Get("channel")
		gotText = r.Form.Get("text")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true,"channel":"C1","ts":"1700000000.000100"}`)
	}))
	defer ts.Close()

	c := NewClient(slack.OptionAPIURL(ts.URL + "/"))
	err := c.PostMessage(context.Background(), "xoxb-test", "C1", "hello there")
	require.NoError(t, err)
	assert.Equal(t, "C1", gotChannel)
	assert.Equal(t, "hello there", gotText)
}

func TestPostMessage_APIErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":false,"error":"channel_not_found"}`)
	}))
	defer ts.Close()

	c := NewClient(slack.OptionAPIURL(ts.URL + "/"))
	err := c.PostMessage(context.Background(), "xoxb-test", "C404", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")
}
