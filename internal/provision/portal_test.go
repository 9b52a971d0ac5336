package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/basic-switch/internal/credentials"
	"github.com/sweeney/basic-switch/internal/logic"
)

func newTestPortal(t *testing.T, timeout time.Duration) (*Portal, *httptest.Server) {
	t.Helper()
	log, _ := test.NewNullLogger()
	p := NewPortal(Config{SSID: logic.ConfigSSID, ReplyTimeout: timeout}, log)
	ts := httptest.NewServer(p.Handler())
	t.Cleanup(ts.Close)
	return p, ts
}

// serveOnce plays the control loop for one submission.
func serveOnce(p *Portal, reply error) <-chan Submission {
	got := make(chan Submission, 1)
	go func() {
		sub := <-p.Submissions()
		got <- sub
		sub.Reply <- reply
	}()
	return got
}

func fullForm() url.Values {
	return url.Values{
		"login":       {"user"},
		"password":    {"secret"},
		"device":      {"dev02"},
		"capability":  {"1"},
		"broker_ip":   {"192.168.1.10"},
		"broker_port": {"1883"},
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestFormListsEveryField(t *testing.T) {
	_, ts := newTestPortal(t, time.Second)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))

	body := readBody(t, resp)
	assert.Contains(t, body, logic.ConfigSSID)
	for _, f := range credentials.Fields {
		assert.Contains(t, body, fmt.Sprintf(`name="%s"`, f))
		assert.Contains(t, body, fmt.Sprintf(`maxlength="%d"`, f.MaxLen()))
	}
}

func TestSaveHandsValuesToLoop(t *testing.T) {
	p, ts := newTestPortal(t, time.Second)
	got := serveOnce(p, nil)

	resp, err := http.PostForm(ts.URL+"/save", fullForm())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Saved. dev02")

	sub := <-got
	assert.Len(t, sub.Values, len(credentials.Fields))
	assert.Equal(t, "192.168.1.10", sub.Values[credentials.FieldBrokerIP])
	assert.Equal(t, "secret", sub.Values[credentials.FieldPassword])
}

func TestSaveOmitsMissingFields(t *testing.T) {
	p, ts := newTestPortal(t, time.Second)
	got := serveOnce(p, fmt.Errorf("%w: missing [broker_port]", credentials.ErrIncompleteRecord))

	form := fullForm()
	form.Del("broker_port")
	form.Set("unrelated", "x")

	resp, err := http.PostForm(ts.URL+"/save", form)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "incomplete record")

	sub := <-got
	_, ok := sub.Values[credentials.FieldBrokerPort]
	assert.False(t, ok)
	assert.Len(t, sub.Values, len(credentials.Fields)-1)
}

func TestSaveAcceptsMixedCaseNames(t *testing.T) {
	p, ts := newTestPortal(t, time.Second)
	got := serveOnce(p, nil)

	form := fullForm()
	form.Del("broker_ip")
	form.Set("Broker_IP", "10.0.0.2")

	resp, err := http.PostForm(ts.URL+"/save", form)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	sub := <-got
	assert.Equal(t, "10.0.0.2", sub.Values[credentials.FieldBrokerIP])
}

func TestSaveRepromptsWithFieldErrors(t *testing.T) {
	p, ts := newTestPortal(t, time.Second)
	reply := errors.Join(
		&credentials.FieldError{Field: credentials.FieldDevice, Err: credentials.ErrFieldTooLong},
		&credentials.FieldError{Field: credentials.FieldBrokerPort, Err: credentials.ErrInvalidValue},
	)
	serveOnce(p, reply)

	form := fullForm()
	form.Set("device", "toolongname")
	resp, err := http.PostForm(ts.URL+"/save", form)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "field too long")
	assert.Contains(t, body, "invalid value")
	assert.Contains(t, body, `value="toolongname"`, "submitted values are kept")
	assert.NotContains(t, body, "secret", "password must not be echoed")
}

func TestSaveOutsideConfiguring(t *testing.T) {
	p, ts := newTestPortal(t, time.Second)
	serveOnce(p, fmt.Errorf("begin capture in NORMAL mode: %w", logic.ErrInvalidState))

	resp, err := http.PostForm(ts.URL+"/save", fullForm())
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "no longer in configuration mode")
}

func TestSaveLoopBusy(t *testing.T) {
	_, ts := newTestPortal(t, 20*time.Millisecond)

	resp, err := http.PostForm(ts.URL+"/save", fullForm())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "did not respond")
}

func TestSaveRequiresPost(t *testing.T) {
	_, ts := newTestPortal(t, time.Second)

	resp, err := http.Get(ts.URL + "/save")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStartStop(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewPortal(Config{Addr: "127.0.0.1:0"}, log)
	assert.False(t, p.Running())
	assert.NoError(t, p.Stop(context.Background()), "stopping a stopped portal is a no-op")

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Start())
		require.True(t, p.Running())
		require.NoError(t, p.Start(), "start while running is a no-op")

		resp, err := http.Get("http://" + p.Addr().String() + "/")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, p.Stop(ctx))
		cancel()
		assert.False(t, p.Running())
		assert.Nil(t, p.Addr())
	}
}

func TestStartBadAddr(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := NewPortal(Config{Addr: "256.0.0.1:bad"}, log)
	assert.Error(t, p.Start())
	assert.False(t, p.Running())
}

func TestFieldErrors(t *testing.T) {
	err := errors.Join(
		&credentials.FieldError{Field: credentials.FieldLogin, Err: credentials.ErrFieldTooLong},
		errors.New("unrelated"),
		&credentials.FieldError{Field: credentials.FieldLogin, Err: credentials.ErrInvalidValue},
	)
	got := fieldErrors(err)
	assert.Equal(t, map[credentials.Field]string{credentials.FieldLogin: "field too long"}, got)
	assert.Empty(t, fieldErrors(nil))
}

func TestNewFormPageGenericError(t *testing.T) {
	page := newFormPage("ssid", nil, errors.New("disk full"))
	assert.Equal(t, "disk full", page.Error)
	assert.Len(t, page.Fields, len(credentials.Fields))
	for _, f := range page.Fields {
		if f.Name == string(credentials.FieldPassword) {
			assert.True(t, f.Password)
		}
		assert.NotEmpty(t, f.Label, f.Name)
	}
}
