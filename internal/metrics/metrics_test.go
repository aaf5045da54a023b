package metrics

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RoanBrand/minimq/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, e *Engine) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Router(e, func() Status { return Status{} }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestEngineCounters(t *testing.T) {
	t.Parallel()

	e := New()
	e.FrameSent(model.PUBLISH, 10)
	e.FrameSent(model.PUBLISH, 5)
	e.FrameReceived(model.CONNACK)
	e.ResponseTimeout()
	e.EngineError(model.ErrAckOfUnknown)
	e.EngineError(io.EOF)
	e.Connected(true)

	body := scrape(t, e)
	for _, exp := range []string{
		`minimq_frames_sent_total{type="PUBLISH"} 2`,
		`minimq_sent_bytes_total 15`,
		`minimq_frames_received_total{type="CONNACK"} 1`,
		`minimq_response_timeouts_total 1`,
		`minimq_errors_total{error="mqtt: acknowledgement of unknown request"} 1`,
		`minimq_errors_total{error="transport"} 1`,
		`minimq_connected 1`,
	} {
		assert.Contains(t, body, exp)
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	e := New()
	e.Registry().MustRegister(NewOutputsCollector(func() []bool { return []bool{true, false} }))
	e.FrameSent(model.CONNECT, 17)

	srv := httptest.NewServer(Router(e, func() Status {
		return Status{ClientID: "dev", Connected: true, Outputs: []bool{true, false}}
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `minimq_frames_sent_total{type="CONNECT"} 1`))
	assert.True(t, strings.Contains(string(body), `minimq_device_output_on{output="01"} 1`))

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var s Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	assert.Equal(t, "dev", s.ClientID)
	assert.Equal(t, []bool{true, false}, s.Outputs)
}
