package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDecode(t *testing.T) {
	okBefore := testutil.ToFloat64(decodesTotal.WithLabelValues(ResultOK))
	badBefore := testutil.ToFloat64(decodesTotal.WithLabelValues(ResultMalformed))

	ObserveDecode(ResultOK, 42, 3*time.Millisecond)
	ObserveDecode(ResultMalformed, 0, time.Millisecond)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(decodesTotal.WithLabelValues(ResultOK)))
	assert.Equal(t, badBefore+1, testutil.ToFloat64(decodesTotal.WithLabelValues(ResultMalformed)))
}

func TestViewerGauge(t *testing.T) {
	before := testutil.ToFloat64(activeViewers)

	ViewerConnected()
	ViewerConnected()
	assert.Equal(t, before+2, testutil.ToFloat64(activeViewers))

	ViewerDisconnected()
	assert.Equal(t, before+1, testutil.ToFloat64(activeViewers))
	ViewerDisconnected()
}

func TestFramesAndGRPCCounters(t *testing.T) {
	frames := testutil.ToFloat64(framesTotal)
	FrameSent()
	assert.Equal(t, frames+1, testutil.ToFloat64(framesTotal))

	calls := testutil.ToFloat64(grpcRequests.WithLabelValues("/mazereplay.v1.ReplayService/Summary", "OK"))
	GRPCRequest("/mazereplay.v1.ReplayService/Summary", "OK")
	assert.Equal(t, calls+1, testutil.ToFloat64(grpcRequests.WithLabelValues("/mazereplay.v1.ReplayService/Summary", "OK")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	FrameSent()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mazereplay_frames_total")
}
