package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutcome(t *testing.T) {
	errRejected := errors.New("rejected")
	isRejected := func(err error) bool { return errors.Is(err, errRejected) }

	assert.Equal(t, ResultOK, Outcome(nil, isRejected))
	assert.Equal(t, ResultRejected, Outcome(errRejected, isRejected))
	assert.Equal(t, ResultError, Outcome(errors.New("boom"), isRejected))
	assert.Equal(t, ResultError, Outcome(errors.New("boom"), nil))
}

func TestHandler_ExposesCounters(t *testing.T) {
	before := testutil.ToFloat64(Mints.WithLabelValues(ResultOK))
	Mints.WithLabelValues(ResultOK).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Mints.WithLabelValues(ResultOK)))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "tokend_mints_total"))
}
