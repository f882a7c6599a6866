package resilience

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.False(t, IsTransient(nil))
	})

	t.Run("transient error type", func(t *testing.T) {
		assert.True(t, IsTransient(NewTransientError(eris.New("503"), 503)))
	})

	t.Run("wrapped transient error", func(t *testing.T) {
		err := eris.Wrap(NewTransientError(eris.New("503"), 503), "fetch")
		assert.True(t, IsTransient(err))
	})

	t.Run("quota error", func(t *testing.T) {
		assert.True(t, IsTransient(&QuotaError{Service: "search"}))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsTransient(eris.New("not found")))
	})

	t.Run("message heuristics", func(t *testing.T) {
		assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
		assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
	})
}

func TestIsQuota(t *testing.T) {
	assert.True(t, IsQuota(eris.Wrap(&QuotaError{Service: "extract"}, "call")))
	assert.False(t, IsQuota(eris.New("nope")))
}

func TestQuotaError_Message(t *testing.T) {
	e := &QuotaError{Service: "search", RetryAfter: 2 * time.Second}
	assert.Contains(t, e.Error(), "retry after")

	e2 := &QuotaError{Service: "search"}
	assert.Contains(t, e2.Error(), "quota exceeded")
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(eris.New("x"), 500)))
	assert.Equal(t, "permanent", ClassifyError(eris.New("x")))
}
