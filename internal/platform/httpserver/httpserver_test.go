package httpserver

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"veritas/internal/platform/logger"
)

func TestNew(t *testing.T) {
	srv := New(":0", http.NotFoundHandler(), logger.Discard())
	assert.Equal(t, ":0", srv.Addr)
	assert.NotNil(t, srv.ErrorLog)
	assert.Positive(t, srv.ReadHeaderTimeout)

	assert.Nil(t, New(":0", http.NotFoundHandler(), nil).ErrorLog)
}
