package downlink

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendToRemote(t *testing.T) {
	rcv := NewReceiver()
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	a := Announcement{Name: "A2022060120000.nc", Size: 1500, CloudCover: 0.2, WaterCover: 0.9, ValidFraction: 0.6}
	require.NoError(t, SendToRemote(srv.URL, a))
	require.NoError(t, SendToRemote(srv.URL, Announcement{Name: "b", Size: 500}))

	assert.Equal(t, []Announcement{a, {Name: "b", Size: 500}}, rcv.Products())
	assert.Equal(t, uint64(2000), rcv.QueueSize())

	assert.Equal(t, uint64(1200), rcv.ReadNBytes(1200))
	assert.Equal(t, uint64(800), rcv.ReadNBytes(1200))
	assert.Equal(t, uint64(0), rcv.QueueSize())
}

func TestSendToRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := SendToRemote(srv.URL, Announcement{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestReceiverRejects(t *testing.T) {
	rcv := NewReceiver()

	w := httptest.NewRecorder()
	rcv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	rcv.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, rcv.Products())
}
