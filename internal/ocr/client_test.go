package ocr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/guarda/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.OCRConfig{URL: srv.URL + "/v1/recognize", Country: "br", Timeout: 2 * time.Second})
}

func TestReadPlatePicksHighestConfidence(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "br", r.URL.Query().Get("country"))

		file, _, err := r.FormFile("image")
		require.NoError(t, err)
		data, _ := io.ReadAll(file)
		assert.Equal(t, "jpegbytes", string(data))

		_, _ = w.Write([]byte(`{"results":[
			{"plate":"ABC1Z34","confidence":71.2,"candidates":[{"plate":"ABC1234","confidence":88.5},{"plate":"A8C1234","confidence":60}]},
			{"plate":"XYZ9999","confidence":40}
		]}`))
	})

	text, err := c.ReadPlate(context.Background(), []byte("jpegbytes"))
	require.NoError(t, err)
	assert.Equal(t, "ABC1234", text)
}

func TestReadPlateNoResults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	text, err := c.ReadPlate(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestReadPlateServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ReadPlate(context.Background(), []byte("x"))
	require.Error(t, err)
}

func TestReadPlateErrorField(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[],"error":"bad image"}`))
	})

	_, err := c.ReadPlate(context.Background(), []byte("x"))
	require.ErrorContains(t, err, "bad image")
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(config.OCRConfig{})
	assert.False(t, c.Enabled())
	_, err := c.ReadPlate(context.Background(), []byte("x"))
	require.Error(t, err)
}
