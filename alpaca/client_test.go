package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawinkler/astrolive/errors"
)

func newTestDevice(t *testing.T, handler http.HandlerFunc) *Device {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(server.URL+"/api/v1", 42, 5*time.Second, nil)
	return client.Device("telescope", 0)
}

func envelope(value string) string {
	return fmt.Sprintf(`{"Value":%s,"ClientTransactionID":1,"ServerTransactionID":1,"ErrorNumber":0,"ErrorMessage":""}`, value)
}

func TestGetDecodesEnvelopeValue(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v1/telescope/0/rightascension", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("ClientID"))
		assert.NotEmpty(t, r.URL.Query().Get("ClientTransactionID"))
		fmt.Fprint(w, envelope("12.5"))
	})

	value, err := device.Get(context.Background(), "rightascension")
	require.NoError(t, err)
	assert.Equal(t, 12.5, value)
}

func TestGetWithMergesQueryParams(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("Id"))
		fmt.Fprint(w, envelope("true"))
	})

	value, err := device.GetWith(context.Background(), "getswitch", map[string]string{"Id": "3"})
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestConnected(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/telescope/0/connected", r.URL.Path)
		fmt.Fprint(w, envelope("true"))
	})

	connected, err := device.Connected(context.Background())
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestInvokeSendsFormEncodedPut(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/telescope/0/slewtocoordinates", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "12.5", r.PostForm.Get("RightAscension"))
		assert.Equal(t, "-10", r.PostForm.Get("Declination"))
		assert.Equal(t, "42", r.PostForm.Get("ClientID"))
		fmt.Fprint(w, envelope("null"))
	})

	err := device.Invoke(context.Background(), "slewtocoordinates", map[string]string{
		"RightAscension": "12.5",
		"Declination":    "-10",
	})
	require.NoError(t, err)
}

func TestServerErrorsAreTransient(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := device.Get(context.Background(), "altitude")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrDeviceUnreachable)
}

func TestClientErrorsAreAttributeLevel(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such attribute", http.StatusBadRequest)
	})

	_, err := device.Get(context.Background(), "bogus")
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrAttributeUnavailable)
}

func TestTransportFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // refuse all connections
	client := NewClient(server.URL+"/api/v1", 42, time.Second, nil)

	_, err := client.Device("telescope", 0).Get(context.Background(), "altitude")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrDeviceUnreachable)
}

func TestEnvelopeNotConnectedIsTransient(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"Value":null,"ErrorNumber":1031,"ErrorMessage":"Not connected"}`)
	})

	_, err := device.Get(context.Background(), "altitude")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err), "0x407 means reachable service, dark device")
	assert.ErrorIs(t, err, errors.ErrDeviceUnreachable)
}

func TestEnvelopeNotImplementedIsAttributeLevel(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"Value":null,"ErrorNumber":1024,"ErrorMessage":"Not implemented"}`)
	})

	_, err := device.Get(context.Background(), "cancapability")
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrAttributeUnavailable)
}

func TestImageArrayDecodesGrid(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/telescope/0/imagearray", r.URL.Path)
		fmt.Fprint(w, envelope("[[1,2,3],[4,5,6]]"))
	})

	grid, err := device.ImageArray(context.Background())
	require.NoError(t, err)
	require.Len(t, grid, 2)
	assert.Equal(t, []int32{1, 2, 3}, grid[0])
	assert.Equal(t, []int32{4, 5, 6}, grid[1])
}

func TestImageArrayRejectsEmptyGrid(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, envelope("[]"))
	})

	_, err := device.ImageArray(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrImageDecodeFailure)
}

func TestImageArrayRejectsMalformedGrid(t *testing.T) {
	device := newTestDevice(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, envelope(`"not a grid"`))
	})

	_, err := device.ImageArray(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrImageDecodeFailure)
}

func TestTransactionIDsIncrement(t *testing.T) {
	var seen []string
	device := newTestDevice(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Query().Get("ClientTransactionID"))
		fmt.Fprint(w, envelope("1"))
	})

	ctx := context.Background()
	_, err := device.Get(ctx, "altitude")
	require.NoError(t, err)
	_, err = device.Get(ctx, "altitude")
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.NotEqual(t, seen[0], seen[1])
}
