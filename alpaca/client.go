// Package alpaca implements the client for the observatory's REST-style
// device API. Devices are exposed as capability-typed resources under
// /api/v1/{device_type}/{device_number}; attribute reads are GETs and
// commands are PUTs carrying form-encoded parameters.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mawinkler/astrolive/errors"
)

// Alpaca error numbers that require distinct handling
const (
	errorNotImplemented = 0x400 // attribute not supported by this device
	errorInvalidValue   = 0x401
	errorValueNotSet    = 0x402
	errorNotConnected   = 0x407 // device is configured but not reachable
)

// response is the Alpaca JSON envelope carried by every reply
type response struct {
	Value               json.RawMessage `json:"Value"`
	ClientTransactionID uint32          `json:"ClientTransactionID"`
	ServerTransactionID uint32          `json:"ServerTransactionID"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
}

// Client is the shared HTTP transport to one Alpaca service
type Client struct {
	baseURL  string
	clientID int
	http     *http.Client
	logger   *slog.Logger
	txn      atomic.Uint32
}

// NewClient creates an Alpaca client for the given base URL
// (e.g. http://localhost:11111/api/v1)
func NewClient(baseURL string, clientID int, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		clientID: clientID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Device returns a capability-typed handle for one device resource
func (c *Client) Device(deviceType string, deviceNumber int) *Device {
	return &Device{
		client:       c,
		deviceType:   deviceType,
		deviceNumber: deviceNumber,
	}
}

// Device is the request/response interface for a single device resource
type Device struct {
	client       *Client
	deviceType   string
	deviceNumber int
}

// API is the device surface the pollers and the command router depend on.
// *Device implements it; tests substitute fakes.
type API interface {
	// Get reads one attribute. Attribute-level failures return
	// ErrAttributeUnavailable-classified errors; connectivity failures
	// return transient device-unreachable errors.
	Get(ctx context.Context, attribute string) (any, error)
	// GetWith reads one attribute with extra query parameters, such as
	// the Id of a switch port
	GetWith(ctx context.Context, attribute string, params map[string]string) (any, error)
	// Invoke executes one command with form parameters
	Invoke(ctx context.Context, command string, args map[string]string) error
	// Connected reports whether the device link is up
	Connected(ctx context.Context) (bool, error)
	// ImageArray reads the most recent exposure's pixel grid
	ImageArray(ctx context.Context) ([][]int32, error)
}

var _ API = (*Device)(nil)

func (d *Device) endpoint(attribute string) string {
	return fmt.Sprintf("%s/%s/%d/%s", d.client.baseURL, d.deviceType, d.deviceNumber, attribute)
}

func (d *Device) name() string {
	return fmt.Sprintf("%s/%d", d.deviceType, d.deviceNumber)
}

// Get reads one attribute from the device
func (d *Device) Get(ctx context.Context, attribute string) (any, error) {
	return d.GetWith(ctx, attribute, nil)
}

// GetWith reads one attribute with extra query parameters
func (d *Device) GetWith(ctx context.Context, attribute string, params map[string]string) (any, error) {
	query := url.Values{}
	query.Set("ClientID", fmt.Sprintf("%d", d.client.clientID))
	query.Set("ClientTransactionID", fmt.Sprintf("%d", d.client.txn.Add(1)))
	for key, value := range params {
		query.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.endpoint(attribute)+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "alpaca", "GetWith", "building request")
	}

	env, err := d.do(req, attribute)
	if err != nil {
		return nil, err
	}

	var value any
	if len(env.Value) > 0 {
		if err := json.Unmarshal(env.Value, &value); err != nil {
			return nil, errors.WrapInvalid(err, "alpaca", "GetWith", "decoding value")
		}
	}
	return value, nil
}

// Invoke executes one command on the device
func (d *Device) Invoke(ctx context.Context, command string, args map[string]string) error {
	form := url.Values{}
	form.Set("ClientID", fmt.Sprintf("%d", d.client.clientID))
	form.Set("ClientTransactionID", fmt.Sprintf("%d", d.client.txn.Add(1)))
	for key, value := range args {
		form.Set(key, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		d.endpoint(command), strings.NewReader(form.Encode()))
	if err != nil {
		return errors.WrapInvalid(err, "alpaca", "Invoke", "building request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = d.do(req, command)
	return err
}

// ImageArray reads the most recent exposure's pixel grid. The service
// delivers the grid column-major (Value[x][y]); callers needing row-major
// scanlines must transpose.
func (d *Device) ImageArray(ctx context.Context) ([][]int32, error) {
	query := url.Values{}
	query.Set("ClientID", fmt.Sprintf("%d", d.client.clientID))
	query.Set("ClientTransactionID", fmt.Sprintf("%d", d.client.txn.Add(1)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.endpoint("imagearray")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "alpaca", "ImageArray", "building request")
	}

	env, err := d.do(req, "imagearray")
	if err != nil {
		return nil, err
	}

	var grid [][]int32
	if err := json.Unmarshal(env.Value, &grid); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrImageDecodeFailure, err),
			"alpaca", "ImageArray", "decoding pixel grid")
	}
	if len(grid) == 0 || len(grid[0]) == 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: empty pixel grid", errors.ErrImageDecodeFailure),
			"alpaca", "ImageArray", "decoding pixel grid")
	}
	return grid, nil
}

// Connected reports whether the device itself considers its hardware link up
func (d *Device) Connected(ctx context.Context) (bool, error) {
	value, err := d.Get(ctx, "connected")
	if err != nil {
		return false, err
	}
	connected, ok := value.(bool)
	if !ok {
		return false, errors.WrapInvalid(
			fmt.Errorf("connected attribute returned %T", value),
			"alpaca", "Connected", "decoding value")
	}
	return connected, nil
}

// do executes the request and maps transport, HTTP and Alpaca-envelope
// failures onto the bridge error taxonomy
func (d *Device) do(req *http.Request, attribute string) (*response, error) {
	resp, err := d.client.http.Do(req)
	if err != nil {
		// Transport failure: the whole device is unreachable, not just
		// this attribute
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s: %v", errors.ErrDeviceUnreachable, d.name(), err),
			"alpaca", "do", "device request")
	}
	defer resp.Body.Close()

	// Pixel grids arrive as JSON integer arrays and dominate body size;
	// the cap only guards against a runaway response.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 256<<20))
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s: %v", errors.ErrDeviceUnreachable, d.name(), err),
			"alpaca", "do", "reading response")
	}

	if resp.StatusCode >= 500 {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s: HTTP %d", errors.ErrDeviceUnreachable, d.name(), resp.StatusCode),
			"alpaca", "do", "device request")
	}
	if resp.StatusCode >= 400 {
		// The service is reachable but rejected this attribute
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s: HTTP %d", errors.ErrAttributeUnavailable, d.name(), attribute, resp.StatusCode),
			"alpaca", "do", "device request")
	}

	var env response
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.WrapInvalid(err, "alpaca", "do", "decoding envelope")
	}

	switch env.ErrorNumber {
	case 0:
		return &env, nil
	case errorNotConnected:
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s: %s", errors.ErrDeviceUnreachable, d.name(), env.ErrorMessage),
			"alpaca", "do", "device request")
	case errorNotImplemented, errorInvalidValue, errorValueNotSet:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s: error %d: %s",
				errors.ErrAttributeUnavailable, d.name(), attribute, env.ErrorNumber, env.ErrorMessage),
			"alpaca", "do", "device request")
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s: error %d: %s",
				errors.ErrAttributeUnavailable, d.name(), attribute, env.ErrorNumber, env.ErrorMessage),
			"alpaca", "do", "device request")
	}
}
