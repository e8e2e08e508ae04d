package poller

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawinkler/astrolive/discovery"
	"github.com/mawinkler/astrolive/health"
	"github.com/mawinkler/astrolive/imaging"
	"github.com/mawinkler/astrolive/metric"
	"github.com/mawinkler/astrolive/observatory"
	"github.com/mawinkler/astrolive/watcher"
)

// writeFITS drops a minimal 16-bit frame with the given header cards into dir
func writeFITS(t *testing.T, dir, name string, cards []string, width, height int) string {
	t.Helper()
	var buf bytes.Buffer
	header := []string{
		"SIMPLE  =                    T",
		"BITPIX  =                   16",
		"NAXIS   =                    2",
		fmt.Sprintf("NAXIS1  = %20d", width),
		fmt.Sprintf("NAXIS2  = %20d", height),
		"BZERO   =                32768",
		"BSCALE  =                    1",
	}
	header = append(header, cards...)
	header = append(header, "END")
	for _, card := range header {
		buf.WriteString(fmt.Sprintf("%-80s", card))
	}
	for buf.Len()%2880 != 0 {
		buf.WriteByte(' ')
	}
	for i := 0; i < width*height; i++ {
		_ = binary.Write(&buf, binary.BigEndian, int16(i%1000-32768))
	}
	for buf.Len()%2880 != 0 {
		buf.WriteByte(0)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func newFileHarness(t *testing.T, dir string) *harness {
	t.Helper()
	comp, err := observatory.NewComponent("gallery", observatory.KindCameraFile, 0, "Gallery", time.Second)
	require.NoError(t, err)
	comp.MonitorPath = dir

	obs := &observatory.Observatory{Name: "Test Site", Components: []*observatory.Component{comp}}
	bus := &fakeBus{}
	h := &harness{
		bus:    bus,
		store:  NewStore(),
		health: health.NewSupervisor("device", time.Second, time.Minute),
		gen:    1,
	}

	p, err := New(Deps{
		Component:   comp,
		Observatory: obs,
		Bus:         bus,
		Discovery:   discovery.NewPublisher(bus, "homeassistant", obs.NodeID(), 1, nil),
		Supervisor:  h.health,
		Store:       h.store,
		Pipeline:    imaging.NewPipeline(nil),
		Watch:       watcher.New(dir, nil),
		Metrics:     metric.NewMetrics(),
		QoS:         1,
		Session:     func() uint64 { return h.gen },
	})
	require.NoError(t, err)
	h.poller = p
	return h
}

func TestFileCyclePublishesHeaderTelemetryAndPreview(t *testing.T) {
	dir := t.TempDir()
	writeFITS(t, dir, "light_0001.fits", []string{
		"OBJECT  = 'M31     '",
		"EXPOSURE=                300.0",
		"FILTER  = 'Ha      '",
		"GAIN    =                  100",
	}, 16, 12)

	h := newFileHarness(t, dir)
	// First cycle observes the file; the watcher holds it until stable
	h.poller.cycle(context.Background())
	assert.Empty(t, h.bus.byTopic("test_site/gallery/image"))

	h.poller.cycle(context.Background())

	object := h.bus.byTopic("test_site/gallery/object_of_interest/state")
	require.NotEmpty(t, object)
	assert.Equal(t, "M31", object[len(object)-1].payload)

	exposure := h.bus.byTopic("test_site/gallery/exposure_duration/state")
	require.NotEmpty(t, exposure)
	assert.Equal(t, "300.0", exposure[len(exposure)-1].payload)

	frames := h.bus.byTopic("test_site/gallery/image")
	require.Len(t, frames, 1)
	img, err := jpeg.Decode(bytes.NewReader([]byte(frames[0].payload)))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 12, img.Bounds().Dy())
}

func TestFileCycleRepublishesTelemetryWithoutNewFile(t *testing.T) {
	dir := t.TempDir()
	writeFITS(t, dir, "light_0001.fits", []string{"OBJECT  = 'M31     '"}, 8, 8)

	h := newFileHarness(t, dir)
	h.poller.cycle(context.Background())
	h.poller.cycle(context.Background()) // delivers the frame
	h.poller.cycle(context.Background()) // no new file

	frames := h.bus.byTopic("test_site/gallery/image")
	assert.Len(t, frames, 1, "each frame processed once")

	object := h.bus.byTopic("test_site/gallery/object_of_interest/state")
	assert.Len(t, object, 2, "telemetry republished for liveness")
}

func TestFileCycleEmptyDirectoryStaysOnline(t *testing.T) {
	dir := t.TempDir()
	h := newFileHarness(t, dir)
	h.poller.cycle(context.Background())

	snapshot, ok := h.store.Latest("gallery")
	require.True(t, ok)
	assert.True(t, snapshot.Connected, "an idle gallery is not an outage")
	assert.Empty(t, snapshot.Attributes)

	availability := h.bus.byTopic("test_site/gallery/lwt")
	require.NotEmpty(t, availability)
	assert.Equal(t, "ON", availability[0].payload)
}

func TestFileCycleSkipsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.fits"), []byte("not a FITS file"), 0o600))

	h := newFileHarness(t, dir)
	h.poller.cycle(context.Background())
	h.poller.cycle(context.Background())

	assert.Empty(t, h.bus.byTopic("test_site/gallery/image"))
	snapshot, ok := h.store.Latest("gallery")
	require.True(t, ok)
	assert.True(t, snapshot.Connected)
	assert.Equal(t, health.StateHealthy, h.health.Health().State)
}

func TestFileCycleUnreadableRootIsConnectivityLoss(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "gallery")
	h := newFileHarness(t, absent)
	h.poller.cycle(context.Background())

	snapshot, ok := h.store.Latest("gallery")
	require.True(t, ok)
	assert.False(t, snapshot.Connected, "a broken gallery disk is an outage")

	availability := h.bus.byTopic("test_site/gallery/lwt")
	require.NotEmpty(t, availability)
	assert.Equal(t, "OFF", availability[0].payload)
	assert.Equal(t, health.StateDegraded, h.health.Health().State,
		"the shared supervisor must see the scan failure")
}

func TestFileCycleAnnouncesCameraEntity(t *testing.T) {
	dir := t.TempDir()
	h := newFileHarness(t, dir)
	h.poller.cycle(context.Background())

	configs := h.bus.byTopic("homeassistant/camera/test_site/gallery_image/config")
	assert.Len(t, configs, 1)
}

func TestCaptionFormatsMountCoordinates(t *testing.T) {
	h := newFileHarness(t, t.TempDir())

	mount, err := observatory.NewComponent("mount1", observatory.KindTelescope, 0, "Mount", time.Second)
	require.NoError(t, err)
	h.poller.deps.Observatory.Components = append(h.poller.deps.Observatory.Components, mount)
	h.store.Put(observatory.NewSnapshot("mount1", map[string]string{
		"right_ascension": "12.5",
		"declination":     "-16.5",
	}))

	artifact := &imaging.ImageArtifact{Header: map[string]string{"OBJECT": "M42"}}
	caption := h.poller.caption(artifact, observatory.NewSnapshot("gallery", map[string]string{}))
	assert.Equal(t, "12 30 00", caption.RA, "decimal hours render as H M S")
	assert.Equal(t, "-16 30 00", caption.Dec, "decimal degrees render as D M S")
}

func TestCaptionKeepsHeaderCoordinates(t *testing.T) {
	h := newFileHarness(t, t.TempDir())
	artifact := &imaging.ImageArtifact{Header: map[string]string{
		"OBJCTRA":  "06 31 35",
		"OBJCTDEC": "+04 58 40",
	}}
	caption := h.poller.caption(artifact, observatory.NewSnapshot("gallery", map[string]string{}))
	assert.Equal(t, "06 31 35", caption.RA)
	assert.Equal(t, "+04 58 40", caption.Dec)
}

func TestBayerPatternFromSensorType(t *testing.T) {
	rggb := observatory.NewSnapshot("cam", map[string]string{"sensor_type": "RGGB Bayer encoding"})
	assert.Equal(t, "RGGB", bayerPattern(rggb))

	mono := observatory.NewSnapshot("cam", map[string]string{"sensor_type": "Camera produces monochrome array"})
	assert.Empty(t, bayerPattern(mono))
}
