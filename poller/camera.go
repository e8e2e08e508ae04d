package poller

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mawinkler/astrolive/errors"
	"github.com/mawinkler/astrolive/imaging"
	"github.com/mawinkler/astrolive/observatory"
)

// fileCycle serves camera_file components: telemetry comes from the newest
// stable image file's header, and each new file feeds the image pipeline.
// With no new file the previous attributes are republished for liveness.
func (p *Poller) fileCycle(_ context.Context) (observatory.Snapshot, error) {
	path, err := p.deps.Watch.Latest()
	if err != nil {
		// An unreadable monitor tree is a connectivity loss like any
		// other: the shared supervisor backs the component off
		return observatory.Snapshot{}, errors.WrapTransient(
			err, "poller", "fileCycle", "directory scan")
	}
	if path == "" {
		if last, ok := p.deps.Store.Latest(p.comp.ID); ok && last.Connected {
			return observatory.NewSnapshot(p.comp.ID, last.Attributes), nil
		}
		return observatory.NewSnapshot(p.comp.ID, map[string]string{}), nil
	}

	artifact, err := imaging.ReadFITSFile(path)
	if err != nil {
		// A malformed frame is skipped, never fatal to the poller
		p.deps.Metrics.RecordFrame(p.comp.ID, "decode_error", 0)
		p.logger.Warn("Image file decode failed", "path", path, "error", err)
		if last, ok := p.deps.Store.Latest(p.comp.ID); ok && last.Connected {
			return observatory.NewSnapshot(p.comp.ID, last.Attributes), nil
		}
		return observatory.NewSnapshot(p.comp.ID, map[string]string{}), nil
	}

	attributes := make(map[string]string)
	for _, attr := range observatory.Schema(p.comp.Kind) {
		if attr.Source == "" || !p.comp.Supports(attr.Name) {
			continue
		}
		if raw, ok := artifact.Header[attr.Source]; ok {
			attributes[attr.Name] = raw
		}
	}

	p.pendingFrame = artifact
	return observatory.NewSnapshot(p.comp.ID, attributes), nil
}

// publishFrame runs the image pipeline for camera kinds after the cycle's
// telemetry is out. Pipeline failures are reported and the frame dropped.
func (p *Poller) publishFrame(ctx context.Context, snapshot observatory.Snapshot) {
	var artifact *imaging.ImageArtifact

	switch p.comp.Kind {
	case observatory.KindCamera:
		if snapshot.Attributes["image_ready"] != "on" {
			return
		}
		grid, err := p.deps.Device.ImageArray(ctx)
		if err != nil {
			p.deps.Metrics.RecordFrame(p.comp.ID, "capture_error", 0)
			p.logger.Warn("Frame capture failed", "error", err)
			return
		}
		artifact, err = imaging.FromDeviceGrid(grid, bayerPattern(snapshot), time.Now().UTC())
		if err != nil {
			p.deps.Metrics.RecordFrame(p.comp.ID, "decode_error", 0)
			p.logger.Warn("Frame decode failed", "error", err)
			return
		}
	case observatory.KindCameraFile:
		if p.pendingFrame == nil {
			return
		}
		artifact = p.pendingFrame
		p.pendingFrame = nil
	default:
		return
	}

	started := time.Now()
	preview, err := p.deps.Pipeline.Process(artifact, p.caption(artifact, snapshot))
	if err != nil {
		p.deps.Metrics.RecordFrame(p.comp.ID, "stretch_error", time.Since(started))
		p.logger.Warn("Frame pipeline failed", "error", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/image", p.node, p.comp.TopicID())
	if err := p.deps.Bus.Publish(ctx, topic, p.deps.QoS, false, preview.JPEG); err != nil {
		p.deps.Metrics.RecordFrame(p.comp.ID, "publish_error", time.Since(started))
		p.logger.Warn("Frame publish failed", "error", err)
		return
	}
	p.deps.Metrics.RecordFrame(p.comp.ID, "success", time.Since(started))
	p.logger.Info("Published preview",
		"width", preview.Width, "height", preview.Height, "bytes", len(preview.JPEG))
}

// bayerPattern derives the mosaic pattern from the reported sensor type;
// only RGGB sensors are decoded as color, everything else renders mono
func bayerPattern(snapshot observatory.Snapshot) string {
	if strings.HasPrefix(snapshot.Attributes["sensor_type"], "RGGB") {
		return "RGGB"
	}
	return ""
}

// caption assembles the preview metadata, preferring the mount's and
// filter wheel's live snapshots over the frame header
func (p *Poller) caption(artifact *imaging.ImageArtifact, snapshot observatory.Snapshot) imaging.Caption {
	header := artifact.Header

	caption := imaging.Caption{
		Object:     header["OBJECT"],
		RA:         header["OBJCTRA"],
		Dec:        header["OBJCTDEC"],
		Rotation:   header["OBJCTROT"],
		Exposure:   header["EXPOSURE"],
		Filter:     header["FILTER"],
		Instrument: header["INSTRUME"],
	}
	if caption.Exposure == "" {
		caption.Exposure = snapshot.Attributes["last_exposure_duration"]
	}
	if caption.Instrument == "" {
		caption.Instrument = p.comp.FriendlyName
	}

	for _, other := range p.deps.Observatory.Components {
		switch other.Kind {
		case observatory.KindTelescope:
			if ra := p.deps.Store.Attribute(other.ID, "right_ascension"); ra != "" {
				caption.RA = ra
			}
			if dec := p.deps.Store.Attribute(other.ID, "declination"); dec != "" {
				caption.Dec = dec
			}
		case observatory.KindFilterWheel:
			if filter := p.deps.Store.Attribute(other.ID, "current"); filter != "" {
				caption.Filter = filter
			}
		}
	}

	// Live mount snapshots carry decimal hours/degrees; render them in
	// the same H M S form the frame headers use
	caption.RA = formatRA(caption.RA)
	caption.Dec = formatDec(caption.Dec)
	return caption
}
