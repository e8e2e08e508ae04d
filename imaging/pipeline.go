package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/mawinkler/astrolive/errors"
)

// Preview bounds and encoder quality. The bounds cap the bus payload; the
// aspect ratio of the source frame is always preserved.
const (
	previewMaxWidth  = 1920
	previewMaxHeight = 1080
	jpegQuality      = 85
)

// Caption is the observational metadata rendered onto the preview. Values
// come from the component's last-known mount and filter-wheel snapshots,
// not the frame header alone.
type Caption struct {
	Object     string
	RA         string
	Dec        string
	Rotation   string
	Exposure   string
	Filter     string
	Instrument string
}

// lines renders the caption rows in display order, skipping empty fields
func (c Caption) lines() []string {
	pairs := []struct{ label, value string }{
		{"Object", c.Object},
		{"RA", c.RA},
		{"Dec", c.Dec},
		{"Rotation", c.Rotation},
		{"Exposure", c.Exposure},
		{"Filter", c.Filter},
		{"Instrument", c.Instrument},
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if p.value != "" {
			out = append(out, p.label+": "+p.value)
		}
	}
	return out
}

// StretchedImage is one finished preview ready for publication
type StretchedImage struct {
	JPEG    []byte
	Width   int
	Height  int
	Caption Caption
}

// Pipeline converts raw frames into stretched, captioned JPEG previews
type Pipeline struct {
	logger *slog.Logger
}

// NewPipeline creates an image pipeline
func NewPipeline(logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{logger: logger.With("component", "imaging")}
}

// Process turns one artifact into a preview: debayer if patterned, then
// autostretch, render, downsize and encode. The artifact's pixel slice is
// consumed and must not be reused.
func (p *Pipeline) Process(artifact *ImageArtifact, caption Caption) (*StretchedImage, error) {
	pixels := artifact.Pixels
	width, height := artifact.Width, artifact.Height
	channels := 1

	if artifact.BayerPattern != "" {
		var err error
		pixels, width, height, err = debayer(pixels, width, height, artifact.BayerPattern)
		if err != nil {
			return nil, err
		}
		channels = 3
	}

	Stretch(pixels)

	frame := render(pixels, width, height, channels)
	frame = downsize(frame)
	drawCaption(frame, caption)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.WrapInvalid(err, "imaging", "Process", "encoding preview")
	}

	bounds := frame.Bounds()
	p.logger.Debug("Processed frame",
		"source", artifact.Width, "preview", bounds.Dx(), "bytes", buf.Len())

	return &StretchedImage{
		JPEG:    buf.Bytes(),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
		Caption: caption,
	}, nil
}

// render converts stretched 0..1 samples into an 8-bit RGBA frame
func render(pixels []float64, width, height, channels int) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			o := frame.PixOffset(x, y)
			if channels == 3 {
				i := (y*width + x) * 3
				frame.Pix[o] = toByte(pixels[i])
				frame.Pix[o+1] = toByte(pixels[i+1])
				frame.Pix[o+2] = toByte(pixels[i+2])
			} else {
				v := toByte(pixels[y*width+x])
				frame.Pix[o] = v
				frame.Pix[o+1] = v
				frame.Pix[o+2] = v
			}
			frame.Pix[o+3] = 0xff
		}
	}
	return frame
}

func toByte(v float64) uint8 {
	return uint8(clamp01(v)*254.5 + 0.5)
}

// downsize scales the frame to fit the preview bounds, preserving aspect
// ratio; frames already inside the bounds pass through untouched
func downsize(frame *image.RGBA) *image.RGBA {
	bounds := frame.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= previewMaxWidth && height <= previewMaxHeight {
		return frame
	}

	scaleW := float64(previewMaxWidth) / float64(width)
	scaleH := float64(previewMaxHeight) / float64(height)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}

	outW := int(float64(width) * scale)
	outH := int(float64(height) * scale)
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.CatmullRom.Scale(out, out.Bounds(), frame, bounds, draw.Src, nil)
	return out
}

// drawCaption renders the metadata block into the lower-left corner
func drawCaption(frame *image.RGBA, caption Caption) {
	lines := caption.lines()
	if len(lines) == 0 {
		return
	}

	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil() + 2
	y := frame.Bounds().Max.Y - len(lines)*lineHeight

	drawer := &font.Drawer{
		Dst:  frame,
		Src:  image.NewUniform(color.White),
		Face: face,
	}
	for _, line := range lines {
		drawer.Dot = fixed.P(8, y)
		drawer.DrawString(line)
		y += lineHeight
	}
}
