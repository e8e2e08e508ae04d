package imaging

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mawinkler/astrolive/errors"
)

// FITS primary HDUs are sequences of 2880-byte blocks: header blocks of
// 36 80-character cards followed by big-endian data blocks. Only the
// two-axis primary image is read; extensions are ignored.
const (
	fitsBlockSize = 2880
	fitsCardSize  = 80
)

// ReadFITSFile decodes the primary image of a FITS file into an artifact.
// The file's modification time becomes the artifact source time.
func ReadFITSFile(path string) (*ImageArtifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrImageDecodeFailure, err),
			"imaging", "ReadFITSFile", "opening file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrImageDecodeFailure, err),
			"imaging", "ReadFITSFile", "reading file info")
	}

	artifact, err := ReadFITS(f)
	if err != nil {
		return nil, err
	}
	artifact.SourceTime = info.ModTime()
	return artifact, nil
}

// ReadFITS decodes a FITS primary image from a stream
func ReadFITS(r io.Reader) (*ImageArtifact, error) {
	header, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	if simple := header["SIMPLE"]; simple != "T" {
		return nil, decodeErr("not a standard FITS primary HDU")
	}
	bitpix, err := headerInt(header, "BITPIX")
	if err != nil {
		return nil, err
	}
	naxis, err := headerInt(header, "NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis != 2 {
		return nil, decodeErr(fmt.Sprintf("unsupported axis count %d", naxis))
	}
	width, err := headerInt(header, "NAXIS1")
	if err != nil {
		return nil, err
	}
	height, err := headerInt(header, "NAXIS2")
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 || width*height > 1<<28 {
		return nil, decodeErr(fmt.Sprintf("implausible dimensions %dx%d", width, height))
	}

	bzero := headerFloat(header, "BZERO", 0)
	bscale := headerFloat(header, "BSCALE", 1)

	pixels, err := readData(r, bitpix, width*height, bzero, bscale)
	if err != nil {
		return nil, err
	}

	return &ImageArtifact{
		Width:        width,
		Height:       height,
		BitDepth:     absInt(bitpix),
		BayerPattern: header["BAYERPAT"],
		Pixels:       pixels,
		Header:       header,
		SourceTime:   time.Now().UTC(),
	}, nil
}

// readHeader consumes header blocks up to and including the one holding
// the END card, returning all keyword records with quoting stripped
func readHeader(r io.Reader) (map[string]string, error) {
	header := make(map[string]string)
	block := make([]byte, fitsBlockSize)

	for blocks := 0; blocks < 64; blocks++ {
		if _, err := io.ReadFull(r, block); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: truncated header: %v", errors.ErrImageDecodeFailure, err),
				"imaging", "readHeader", "reading header block")
		}
		for off := 0; off < fitsBlockSize; off += fitsCardSize {
			card := string(block[off : off+fitsCardSize])
			keyword := strings.TrimSpace(card[:8])
			if keyword == "END" {
				return header, nil
			}
			if keyword == "" || keyword == "COMMENT" || keyword == "HISTORY" {
				continue
			}
			if card[8] != '=' {
				continue
			}
			value := strings.TrimSpace(card[10:])
			if strings.HasPrefix(value, "'") {
				if end := strings.Index(value[1:], "'"); end >= 0 {
					value = strings.TrimSpace(value[1 : end+1])
				} else {
					value = strings.TrimSpace(strings.Trim(value, "'"))
				}
			} else if idx := strings.Index(value, " / "); idx >= 0 {
				value = strings.TrimSpace(value[:idx])
			}
			header[keyword] = value
		}
	}
	return nil, decodeErr("header END card not found")
}

// readData reads the big-endian sample array and applies the linear
// BZERO/BSCALE mapping, normalizing to 0..1
func readData(r io.Reader, bitpix, count int, bzero, bscale float64) ([]float64, error) {
	sampleSize := absInt(bitpix) / 8
	raw := make([]byte, count*sampleSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: truncated data: %v", errors.ErrImageDecodeFailure, err),
			"imaging", "readData", "reading samples")
	}

	pixels := make([]float64, count)
	switch bitpix {
	case 8:
		for i := 0; i < count; i++ {
			pixels[i] = clamp01((bzero + bscale*float64(raw[i])) / 255.0)
		}
	case 16:
		for i := 0; i < count; i++ {
			v := int16(binary.BigEndian.Uint16(raw[i*2:]))
			pixels[i] = clamp01((bzero + bscale*float64(v)) * intensityScale)
		}
	case 32:
		for i := 0; i < count; i++ {
			v := int32(binary.BigEndian.Uint32(raw[i*4:]))
			pixels[i] = clamp01((bzero + bscale*float64(v)) / float64(1<<32-1))
		}
	case -32:
		for i := 0; i < count; i++ {
			v := math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:]))
			pixels[i] = clamp01(bzero + bscale*float64(v))
		}
	case -64:
		for i := 0; i < count; i++ {
			v := math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))
			pixels[i] = clamp01(bzero + bscale*v)
		}
	default:
		return nil, decodeErr(fmt.Sprintf("unsupported BITPIX %d", bitpix))
	}
	return pixels, nil
}

func headerInt(header map[string]string, keyword string) (int, error) {
	raw, ok := header[keyword]
	if !ok {
		return 0, decodeErr("missing header keyword " + keyword)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, decodeErr("malformed header keyword " + keyword)
	}
	return v, nil
}

func headerFloat(header map[string]string, keyword string, fallback float64) float64 {
	raw, ok := header[keyword]
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func decodeErr(detail string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrImageDecodeFailure, detail),
		"imaging", "decode", "parsing FITS")
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
