// Package capture extracts plot images smuggled through the sandboxed
// process's stdout. The injected preamble prints each figure as a
// base64 data URI behind a sentinel marker; this package is the decoding
// side of that protocol. Both sides must change together.
package capture

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// MarkerPrefix is the sentinel that precedes a base64 data URI on its own
// stdout line.
const MarkerPrefix = "__SANDBOX_CHART__:"

// Image is one decoded figure. Ownership passes to the image store once
// extraction returns; capture keeps no durable reference.
type Image struct {
	Name   string
	Data   []byte
	Format string
	Width  int
	Height int
}

// ExtractImages scans stdout for marker lines, decodes each payload and
// strips the markers from the returned output. Undecodable payloads are
// logged and dropped rather than failing the execution.
func ExtractImages(stdout string) (string, []Image) {
	if !strings.Contains(stdout, MarkerPrefix) {
		return stdout, nil
	}

	var (
		cleaned []string
		images  []Image
	)

	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, MarkerPrefix) {
			cleaned = append(cleaned, line)
			continue
		}

		img, err := decodePayload(strings.TrimPrefix(trimmed, MarkerPrefix))
		if err != nil {
			log.Warn().Err(err).Msg("discarding undecodable chart payload")
			continue
		}
		images = append(images, img)
	}

	return strings.Join(cleaned, "\n"), images
}

func decodePayload(payload string) (Image, error) {
	format := "png"
	if strings.HasPrefix(payload, "data:") {
		rest := strings.TrimPrefix(payload, "data:image/")
		if idx := strings.Index(rest, ";base64,"); idx >= 0 {
			format = rest[:idx]
			payload = rest[idx+len(";base64,"):]
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, err
	}

	img := Image{
		Name:   uniqueName(format),
		Data:   data,
		Format: format,
	}

	// Best effort: a payload that is valid base64 but not a decodable
	// image still reaches the caller, just without dimensions.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width = cfg.Width
		img.Height = cfg.Height
	}

	return img, nil
}

// uniqueName combines a timestamp with a random suffix so two figures
// emitted within the same millisecond still get distinct names.
func uniqueName(format string) string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return "chart_" + time.Now().UTC().Format("20060102_150405") + "_" + hex.EncodeToString(suffix) + "." + format
}
