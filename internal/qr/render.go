package qr

import (
	"errors"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
)

// Module count of a mid-size symbol; used to translate the per-module box
// size from the policy into an absolute PNG edge length.
const nominalModules = 33

// ErrUnrenderable is returned when the payload cannot be encoded as a QR
// symbol (e.g. it exceeds the capacity of the configured recovery level).
var ErrUnrenderable = errors.New("qr: payload cannot be encoded")

// Render encodes the canonical payload into a PNG image. The foreground is
// the category color on a white background, and the recovery level and sizing
// come from the injected policy.
func Render(p Payload, pol config.QRPolicy) ([]byte, error) {
	data, err := p.Marshal()
	if err != nil {
		return nil, err
	}

	q, err := qrcode.New(string(data), recoveryLevel(pol.ErrorCorrection))
	if err != nil {
		return nil, errors.Join(ErrUnrenderable, err)
	}

	q.ForegroundColor = ParseHexColor(p.CategoryColor)
	q.BackgroundColor = color.White
	q.DisableBorder = pol.Border <= 0

	size := pol.BoxSize * nominalModules
	if size < 128 {
		size = 128
	}

	png, err := q.PNG(size)
	if err != nil {
		return nil, errors.Join(ErrUnrenderable, err)
	}
	return png, nil
}

// recoveryLevel maps the policy's single-letter error-correction level onto
// the encoder's recovery levels. Unknown values fall back to Medium (15%),
// matching the policy default.
func recoveryLevel(ec string) qrcode.RecoveryLevel {
	switch ec {
	case "L":
		return qrcode.Low
	case "M":
		return qrcode.Medium
	case "Q":
		return qrcode.High
	case "H":
		return qrcode.Highest
	default:
		return qrcode.Medium
	}
}

// ParseHexColor parses a "#RRGGBB" styling hint into an opaque RGBA color.
// Malformed values fall back to black so a bad category color never blocks
// issuance.
func ParseHexColor(s string) color.Color {
	if len(s) != 7 || s[0] != '#' {
		return color.Black
	}
	var rgb [3]uint8
	for i := 0; i < 3; i++ {
		hi, ok1 := hexVal(s[1+i*2])
		lo, ok2 := hexVal(s[2+i*2])
		if !ok1 || !ok2 {
			return color.Black
		}
		rgb[i] = hi<<4 | lo
	}
	return color.RGBA{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xFF}
}

// hexVal decodes a single hex digit.
func hexVal(b byte) (uint8, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	default:
		return 0, false
	}
}
