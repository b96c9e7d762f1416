// Package zxing adapts gozxing's QR reader to qrscan.Decoder.
package zxing

import (
	"context"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Decoder reads QR codes with gozxing. Frames without a code fail with a
// gozxing NotFoundException; damaged codes with a ChecksumException or
// FormatException.
type Decoder struct {
	tryHarder bool
}

type Option func(*Decoder)

// WithTryHarder trades speed for accuracy on low contrast frames.
func WithTryHarder() Option {
	return func(d *Decoder) {
		d.tryHarder = true
	}
}

func New(opts ...Option) *Decoder {
	d := &Decoder{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) Decode(ctx context.Context, frame image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if frame == nil || frame.Bounds().Empty() {
		return "", fmt.Errorf("source width is 0")
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", fmt.Errorf("binarizing frame: %w", err)
	}
	var hints map[gozxing.DecodeHintType]interface{}
	if d.tryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		}
	}
	result, err := qrcode.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", err
	}
	return result.GetText(), nil
}

// Encode renders payload as a size x size QR image. The kiosk uses it to
// produce demo fixtures.
func Encode(payload string, size int) (image.Image, error) {
	m, err := qrcode.NewQRCodeWriter().Encode(payload, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		return nil, fmt.Errorf("encoding qr: %w", err)
	}
	return m, nil
}
