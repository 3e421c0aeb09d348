package render

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
	"golang.org/x/image/bmp"
)

// Format is a supported download format for a rendered code.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpg"
	FormatBMP  Format = "bmp"
	FormatSVG  Format = "svg"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "bmp":
		return FormatBMP, nil
	case "svg":
		return FormatSVG, nil
	default:
		return "", fmt.Errorf("unsupported format %q", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatBMP:
		return "image/bmp"
	case FormatSVG:
		return "image/svg+xml"
	default:
		return "image/png"
	}
}

// Renderer turns a code payload into image bytes. Rendering is stateless;
// implementations carry no request context.
type Renderer interface {
	Render(payload string, format Format) ([]byte, error)
}

// QRRenderer renders QR codes at a fixed raster size with low error
// correction, the same parameters the printable codes were issued with.
type QRRenderer struct {
	size int
}

func NewQRRenderer(size int) *QRRenderer {
	if size <= 0 {
		size = 512
	}
	return &QRRenderer{size: size}
}

func (r *QRRenderer) Render(payload string, format Format) ([]byte, error) {
	switch format {
	case FormatPNG:
		return qrcode.Encode(payload, qrcode.Low, r.size)
	case FormatJPEG:
		q, err := qrcode.New(payload, qrcode.Low)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, q.Image(r.size), nil); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatBMP:
		q, err := qrcode.New(payload, qrcode.Low)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := bmp.Encode(&buf, q.Image(r.size)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatSVG:
		q, err := qrcode.New(payload, qrcode.Low)
		if err != nil {
			return nil, err
		}
		return renderSVG(q.Bitmap()), nil
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// renderSVG emits one path element covering all dark modules. The bitmap
// already includes the quiet zone.
func renderSVG(bitmap [][]bool) []byte {
	n := len(bitmap)
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, n, n)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#ffffff"/>`, n, n)
	b.WriteString(`<path fill="#000000" d="`)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	b.WriteString(`"/></svg>`)
	return []byte(b.String())
}
