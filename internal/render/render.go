package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"ngoCanvas/internal/canvas"
)

const defaultFontSize = 20

// Renderer 将画布文档栅格化为位图，用于保存时的缩略图。
// 文本使用内嵌的 Go Regular 字体绘制。
type Renderer struct {
	width  int
	height int

	fontData *sfnt.Font
	faces    map[int]font.Face
}

// NewRenderer 创建指定画布尺寸的渲染器。
func NewRenderer(width, height int) (*Renderer, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("canvas dimensions must be positive")
	}
	fnt, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse embedded font: %w", err)
	}
	return &Renderer{
		width:    width,
		height:   height,
		fontData: fnt,
		faces:    make(map[int]font.Face),
	}, nil
}

// Render 以 zIndex 升序把元素绘制到白底画布上。
func (r *Renderer) Render(elements []canvas.Element) (image.Image, error) {
	dst := imaging.New(r.width, r.height, color.White)

	ordered := make([]canvas.Element, len(elements))
	copy(ordered, elements)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Style.ZIndex < ordered[b].Style.ZIndex
	})

	for _, el := range ordered {
		switch el.Type {
		case canvas.TypeText:
			if err := r.drawText(dst, el); err != nil {
				return nil, fmt.Errorf("draw text %q: %w", el.ID, err)
			}
		case canvas.TypeImage:
			if err := r.drawImage(dst, el); err != nil {
				return nil, fmt.Errorf("draw image %q: %w", el.ID, err)
			}
		default:
			return nil, fmt.Errorf("unknown element type %q", el.Type)
		}
	}
	return dst, nil
}

// EncodePNG 渲染并编码为 PNG 字节。
func (r *Renderer) EncodePNG(elements []canvas.Element) ([]byte, error) {
	img, err := r.Render(elements)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawText(dst *image.NRGBA, el canvas.Element) error {
	size := el.Style.FontSize
	if size <= 0 {
		size = defaultFontSize
	}
	face, err := r.face(size)
	if err != nil {
		return err
	}

	col, err := parseHexColor(el.Style.Color)
	if err != nil {
		col = color.NRGBA{A: 0xff}
	}

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: face,
	}

	lineHeight := size + size/5
	ascent := face.Metrics().Ascent.Ceil()
	x := int(el.Style.Left)
	y := int(el.Style.Top) + ascent

	for _, line := range strings.Split(el.Content, "\n") {
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
		y += lineHeight
	}
	return nil
}

func (r *Renderer) drawImage(dst *image.NRGBA, el canvas.Element) error {
	src, err := decodeImageContent(el.Content)
	if err != nil {
		return err
	}

	w, h := int(el.Style.Width), int(el.Style.Height)
	if w <= 0 || h <= 0 {
		bounds := src.Bounds()
		w, h = bounds.Dx(), bounds.Dy()
	}
	scaled := imaging.Resize(src, w, h, imaging.Lanczos)

	if el.Style.Rotation != 0 {
		scaled = imaging.Rotate(scaled, -el.Style.Rotation, color.Transparent)
	}

	opacity := el.Style.Opacity
	if opacity <= 0 || opacity > 1 {
		opacity = 1
	}

	pos := image.Pt(int(el.Style.Left), int(el.Style.Top))
	*dst = *imaging.Overlay(dst, scaled, pos, opacity)

	if el.Style.BorderWidth > 0 {
		drawBorder(dst, pos, scaled.Bounds(), int(el.Style.BorderWidth), el.Style.BorderColor)
	}
	return nil
}

// drawBorder 沿图片外框绘制四条实心边。
func drawBorder(dst *image.NRGBA, pos image.Point, bounds image.Rectangle, width int, hex string) {
	col, err := parseHexColor(hex)
	if err != nil {
		col = color.NRGBA{A: 0xff}
	}
	w, h := bounds.Dx(), bounds.Dy()
	edges := []image.Rectangle{
		image.Rect(pos.X, pos.Y, pos.X+w, pos.Y+width),
		image.Rect(pos.X, pos.Y+h-width, pos.X+w, pos.Y+h),
		image.Rect(pos.X, pos.Y, pos.X+width, pos.Y+h),
		image.Rect(pos.X+w-width, pos.Y, pos.X+w, pos.Y+h),
	}
	for _, edge := range edges {
		edge = edge.Intersect(dst.Bounds())
		for y := edge.Min.Y; y < edge.Max.Y; y++ {
			for x := edge.Min.X; x < edge.Max.X; x++ {
				dst.SetNRGBA(x, y, col)
			}
		}
	}
}

func (r *Renderer) face(size int) (font.Face, error) {
	if face, ok := r.faces[size]; ok {
		return face, nil
	}
	face, err := opentype.NewFace(r.fontData, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("build font face size %d: %w", size, err)
	}
	r.faces[size] = face
	return face, nil
}

// decodeImageContent 解码图片元素的内容引用。
// 支持 data URL（data:image/...;base64,...）与裸 base64 数据。
func decodeImageContent(content string) (image.Image, error) {
	raw := content
	if strings.HasPrefix(content, "data:") {
		idx := strings.Index(content, ",")
		if idx < 0 {
			return nil, errors.New("malformed data url")
		}
		raw = content[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode image data: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// parseHexColor 解析 #RGB 或 #RRGGBB 形式的颜色。
func parseHexColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	hex := s[1:]

	parse := func(str string) (uint8, error) {
		var v uint8
		for _, ch := range str {
			v <<= 4
			switch {
			case ch >= '0' && ch <= '9':
				v |= uint8(ch - '0')
			case ch >= 'a' && ch <= 'f':
				v |= uint8(ch-'a') + 10
			case ch >= 'A' && ch <= 'F':
				v |= uint8(ch-'A') + 10
			default:
				return 0, fmt.Errorf("invalid hex digit %q", ch)
			}
		}
		return v, nil
	}

	switch len(hex) {
	case 3:
		r, err1 := parse(hex[0:1])
		g, err2 := parse(hex[1:2])
		b, err3 := parse(hex[2:3])
		if err1 != nil || err2 != nil || err3 != nil {
			return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
		}
		return color.NRGBA{R: r * 17, G: g * 17, B: b * 17, A: 0xff}, nil
	case 6:
		r, err1 := parse(hex[0:2])
		g, err2 := parse(hex[2:4])
		b, err3 := parse(hex[4:6])
		if err1 != nil || err2 != nil || err3 != nil {
			return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
		}
		return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
	default:
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
}
