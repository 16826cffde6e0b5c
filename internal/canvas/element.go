package canvas

// ElementType 区分画布元素的变体。
type ElementType string

const (
	TypeText  ElementType = "text"
	TypeImage ElementType = "image"
)

// 文本元素未显式设置宽高时，参与拖拽边界计算的默认盒尺寸。
const (
	defaultTextWidth  = 100.0
	defaultTextHeight = 40.0
)

// Style 描述元素的位置与视觉属性。
// 文本与图片共用同一结构，未使用的字段序列化时省略。
type Style struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	ZIndex int     `json:"zIndex"`

	// 文本属性
	Color          string `json:"color,omitempty"`
	FontSize       int    `json:"fontSize,omitempty"`
	FontWeight     string `json:"fontWeight,omitempty"`
	FontStyle      string `json:"fontStyle,omitempty"`
	TextAlign      string `json:"textAlign,omitempty"`
	TextDecoration string `json:"textDecoration,omitempty"`

	// 图片属性
	Width        float64 `json:"width,omitempty"`
	Height       float64 `json:"height,omitempty"`
	Opacity      float64 `json:"opacity,omitempty"`
	Rotation     float64 `json:"rotation,omitempty"`
	BorderWidth  float64 `json:"borderWidth,omitempty"`
	BorderColor  string  `json:"borderColor,omitempty"`
	BorderRadius float64 `json:"borderRadius,omitempty"`
}

// Element 表示画布上一个绝对定位的可视对象。
// Content 对文本元素是字面文本，对图片元素是图片数据引用。
type Element struct {
	ID      string      `json:"id"`
	Type    ElementType `json:"type"`
	Content string      `json:"content"`
	Style   Style       `json:"style"`
}

// boxSize 返回参与拖拽边界计算的元素尺寸。
func (e Element) boxSize() (w, h float64) {
	w, h = e.Style.Width, e.Style.Height
	if w <= 0 {
		w = defaultTextWidth
	}
	if h <= 0 {
		h = defaultTextHeight
	}
	return w, h
}
