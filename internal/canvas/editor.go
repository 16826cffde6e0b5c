package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrEmptyContent    = errors.New("element content is empty")
	ErrNoActiveDrag    = errors.New("no active drag gesture")
	ErrDragInProgress  = errors.New("drag gesture already active")
)

// Editor 维护单个文档的元素列表与线性撤销/重做历史。
// 非并发安全：与 UI 事件循环同线程使用。
type Editor struct {
	width  float64
	height float64

	elements  []Element
	undoStack [][]Element
	redoStack [][]Element

	drag *dragState
}

type dragState struct {
	id     string
	before []Element
	moved  bool
}

// NewEditor 创建指定容器尺寸的空文档编辑器。
func NewEditor(width, height float64) *Editor {
	return &Editor{
		width:  width,
		height: height,
	}
}

// Elements 返回当前元素列表的副本。
func (ed *Editor) Elements() []Element {
	return cloneElements(ed.elements)
}

// Len 返回当前元素数量。
func (ed *Editor) Len() int { return len(ed.elements) }

// CanUndo 报告撤销栈是否非空。
func (ed *Editor) CanUndo() bool { return len(ed.undoStack) > 0 }

// CanRedo 报告重做栈是否非空。
func (ed *Editor) CanRedo() bool { return len(ed.redoStack) > 0 }

// AddText 追加一个文本元素，初始位置居中，层级置于最上。
func (ed *Editor) AddText(content string) (Element, error) {
	if content == "" {
		return Element{}, ErrEmptyContent
	}
	el := Element{
		ID:      uuid.NewString(),
		Type:    TypeText,
		Content: content,
		Style: Style{
			Left:       ed.width/2 - 50,
			Top:        ed.height/2 - 20,
			ZIndex:     len(ed.elements) + 1,
			Color:      "#000000",
			FontSize:   20,
			FontWeight: "normal",
			FontStyle:  "normal",
			TextAlign:  "left",
		},
	}
	ed.commit(append(cloneElements(ed.elements), el))
	return el, nil
}

// AddImage 追加一个图片元素，content 为图片数据引用。
func (ed *Editor) AddImage(content string) (Element, error) {
	if content == "" {
		return Element{}, ErrEmptyContent
	}
	el := Element{
		ID:      uuid.NewString(),
		Type:    TypeImage,
		Content: content,
		Style: Style{
			Left:        ed.width/2 - 100,
			Top:         ed.height/2 - 100,
			ZIndex:      len(ed.elements) + 1,
			Width:       200,
			Height:      200,
			Opacity:     1,
			BorderColor: "#000000",
		},
	}
	ed.commit(append(cloneElements(ed.elements), el))
	return el, nil
}

// UpdateStyle 原地修改指定元素的样式，其余元素不受影响。
func (ed *Editor) UpdateStyle(id string, apply func(*Style)) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("update style %q: %w", id, ErrElementNotFound)
	}
	next := cloneElements(ed.elements)
	apply(&next[idx].Style)
	ed.commit(next)
	return nil
}

// UpdateContent 替换指定元素的内容。
func (ed *Editor) UpdateContent(id, content string) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("update content %q: %w", id, ErrElementNotFound)
	}
	next := cloneElements(ed.elements)
	next[idx].Content = content
	ed.commit(next)
	return nil
}

// Delete 移除指定元素。
func (ed *Editor) Delete(id string) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("delete %q: %w", id, ErrElementNotFound)
	}
	next := make([]Element, 0, len(ed.elements)-1)
	for i, el := range ed.elements {
		if i != idx {
			next = append(next, el)
		}
	}
	ed.commit(next)
	return nil
}

// Undo 回退到最近一次提交前的状态；历史为空时不做任何事。
func (ed *Editor) Undo() bool {
	if len(ed.undoStack) == 0 {
		return false
	}
	prev := ed.undoStack[len(ed.undoStack)-1]
	ed.undoStack = ed.undoStack[:len(ed.undoStack)-1]
	ed.redoStack = append(ed.redoStack, ed.elements)
	ed.elements = prev
	return true
}

// Redo 恢复最近一次被撤销的状态；重做栈为空时不做任何事。
func (ed *Editor) Redo() bool {
	if len(ed.redoStack) == 0 {
		return false
	}
	next := ed.redoStack[len(ed.redoStack)-1]
	ed.redoStack = ed.redoStack[:len(ed.redoStack)-1]
	ed.undoStack = append(ed.undoStack, ed.elements)
	ed.elements = next
	return true
}

// BringToFront 将元素层级提到全局最大值之上。
// 即使元素已处于最上层，层级值仍严格增加。
func (ed *Editor) BringToFront(id string) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("bring to front %q: %w", id, ErrElementNotFound)
	}
	maxZ := 0
	for _, el := range ed.elements {
		if el.Style.ZIndex > maxZ {
			maxZ = el.Style.ZIndex
		}
	}
	next := cloneElements(ed.elements)
	next[idx].Style.ZIndex = maxZ + 1
	ed.commit(next)
	return nil
}

// SendToBack 将元素层级置为最小哨兵值 1。
func (ed *Editor) SendToBack(id string) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("send to back %q: %w", id, ErrElementNotFound)
	}
	next := cloneElements(ed.elements)
	next[idx].Style.ZIndex = 1
	ed.commit(next)
	return nil
}

// MoveUp 与层叠顺序中紧邻的上层元素交换层级；已在最上层时为 no-op。
func (ed *Editor) MoveUp(id string) error {
	return ed.swapWithNeighbor(id, +1)
}

// MoveDown 与层叠顺序中紧邻的下层元素交换层级；已在最下层时为 no-op。
func (ed *Editor) MoveDown(id string) error {
	return ed.swapWithNeighbor(id, -1)
}

func (ed *Editor) swapWithNeighbor(id string, direction int) error {
	idx := ed.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("move layer %q: %w", id, ErrElementNotFound)
	}

	// 按 zIndex 升序（相同 zIndex 按列表顺序）确定层叠位置。
	order := make([]int, len(ed.elements))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return ed.elements[order[a]].Style.ZIndex < ed.elements[order[b]].Style.ZIndex
	})

	pos := -1
	for p, i := range order {
		if i == idx {
			pos = p
			break
		}
	}

	neighborPos := pos + direction
	if neighborPos < 0 || neighborPos >= len(order) {
		return nil
	}
	neighborIdx := order[neighborPos]

	next := cloneElements(ed.elements)
	next[idx].Style.ZIndex, next[neighborIdx].Style.ZIndex =
		next[neighborIdx].Style.ZIndex, next[idx].Style.ZIndex
	ed.commit(next)
	return nil
}

// BeginDrag 开始一次拖拽手势，记录手势前的快照。
func (ed *Editor) BeginDrag(id string) error {
	if ed.drag != nil {
		return ErrDragInProgress
	}
	if ed.indexOf(id) < 0 {
		return fmt.Errorf("begin drag %q: %w", id, ErrElementNotFound)
	}
	ed.drag = &dragState{
		id:     id,
		before: cloneElements(ed.elements),
	}
	return nil
}

// DragTo 在拖拽过程中持续更新元素位置，并夹紧到容器边界。
// 拖拽中的中间位置不产生历史记录。
func (ed *Editor) DragTo(left, top float64) error {
	if ed.drag == nil {
		return ErrNoActiveDrag
	}
	idx := ed.indexOf(ed.drag.id)
	if idx < 0 {
		return fmt.Errorf("drag %q: %w", ed.drag.id, ErrElementNotFound)
	}

	el := &ed.elements[idx]
	w, h := el.boxSize()
	el.Style.Left = clamp(left, 0, ed.width-w)
	el.Style.Top = clamp(top, 0, ed.height-h)
	ed.drag.moved = true
	return nil
}

// EndDrag 结束拖拽手势。整个手势只产生一条历史记录；
// 没有实际移动时不记录任何历史。
func (ed *Editor) EndDrag() error {
	if ed.drag == nil {
		return ErrNoActiveDrag
	}
	drag := ed.drag
	ed.drag = nil

	if !drag.moved {
		return nil
	}
	ed.undoStack = append(ed.undoStack, drag.before)
	ed.redoStack = nil
	return nil
}

// Serialize 将元素列表序列化为 JSON 文本，作为模板的 customization 数据。
func (ed *Editor) Serialize() ([]byte, error) {
	if ed.elements == nil {
		return json.Marshal([]Element{})
	}
	return json.Marshal(ed.elements)
}

// Load 用存储的文档替换元素列表，并清空两个历史栈。
// 加载不可撤销回加载前的状态。
func (ed *Editor) Load(data []byte) error {
	var elements []Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return fmt.Errorf("decode customization: %w", err)
	}

	seen := make(map[string]struct{}, len(elements))
	for _, el := range elements {
		if el.ID == "" {
			return errors.New("element id is empty")
		}
		if _, dup := seen[el.ID]; dup {
			return fmt.Errorf("duplicate element id %q", el.ID)
		}
		seen[el.ID] = struct{}{}
		switch el.Type {
		case TypeText, TypeImage:
		default:
			return fmt.Errorf("unknown element type %q", el.Type)
		}
	}

	ed.elements = elements
	ed.undoStack = nil
	ed.redoStack = nil
	ed.drag = nil
	return nil
}

// commit 把当前状态压入撤销栈、应用新状态并清空重做栈。
// 任何新动作都会使先前撤销出的未来状态全部失效。
func (ed *Editor) commit(next []Element) {
	ed.undoStack = append(ed.undoStack, ed.elements)
	ed.redoStack = nil
	ed.elements = next
}

func (ed *Editor) indexOf(id string) int {
	for i, el := range ed.elements {
		if el.ID == id {
			return i
		}
	}
	return -1
}

func cloneElements(elements []Element) []Element {
	out := make([]Element, len(elements))
	copy(out, elements)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
