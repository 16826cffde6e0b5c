package canvas

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func newEditorWithText(t *testing.T, contents ...string) (*Editor, []Element) {
	t.Helper()
	ed := NewEditor(800, 600)
	added := make([]Element, 0, len(contents))
	for _, c := range contents {
		el, err := ed.AddText(c)
		if err != nil {
			t.Fatalf("add text %q: %v", c, err)
		}
		added = append(added, el)
	}
	return ed, added
}

func TestAddTextAssignsSequentialZIndex(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b", "c")
	for i, el := range els {
		if got := el.Style.ZIndex; got != i+1 {
			t.Fatalf("element %d zIndex = %d, want %d", i, got, i+1)
		}
	}
	if ed.Len() != 3 {
		t.Fatalf("len = %d, want 3", ed.Len())
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b")
	if err := ed.UpdateStyle(els[0].ID, func(s *Style) { s.Left = 42 }); err != nil {
		t.Fatalf("update style: %v", err)
	}
	if err := ed.UpdateContent(els[1].ID, "B"); err != nil {
		t.Fatalf("update content: %v", err)
	}

	want := ed.Elements()

	const n = 3
	for i := 0; i < n; i++ {
		if !ed.Undo() {
			t.Fatalf("undo %d failed", i)
		}
	}
	for i := 0; i < n; i++ {
		if !ed.Redo() {
			t.Fatalf("redo %d failed", i)
		}
	}

	if got := ed.Elements(); !reflect.DeepEqual(got, want) {
		t.Fatalf("undo N + redo N mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestUndoRemovesOnlyMostRecentAction(t *testing.T) {
	ed, els := newEditorWithText(t, "first")
	if err := ed.UpdateStyle(els[0].ID, func(s *Style) { s.Left = 99 }); err != nil {
		t.Fatalf("move: %v", err)
	}
	if _, err := ed.AddText("second"); err != nil {
		t.Fatalf("add second: %v", err)
	}

	if !ed.Undo() {
		t.Fatal("undo failed")
	}

	got := ed.Elements()
	if len(got) != 1 {
		t.Fatalf("after undo len = %d, want 1", len(got))
	}
	// 撤销只移除最近的 add，之前的 move 仍然生效
	if got[0].Style.Left != 99 {
		t.Fatalf("move was undone: left = %v, want 99", got[0].Style.Left)
	}
}

func TestNewActionClearsRedoStack(t *testing.T) {
	ed, _ := newEditorWithText(t, "a", "b")
	if !ed.Undo() {
		t.Fatal("undo failed")
	}
	if !ed.CanRedo() {
		t.Fatal("redo stack should be populated after undo")
	}

	if _, err := ed.AddText("c"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if ed.CanRedo() {
		t.Fatal("redo stack should be cleared by a new action")
	}
	if ed.Redo() {
		t.Fatal("redo should be a no-op after a new action")
	}
}

func TestUndoRedoEmptyStacksAreNoOps(t *testing.T) {
	ed := NewEditor(800, 600)
	if ed.Undo() {
		t.Fatal("undo on empty stack should report false")
	}
	if ed.Redo() {
		t.Fatal("redo on empty stack should report false")
	}
}

func TestBringToFrontStrictlyIncreasesAtTop(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b")
	top := els[1]
	if err := ed.BringToFront(top.ID); err != nil {
		t.Fatalf("bring to front: %v", err)
	}

	var got Element
	for _, el := range ed.Elements() {
		if el.ID == top.ID {
			got = el
		}
	}
	if got.Style.ZIndex <= top.Style.ZIndex {
		t.Fatalf("zIndex = %d, want > %d even when already topmost", got.Style.ZIndex, top.Style.ZIndex)
	}
}

func TestSendToBackSetsSentinel(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b", "c")
	if err := ed.SendToBack(els[2].ID); err != nil {
		t.Fatalf("send to back: %v", err)
	}
	for _, el := range ed.Elements() {
		if el.ID == els[2].ID && el.Style.ZIndex != 1 {
			t.Fatalf("zIndex = %d, want 1", el.Style.ZIndex)
		}
	}
}

func TestMoveUpSwapsWithNeighborAndClampsAtTop(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b")

	if err := ed.MoveUp(els[0].ID); err != nil {
		t.Fatalf("move up: %v", err)
	}
	zs := map[string]int{}
	for _, el := range ed.Elements() {
		zs[el.Content] = el.Style.ZIndex
	}
	if zs["a"] != 2 || zs["b"] != 1 {
		t.Fatalf("after swap z[a]=%d z[b]=%d, want 2/1", zs["a"], zs["b"])
	}

	// a 已在最上层，再次上移是 no-op 且不产生历史记录
	before := ed.Elements()
	undoDepth := len(ed.undoStack)
	if err := ed.MoveUp(els[0].ID); err != nil {
		t.Fatalf("move up at top: %v", err)
	}
	if !reflect.DeepEqual(ed.Elements(), before) {
		t.Fatal("move up at top should be a no-op")
	}
	if len(ed.undoStack) != undoDepth {
		t.Fatal("no-op move should not record history")
	}
}

func TestMoveDownClampsAtBottom(t *testing.T) {
	ed, els := newEditorWithText(t, "a", "b")
	before := ed.Elements()
	if err := ed.MoveDown(els[0].ID); err != nil {
		t.Fatalf("move down at bottom: %v", err)
	}
	if !reflect.DeepEqual(ed.Elements(), before) {
		t.Fatal("move down at bottom should be a no-op")
	}
}

func TestDragClampsToContainerBounds(t *testing.T) {
	ed := NewEditor(800, 600)
	el, err := ed.AddImage("logo.png")
	if err != nil {
		t.Fatalf("add image: %v", err)
	}

	if err := ed.BeginDrag(el.ID); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := ed.DragTo(5000, -50); err != nil {
		t.Fatalf("drag: %v", err)
	}
	if err := ed.EndDrag(); err != nil {
		t.Fatalf("end drag: %v", err)
	}

	got := ed.Elements()[0]
	wantLeft := 800.0 - got.Style.Width
	if got.Style.Left != wantLeft {
		t.Fatalf("left = %v, want clamp to %v", got.Style.Left, wantLeft)
	}
	if got.Style.Top != 0 {
		t.Fatalf("top = %v, want clamp to 0", got.Style.Top)
	}
}

func TestDragGestureCoalescesToOneHistoryEntry(t *testing.T) {
	ed, els := newEditorWithText(t, "a")
	origin := ed.Elements()[0].Style

	if err := ed.BeginDrag(els[0].ID); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	for _, p := range []struct{ x, y float64 }{{10, 10}, {50, 80}, {120, 200}} {
		if err := ed.DragTo(p.x, p.y); err != nil {
			t.Fatalf("drag to (%v,%v): %v", p.x, p.y, err)
		}
	}
	if err := ed.EndDrag(); err != nil {
		t.Fatalf("end drag: %v", err)
	}

	// 一次撤销退回手势前的位置，而不是上一个中间位置
	if !ed.Undo() {
		t.Fatal("undo failed")
	}
	got := ed.Elements()[0].Style
	if got.Left != origin.Left || got.Top != origin.Top {
		t.Fatalf("undo restored (%v,%v), want pre-gesture (%v,%v)", got.Left, got.Top, origin.Left, origin.Top)
	}
	if ed.Undo() {
		t.Fatal("second undo should find no further drag history")
	}
}

func TestEndDragWithoutMovementRecordsNothing(t *testing.T) {
	ed, els := newEditorWithText(t, "a")
	undoDepth := len(ed.undoStack)

	if err := ed.BeginDrag(els[0].ID); err != nil {
		t.Fatalf("begin drag: %v", err)
	}
	if err := ed.EndDrag(); err != nil {
		t.Fatalf("end drag: %v", err)
	}
	if len(ed.undoStack) != undoDepth {
		t.Fatal("gesture without movement should not record history")
	}
}

func TestSerializeLoadRoundTripResetsHistory(t *testing.T) {
	ed, _ := newEditorWithText(t, "hello")
	if _, err := ed.AddImage("logo.png"); err != nil {
		t.Fatalf("add image: %v", err)
	}
	data, err := ed.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}

	loaded := NewEditor(800, 600)
	if _, err := loaded.AddText("stale"); err != nil {
		t.Fatalf("add stale: %v", err)
	}
	if err := loaded.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}

	if !reflect.DeepEqual(loaded.Elements(), ed.Elements()) {
		t.Fatal("loaded elements differ from serialized ones")
	}
	if loaded.CanUndo() || loaded.CanRedo() {
		t.Fatal("load must reset both history stacks")
	}
	if loaded.Undo() {
		t.Fatal("loading is not undoable")
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	els := []Element{
		{ID: "x", Type: TypeText, Content: "a"},
		{ID: "x", Type: TypeText, Content: "b"},
	}
	data, err := json.Marshal(els)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	ed := NewEditor(800, 600)
	if err := ed.Load(data); err == nil {
		t.Fatal("load should reject duplicate element ids")
	}
}

func TestMutationOfUnknownIDLeavesHistoryUntouched(t *testing.T) {
	ed, _ := newEditorWithText(t, "a")
	undoDepth := len(ed.undoStack)

	err := ed.UpdateStyle("missing", func(s *Style) { s.Left = 1 })
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("err = %v, want ErrElementNotFound", err)
	}
	if len(ed.undoStack) != undoDepth {
		t.Fatal("failed mutation must not record history")
	}
}

func TestSerializeEmptyDocument(t *testing.T) {
	ed := NewEditor(800, 600)
	data, err := ed.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if string(data) != "[]" {
		t.Fatalf("empty document serialized as %s, want []", data)
	}
}
