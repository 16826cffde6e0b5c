package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ngoCanvas/internal/database"
	"ngoCanvas/internal/tasks"
)

type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string][]byte{}}
}

func (s *fakeObjectStore) GetObject(_ context.Context, objectKey string) (io.ReadCloser, error) {
	data, ok := s.objects[objectKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", objectKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeObjectStore) UploadFile(_ context.Context, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.objects[objectKey] = data
	return nil
}

func newWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.User{}, &database.Template{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func encodeTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 30, B: 30, A: 255})
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func newThumbnailTask(t *testing.T, templateID uint) *asynq.Task {
	t.Helper()
	task, err := tasks.NewThumbnailTask(templateID, "test-correlation")
	if err != nil {
		t.Fatalf("new task: %v", err)
	}
	return task
}

func TestProcessTask_GeneratesFittedThumbnail(t *testing.T) {
	db := newWorkerTestDB(t)
	store := newFakeObjectStore()
	h := NewThumbnailHandler(db, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	imageKey := "template-images/1/original.png"
	store.objects[imageKey] = encodeTestPNG(t, 1600, 1200)

	tpl := database.Template{Name: "Flyer", Category: database.CategoryEvents, ImageKey: imageKey, UserID: 1}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	if err := h.ProcessTask(context.Background(), newThumbnailTask(t, tpl.ID)); err != nil {
		t.Fatalf("process task: %v", err)
	}

	var fresh database.Template
	if err := db.First(&fresh, tpl.ID).Error; err != nil {
		t.Fatalf("reload template: %v", err)
	}
	wantKey := "template-images/1/original-thumb.png"
	if fresh.ThumbnailKey != wantKey {
		t.Fatalf("thumbnail key = %q, want %q", fresh.ThumbnailKey, wantKey)
	}

	data, ok := store.objects[wantKey]
	if !ok {
		t.Fatal("thumbnail object not uploaded")
	}
	thumb, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	bounds := thumb.Bounds()
	if bounds.Dx() > 400 || bounds.Dy() > 300 {
		t.Fatalf("thumbnail size = %dx%d, want within 400x300", bounds.Dx(), bounds.Dy())
	}
	// 等比缩放：1600x1200 在 400x300 内应精确贴边
	if bounds != image.Rect(0, 0, 400, 300) {
		t.Fatalf("thumbnail bounds = %v", bounds)
	}
}

func TestProcessTask_SVGReusesOriginalKey(t *testing.T) {
	db := newWorkerTestDB(t)
	store := newFakeObjectStore()
	h := NewThumbnailHandler(db, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tpl := database.Template{Name: "Logo", Category: database.CategoryOther, ImageKey: "template-images/1/logo.svg", UserID: 1}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	if err := h.ProcessTask(context.Background(), newThumbnailTask(t, tpl.ID)); err != nil {
		t.Fatalf("process task: %v", err)
	}

	var fresh database.Template
	if err := db.First(&fresh, tpl.ID).Error; err != nil {
		t.Fatalf("reload template: %v", err)
	}
	if fresh.ThumbnailKey != tpl.ImageKey {
		t.Fatalf("thumbnail key = %q, want original %q", fresh.ThumbnailKey, tpl.ImageKey)
	}
}

func TestProcessTask_MissingTemplateSkipsWithoutError(t *testing.T) {
	db := newWorkerTestDB(t)
	h := NewThumbnailHandler(db, newFakeObjectStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := h.ProcessTask(context.Background(), newThumbnailTask(t, 9999)); err != nil {
		t.Fatalf("expected skip, got error: %v", err)
	}
}

func TestProcessTask_UndecodableImageSkipsWithoutRetry(t *testing.T) {
	db := newWorkerTestDB(t)
	store := newFakeObjectStore()
	h := NewThumbnailHandler(db, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	imageKey := "template-images/1/broken.png"
	store.objects[imageKey] = []byte("definitely not a png")

	tpl := database.Template{Name: "Broken", Category: database.CategoryOther, ImageKey: imageKey, UserID: 1}
	if err := db.Create(&tpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	if err := h.ProcessTask(context.Background(), newThumbnailTask(t, tpl.ID)); err != nil {
		t.Fatalf("expected skip, got error: %v", err)
	}

	var fresh database.Template
	if err := db.First(&fresh, tpl.ID).Error; err != nil {
		t.Fatalf("reload template: %v", err)
	}
	if fresh.ThumbnailKey != "" {
		t.Fatalf("thumbnail key set for broken image: %q", fresh.ThumbnailKey)
	}
}
