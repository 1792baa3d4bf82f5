package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/signcast/signcast/internal/config"
	"github.com/signcast/signcast/internal/models"
)

func newMediaTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Organization{}, &models.MediaList{}, &models.MediaItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&models.Organization{ID: "org-1", Name: "acme"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	cfg := &config.Config{MediaRoot: t.TempDir()}
	svc, err := NewService(db, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func sampleItems() []ItemInput {
	return []ItemInput{
		{Title: "welcome", ContentType: "image/png", URI: "https://cdn.example.com/welcome.png", Duration: 15 * time.Second},
		{Title: "menu", ContentType: "video/mp4", URI: "https://cdn.example.com/menu.mp4", Duration: 30 * time.Second},
	}
}

func TestCreateAndFindList(t *testing.T) {
	svc, _ := newMediaTestService(t)
	ctx := context.Background()

	created, err := svc.CreateList(ctx, "org-1", "lobby loop", true, sampleItems())
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	list, err := svc.FindList(ctx, created.ID)
	if err != nil {
		t.Fatalf("find list: %v", err)
	}
	if list.Name != "lobby loop" || !list.Loop {
		t.Fatalf("unexpected list: %+v", list)
	}
	if len(list.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(list.Items))
	}
	if list.Items[0].Position != 0 || list.Items[1].Position != 1 {
		t.Fatalf("items out of order: %+v", list.Items)
	}
	if list.Items[0].Title != "welcome" {
		t.Fatalf("first item = %q, want welcome", list.Items[0].Title)
	}
}

func TestCreateListRequiresName(t *testing.T) {
	svc, _ := newMediaTestService(t)
	if _, err := svc.CreateList(context.Background(), "org-1", "", true, nil); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestFindListNotFound(t *testing.T) {
	svc, _ := newMediaTestService(t)
	if _, err := svc.FindList(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateListReplacesItems(t *testing.T) {
	svc, db := newMediaTestService(t)
	ctx := context.Background()

	created, err := svc.CreateList(ctx, "org-1", "lobby loop", true, sampleItems())
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	updated, err := svc.UpdateList(ctx, created.ID, "evening loop", false, []ItemInput{
		{Title: "closing", ContentType: "image/png", Duration: 20 * time.Second},
	})
	if err != nil {
		t.Fatalf("update list: %v", err)
	}
	if updated.Name != "evening loop" || updated.Loop {
		t.Fatalf("unexpected list after update: %+v", updated)
	}

	var count int64
	db.Model(&models.MediaItem{}).Where("media_list_id = ?", created.ID).Count(&count)
	if count != 1 {
		t.Fatalf("items = %d after update, want 1", count)
	}
}

func TestDeleteListRemovesItems(t *testing.T) {
	svc, db := newMediaTestService(t)
	ctx := context.Background()

	created, err := svc.CreateList(ctx, "org-1", "lobby loop", true, sampleItems())
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if err := svc.DeleteList(ctx, created.ID); err != nil {
		t.Fatalf("delete list: %v", err)
	}

	var lists, items int64
	db.Model(&models.MediaList{}).Count(&lists)
	db.Model(&models.MediaItem{}).Count(&items)
	if lists != 0 || items != 0 {
		t.Fatalf("lists = %d items = %d after delete", lists, items)
	}
}

func TestStoreAssetWritesFileAndURI(t *testing.T) {
	svc, _ := newMediaTestService(t)
	ctx := context.Background()

	created, err := svc.CreateList(ctx, "org-1", "lobby loop", true, sampleItems())
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	itemID := created.Items[0].ID

	item, err := svc.StoreAsset(ctx, itemID, "welcome.png", strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("store asset: %v", err)
	}
	if item.StorageKey == "" {
		t.Fatal("storage key not recorded")
	}
	if !strings.HasPrefix(item.URI, "/media/") {
		t.Fatalf("uri = %q, want /media/ prefix", item.URI)
	}

	fs, ok := svc.storage.(*FilesystemStorage)
	if !ok {
		t.Fatalf("expected filesystem storage, got %T", svc.storage)
	}
	data, err := os.ReadFile(filepath.Join(fs.rootDir, item.StorageKey))
	if err != nil {
		t.Fatalf("read stored asset: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("stored bytes = %q", data)
	}
}

func TestStoreAssetUnknownItem(t *testing.T) {
	svc, _ := newMediaTestService(t)
	if _, err := svc.StoreAsset(context.Background(), "missing", "a.png", strings.NewReader("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPlaylistForEngine(t *testing.T) {
	svc, _ := newMediaTestService(t)
	ctx := context.Background()

	created, err := svc.CreateList(ctx, "org-1", "lobby loop", true, sampleItems())
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	pl, err := svc.PlaylistForEngine(ctx, created.ID)
	if err != nil {
		t.Fatalf("playlist: %v", err)
	}
	if pl.MediaListID != created.ID || !pl.Loop {
		t.Fatalf("unexpected playlist: %+v", pl)
	}
	if len(pl.Items) != 2 || pl.Items[0].Title != "welcome" || pl.Items[1].Duration != 30*time.Second {
		t.Fatalf("unexpected playlist items: %+v", pl.Items)
	}

	if _, err := svc.PlaylistForEngine(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
