package certificates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"smilecert/internal/cache"
	"smilecert/internal/config"
	"smilecert/internal/db"
	"smilecert/internal/models"
	"smilecert/internal/repository"
	"smilecert/internal/storage"
)

const validFormula = `{"top":{"left":[true,false,false,false,false,false,false,false],"right":[false,false,false,false,false,false,false,false]}}`

type fixture struct {
	svc   *Service
	repo  *repository.Repository
	store *storage.MemoryStore
	views *cache.ViewCache
}

func newFixture(t *testing.T, policy string) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repository.New(gdb)
	store := storage.NewMemoryStore("https://mem.local/certs")
	views := cache.NewViewCache(16, time.Minute)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(repo, store, views, Options{
		Bucket:         "certs",
		ReplacedFiles:  policy,
		MaxUploadBytes: 1 << 20,
		Now:            func() time.Time { return now },
	})
	return &fixture{svc: svc, repo: repo, store: store, views: views}
}

func upload(name, body string) *Upload {
	return &Upload{Filename: name, ContentType: "application/octet-stream", Size: int64(len(body)), Body: strings.NewReader(body)}
}

func createInput() CreateInput {
	return CreateInput{
		Title:            "Upper veneers",
		InstallationDate: "2024-05-20",
		Details:          Details{DoctorFirstName: " Anna ", ClinicName: "Smile Lab"},
		DentalFormula:    validFormula,
		Owner:            &Owner{Email: "Patient@Example.com", FirstName: "Pat", LastName: "Smith"},
		SmilePhoto:       upload("smile.jpg", "jpeg-bytes"),
		DigitalCopy:      upload("scan.zip", "zip-bytes"),
	}
}

func TestCreateStoresTwoDistinctFiles(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	c := res.Certificate
	if c.SmilePhotoID == c.DigitalCopyID {
		t.Fatal("smile photo and digital copy must be distinct files")
	}
	for _, file := range []models.File{c.SmilePhoto, c.DigitalCopy} {
		if strings.Contains(file.Link, "?") {
			t.Fatalf("stored link must not carry a query string: %s", file.Link)
		}
		if !f.store.Has(file.Key) {
			t.Fatalf("object %s missing from storage", file.Key)
		}
	}
	if !strings.HasPrefix(c.SmilePhoto.Key, "certificates/smile-1717236000000-admin-1-") || !strings.HasSuffix(c.SmilePhoto.Key, ".jpg") {
		t.Fatalf("unexpected smile key %s", c.SmilePhoto.Key)
	}
	if c.DoctorFirstName != "Anna" || !c.DentalFormula.Top.Left[0] || c.DentalFormula.Count() != 1 {
		t.Fatalf("unexpected certificate fields: %+v", c)
	}
	if c.User == nil || c.User.Email != "patient@example.com" || c.User.Name != "Pat Smith" {
		t.Fatalf("owner not linked: %+v", c.User)
	}
}

func TestCreateValidatesBeforeUpload(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	cases := map[string]func(*CreateInput){
		"bad formula":     func(in *CreateInput) { in.DentalFormula = `{"top":{"left":[true]}}` },
		"no title":        func(in *CreateInput) { in.Title = "  " },
		"bad date":        func(in *CreateInput) { in.InstallationDate = "yesterday" },
		"missing photo":   func(in *CreateInput) { in.SmilePhoto = nil },
		"oversized copy":  func(in *CreateInput) { in.DigitalCopy.Size = 2 << 20 },
		"bad owner email": func(in *CreateInput) { in.Owner.Email = "not-an-email" },
	}
	for name, mutate := range cases {
		in := createInput()
		mutate(&in)
		if _, err := f.svc.Create(ctx, "admin-1", in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("nothing may be uploaded for invalid input, got %v", keys)
	}
}

func TestCreateUploadFailureLeavesNothing(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()
	f.store.PutErr = func(key string) error {
		if strings.Contains(key, "/digital-") {
			return errors.New("bucket quota exceeded")
		}
		return nil
	}

	_, err := f.svc.Create(ctx, "admin-1", createInput())
	var upErr *UploadFailedError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UploadFailedError, got %v", err)
	}
	if !errors.Is(err, storage.ErrUploadFailed) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}

	page, err := f.svc.List(ctx, "", repository.PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 0 {
		t.Fatalf("no certificate may exist after failed upload, got %d", page.Total)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("uploaded objects must be cleaned up, got %v", keys)
	}
}

func TestDeleteSucceedsWhenStorageFails(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Certificate.ID

	f.store.DeleteErr = func(string) error { return errors.New("storage offline") }
	out, err := f.svc.Delete(ctx, id)
	if err != nil {
		t.Fatalf("delete must succeed despite storage failure: %v", err)
	}
	if len(out.Warnings) != 2 {
		t.Fatalf("expected a warning per object, got %v", out.Warnings)
	}
	if _, err := f.svc.Get(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("certificate should be gone, got %v", err)
	}
	if _, err := f.repo.Files.FindByID(ctx, res.Certificate.SmilePhotoID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("file row should be gone, got %v", err)
	}
	if _, err := f.svc.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should report not found, got %v", err)
	}
}

func TestDeleteRemovesObjects(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()
	res, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	out, err := f.svc.Delete(ctx, res.Certificate.ID)
	if err != nil || len(out.Warnings) != 0 {
		t.Fatalf("delete: %v %v", err, out)
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("objects left behind: %v", keys)
	}
}

func TestUpdateReplacesFiles(t *testing.T) {
	tests := []struct {
		policy  string
		keepOld bool
	}{
		{config.ReplacedFilesDelete, false},
		{config.ReplacedFilesRetain, true},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			ctx := context.Background()
			res, err := f.svc.Create(ctx, "admin-1", createInput())
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			old := res.Certificate.SmilePhoto

			f.svc.now = func() time.Time { return time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC) }
			title := "Lower veneers"
			updated, err := f.svc.Update(ctx, "admin-1", res.Certificate.ID, UpdateInput{
				Title:      &title,
				SmilePhoto: upload("new.png", "png-bytes"),
			})
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			c := updated.Certificate
			if c.Title != title || c.SmilePhotoID == old.ID {
				t.Fatalf("update not applied: %+v", c)
			}
			if c.DigitalCopyID != res.Certificate.DigitalCopyID || c.ClinicName != "Smile Lab" {
				t.Fatal("untouched fields must be preserved")
			}
			if !f.store.Has(c.SmilePhoto.Key) {
				t.Fatal("new object missing")
			}
			if f.store.Has(old.Key) != tt.keepOld {
				t.Fatalf("old object presence = %v, want %v", f.store.Has(old.Key), tt.keepOld)
			}
			_, err = f.repo.Files.FindByID(ctx, old.ID)
			if tt.keepOld && err != nil {
				t.Fatalf("old file row should be retained: %v", err)
			}
			if !tt.keepOld && !errors.Is(err, repository.ErrNotFound) {
				t.Fatalf("old file row should be deleted, got %v", err)
			}
		})
	}
}

func TestUpdateValidationAndOwner(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()
	in := createInput()
	in.Owner = nil
	res, err := f.svc.Create(ctx, "admin-1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Certificate.UserID != nil {
		t.Fatal("owner is optional on create")
	}

	bad := `{"bottom":{"right":[true]}}`
	if _, err := f.svc.Update(ctx, "admin-1", res.Certificate.ID, UpdateInput{DentalFormula: &bad}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	updated, err := f.svc.Update(ctx, "admin-1", res.Certificate.ID, UpdateInput{
		Owner: &Owner{Email: "new@example.com", FirstName: "New", LastName: "Owner"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Certificate.User == nil || updated.Certificate.User.Email != "new@example.com" {
		t.Fatalf("owner not assigned: %+v", updated.Certificate.User)
	}
	mine, err := f.svc.ListForUser(ctx, *updated.Certificate.UserID)
	if err != nil || len(mine) != 1 {
		t.Fatalf("expected one certificate for owner, got %d (%v)", len(mine), err)
	}

	if _, err := f.svc.Update(ctx, "admin-1", "missing", UpdateInput{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPublicViewCache(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	if _, err := f.svc.PublicView(ctx, "../etc/passwd"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for malformed id, got %v", err)
	}
	if _, err := f.svc.PublicView(ctx, "9b2d4a52-3f3c-4a6e-9a1e-5d2f8c0b7a11"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	res, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := res.Certificate.ID
	if _, err := f.svc.PublicView(ctx, id); err != nil {
		t.Fatalf("public view: %v", err)
	}
	if _, ok := f.views.Get(id); !ok {
		t.Fatal("view should be cached")
	}
	list, err := f.svc.ListPublic(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list public: %v %d", err, len(list))
	}

	title := "Renamed"
	if _, err := f.svc.Update(ctx, "admin-1", id, UpdateInput{Title: &title}); err != nil {
		t.Fatalf("update: %v", err)
	}
	c, err := f.svc.PublicView(ctx, id)
	if err != nil || c.Title != title {
		t.Fatalf("stale view after update: %v %+v", err, c)
	}
	if _, ok := f.views.GetList(); ok {
		t.Fatal("listing must be invalidated by update")
	}
}

func TestStandaloneFiles(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	file, err := f.svc.UploadFile(ctx, "admin-1", "../docs", upload("guide.pdf", "%PDF-1.4"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(file.Key, "docs/file-1717236000000-admin-1-") || !strings.HasSuffix(file.Key, ".pdf") || strings.Contains(file.Link, "?") {
		t.Fatalf("unexpected file: %+v", file)
	}
	if _, err := f.svc.DeleteFile(ctx, file.ID); err != nil {
		t.Fatalf("delete file: %v", err)
	}
	if f.store.Has(file.Key) {
		t.Fatal("object should be deleted")
	}

	res, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.DeleteFile(ctx, res.Certificate.SmilePhotoID); !errors.Is(err, ErrFileInUse) {
		t.Fatalf("expected ErrFileInUse, got %v", err)
	}
	if _, err := f.svc.UploadFile(ctx, "admin-1", "", &Upload{Filename: "x", Body: io.LimitReader(strings.NewReader(""), 0)}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty upload, got %v", err)
	}
}

func TestCreateSameMillisecondKeepsObjectsApart(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.Certificate.SmilePhoto.Key == b.Certificate.SmilePhoto.Key {
		t.Fatalf("both certificates share %s", a.Certificate.SmilePhoto.Key)
	}

	if _, err := f.svc.Delete(ctx, b.Certificate.ID); err != nil {
		t.Fatalf("delete b: %v", err)
	}
	for _, file := range []models.File{a.Certificate.SmilePhoto, a.Certificate.DigitalCopy} {
		if !f.store.Has(file.Key) {
			t.Fatalf("deleting b removed a's object %s", file.Key)
		}
	}
}

func TestOwnerWithoutNamesKeepsProfile(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, "admin-1", createInput()); err != nil {
		t.Fatalf("create a: %v", err)
	}
	in := createInput()
	in.Owner = &Owner{Email: "patient@example.com"}
	b, err := f.svc.Create(ctx, "admin-1", in)
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	u := b.Certificate.User
	if u == nil || u.FirstName != "Pat" || u.LastName != "Smith" || u.Name != "Pat Smith" {
		t.Fatalf("owner names lost: %+v", u)
	}
}

func TestOwnerRejectsUndeliverableEmail(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	for _, email := range []string{"a@b", "a@localhost", "a@-example.com", "Pat <pat@example.com>"} {
		in := createInput()
		in.Owner = &Owner{Email: email, FirstName: "Pat", LastName: "Smith"}
		if _, err := f.svc.Create(ctx, "admin-1", in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("owner %q: expected ErrInvalidInput, got %v", email, err)
		}
	}
	if keys := f.store.Keys(); len(keys) != 0 {
		t.Fatalf("expected no uploads, got %v", keys)
	}
}

func TestOwnerRenameRefreshesOtherViews(t *testing.T) {
	f := newFixture(t, config.ReplacedFilesDelete)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := f.svc.Create(ctx, "admin-1", createInput())
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if _, err := f.svc.PublicView(ctx, a.Certificate.ID); err != nil {
		t.Fatalf("view a: %v", err)
	}

	if _, err := f.svc.Update(ctx, "admin-1", b.Certificate.ID, UpdateInput{
		Owner: &Owner{Email: "patient@example.com", FirstName: "Patricia", LastName: "Smith"},
	}); err != nil {
		t.Fatalf("update b: %v", err)
	}
	c, err := f.svc.PublicView(ctx, a.Certificate.ID)
	if err != nil {
		t.Fatalf("view a: %v", err)
	}
	if c.User == nil || c.User.DisplayName() != "Patricia Smith" {
		t.Fatalf("stale owner on a: %+v", c.User)
	}
}
