package certificates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"smilecert/internal/cache"
	"smilecert/internal/config"
	"smilecert/internal/metrics"
	"smilecert/internal/models"
	"smilecert/internal/repository"
	"smilecert/internal/storage"
)

const (
	keyPrefix      = "certificates"
	purposeSmile   = "smile"
	purposeDigital = "digital"
	purposeFile    = "file"
	publicListSize = 50
)

// ErrNotFound is returned for unknown certificate or file ids.
var ErrNotFound = repository.ErrNotFound

// Result is the outcome of a mutation. Warnings list secondary failures,
// such as storage cleanup, that did not fail the operation.
type Result struct {
	Certificate *models.Certificate `json:"certificate,omitempty"`
	Warnings    []string            `json:"warnings,omitempty"`
}

type Options struct {
	Bucket         string
	ReplacedFiles  string
	MaxUploadBytes int64
	Now            func() time.Time
	Logger         *slog.Logger
}

type Service struct {
	repo      *repository.Repository
	store     storage.ObjectStore
	views     *cache.ViewCache
	bucket    string
	replaced  string
	maxUpload int64
	now       func() time.Time
	log       *slog.Logger
}

func NewService(repo *repository.Repository, store storage.ObjectStore, views *cache.ViewCache, opts Options) *Service {
	s := &Service{
		repo:      repo,
		store:     store,
		views:     views,
		bucket:    opts.Bucket,
		replaced:  opts.ReplacedFiles,
		maxUpload: opts.MaxUploadBytes,
		now:       opts.Now,
		log:       opts.Logger,
	}
	if s.replaced == "" {
		s.replaced = config.ReplacedFilesDelete
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// stored is an object that reached storage but may not be in the database yet.
type stored struct {
	label string
	file  models.File
}

// uploadAll puts every upload in parallel. On failure the objects that did
// land are removed and an *UploadFailedError is returned.
func (s *Service) uploadAll(ctx context.Context, actorID string, uploads map[string]*Upload) (map[string]*stored, error) {
	now := s.now()
	var (
		mu  sync.Mutex
		out = make(map[string]*stored, len(uploads))
	)
	g, gctx := errgroup.WithContext(ctx)
	for purpose, up := range uploads {
		purpose, up := purpose, up
		g.Go(func() error {
			key := storage.ObjectKey(keyPrefix, purpose, actorID, up.Filename, now)
			link, err := s.store.Put(gctx, key, up.Body, up.Size, up.ContentType)
			if err != nil {
				return &UploadFailedError{Reason: labelFor(purpose), Err: err}
			}
			mu.Lock()
			out[purpose] = &stored{label: labelFor(purpose), file: models.File{
				Name: path.Base(key),
				Type: storage.Ext(up.Filename),
				Size: up.Size,
				Link: storage.StripQuery(link),
				Key:  key,
			}}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, out)
		return nil, err
	}
	return out, nil
}

// invalidate drops cached views after a mutation. An owner upsert may rename
// the patient on other certificates, so it clears every view.
func (s *Service) invalidate(id string, ownerTouched bool) {
	if ownerTouched {
		s.views.Purge()
		return
	}
	s.views.Invalidate(id)
}

// discard removes uploaded objects whose database rows were never written.
func (s *Service) discard(ctx context.Context, objs map[string]*stored) {
	for _, o := range objs {
		if err := s.store.Delete(context.WithoutCancel(ctx), o.file.Key); err != nil {
			metrics.StorageCleanupFailures.Inc()
			s.log.Warn("orphaned object left in storage", "key", o.file.Key, "error", err)
		}
	}
}

// removeObjects deletes objects in parallel. Failures become warnings.
func (s *Service) removeObjects(ctx context.Context, files []models.File) []string {
	ctx = context.WithoutCancel(ctx)
	var (
		mu       sync.Mutex
		warnings []string
		g        errgroup.Group
	)
	for _, f := range files {
		f := f
		g.Go(func() error {
			key := f.Key
			if key == "" {
				key = storage.KeyFromLink(f.Link, s.bucket, f.Name)
			}
			if err := s.store.Delete(ctx, key); err != nil {
				metrics.StorageCleanupFailures.Inc()
				s.log.Warn("delete stored object failed", "file_id", f.ID, "key", key, "error", err)
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("stored object %s was not deleted", key))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return warnings
}

// Create validates the input, uploads both files, then writes the file rows,
// the owner and the certificate in one transaction.
func (s *Service) Create(ctx context.Context, actorID string, in CreateInput) (*Result, error) {
	plan, err := s.validateCreate(in)
	if err != nil {
		return nil, err
	}

	objs, err := s.uploadAll(ctx, actorID, map[string]*Upload{
		purposeSmile:   in.SmilePhoto,
		purposeDigital: in.DigitalCopy,
	})
	if err != nil {
		metrics.CertificateMutations.WithLabelValues("create", "upload_failed").Inc()
		return nil, err
	}

	cert := plan.cert
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		smile, digital := objs[purposeSmile].file, objs[purposeDigital].file
		if err := tx.Files.Create(ctx, &smile); err != nil {
			return fmt.Errorf("save smile photo: %w", err)
		}
		if err := tx.Files.Create(ctx, &digital); err != nil {
			return fmt.Errorf("save digital copy: %w", err)
		}
		if plan.owner != nil {
			u, err := tx.Users.UpsertProfile(ctx, plan.owner.Email, plan.owner.FirstName, plan.owner.LastName)
			if err != nil {
				return fmt.Errorf("save owner: %w", err)
			}
			cert.UserID = &u.ID
		}
		cert.SmilePhotoID = smile.ID
		cert.DigitalCopyID = digital.ID
		if err := tx.Certificates.Create(ctx, &cert); err != nil {
			return fmt.Errorf("save certificate: %w", err)
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, objs)
		metrics.CertificateMutations.WithLabelValues("create", "error").Inc()
		return nil, err
	}

	s.invalidate(cert.ID, plan.owner != nil)
	metrics.CertificateMutations.WithLabelValues("create", "ok").Inc()
	s.log.Info("certificate created", "certificate_id", cert.ID, "actor_id", actorID)
	return s.result(ctx, cert.ID, nil)
}

// Update applies a partial change. New files replace the current ones;
// the replaced files are deleted or kept according to the configured policy.
func (s *Service) Update(ctx context.Context, actorID, id string, in UpdateInput) (*Result, error) {
	cur, err := s.repo.Certificates.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, owner, err := s.validateUpdate(*cur, in)
	if err != nil {
		return nil, err
	}

	uploads := make(map[string]*Upload, 2)
	if present(in.SmilePhoto) {
		uploads[purposeSmile] = in.SmilePhoto
	}
	if present(in.DigitalCopy) {
		uploads[purposeDigital] = in.DigitalCopy
	}
	objs, err := s.uploadAll(ctx, actorID, uploads)
	if err != nil {
		metrics.CertificateMutations.WithLabelValues("update", "upload_failed").Inc()
		return nil, err
	}

	var replaced []models.File
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if o, ok := objs[purposeSmile]; ok {
			f := o.file
			if err := tx.Files.Create(ctx, &f); err != nil {
				return fmt.Errorf("save smile photo: %w", err)
			}
			replaced = append(replaced, cur.SmilePhoto)
			next.SmilePhotoID = f.ID
		}
		if o, ok := objs[purposeDigital]; ok {
			f := o.file
			if err := tx.Files.Create(ctx, &f); err != nil {
				return fmt.Errorf("save digital copy: %w", err)
			}
			replaced = append(replaced, cur.DigitalCopy)
			next.DigitalCopyID = f.ID
		}
		if owner != nil {
			u, err := tx.Users.UpsertProfile(ctx, owner.Email, owner.FirstName, owner.LastName)
			if err != nil {
				return fmt.Errorf("save owner: %w", err)
			}
			next.UserID = &u.ID
		}
		if err := tx.Certificates.Save(ctx, &next); err != nil {
			return fmt.Errorf("save certificate: %w", err)
		}
		if s.replaced != config.ReplacedFilesDelete {
			return nil
		}
		kept := replaced[:0]
		for _, f := range replaced {
			inUse, err := tx.Files.InUse(ctx, f.ID)
			if err != nil {
				return err
			}
			if inUse {
				continue
			}
			if err := tx.Files.Delete(ctx, f.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("delete replaced file: %w", err)
			}
			kept = append(kept, f)
		}
		replaced = kept
		return nil
	})
	if err != nil {
		s.discard(ctx, objs)
		metrics.CertificateMutations.WithLabelValues("update", "error").Inc()
		return nil, err
	}

	var warnings []string
	if s.replaced == config.ReplacedFilesDelete && len(replaced) > 0 {
		warnings = s.removeObjects(ctx, replaced)
	}
	s.invalidate(id, owner != nil)
	metrics.CertificateMutations.WithLabelValues("update", "ok").Inc()
	s.log.Info("certificate updated", "certificate_id", id, "actor_id", actorID, "replaced_files", len(replaced))
	return s.result(ctx, id, warnings)
}

// Delete removes the certificate and its file rows, then deletes the stored
// objects. Storage failures are reported as warnings only.
func (s *Service) Delete(ctx context.Context, id string) (*Result, error) {
	cert, err := s.repo.Certificates.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	files := []models.File{cert.SmilePhoto, cert.DigitalCopy}

	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Certificates.Delete(ctx, id); err != nil {
			return err
		}
		for _, f := range files {
			if err := tx.Files.Delete(ctx, f.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("delete file %s: %w", f.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.CertificateMutations.WithLabelValues("delete", "error").Inc()
		return nil, err
	}

	warnings := s.removeObjects(ctx, files)
	s.views.Invalidate(id)
	metrics.CertificateMutations.WithLabelValues("delete", "ok").Inc()
	s.log.Info("certificate deleted", "certificate_id", id, "warnings", len(warnings))
	return &Result{Warnings: warnings}, nil
}

func (s *Service) result(ctx context.Context, id string, warnings []string) (*Result, error) {
	cert, err := s.repo.Certificates.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload certificate: %w", err)
	}
	return &Result{Certificate: cert, Warnings: warnings}, nil
}

// UploadFile stores a standalone file under folder and records it.
func (s *Service) UploadFile(ctx context.Context, actorID, folder string, up *Upload) (*models.File, error) {
	if err := s.checkUpload(up, "file", true); err != nil {
		return nil, err
	}
	folder = strings.Trim(path.Clean("/"+folder), "/")
	if folder == "" {
		folder = "uploads"
	}
	key := storage.ObjectKey(folder, purposeFile, actorID, up.Filename, s.now())
	link, err := s.store.Put(ctx, key, up.Body, up.Size, up.ContentType)
	if err != nil {
		return nil, &UploadFailedError{Reason: "file", Err: err}
	}
	f := &models.File{
		Name: key,
		Type: storage.Ext(up.Filename),
		Size: up.Size,
		Link: storage.StripQuery(link),
		Key:  key,
	}
	if err := s.repo.Files.Create(ctx, f); err != nil {
		s.discard(ctx, map[string]*stored{"file": {label: "file", file: *f}})
		return nil, fmt.Errorf("save file: %w", err)
	}
	return f, nil
}

// DeleteFile removes a standalone file. Files attached to a certificate are
// removed through the certificate instead.
func (s *Service) DeleteFile(ctx context.Context, id string) (*Result, error) {
	f, err := s.repo.Files.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inUse, err := s.repo.Files.InUse(ctx, id)
	if err != nil {
		return nil, err
	}
	if inUse {
		return nil, ErrFileInUse
	}
	if err := s.repo.Files.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &Result{Warnings: s.removeObjects(ctx, []models.File{*f})}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Certificate, error) {
	return s.repo.Certificates.FindByID(ctx, id)
}

func (s *Service) List(ctx context.Context, search string, page repository.PageRequest) (repository.PageResult[models.Certificate], error) {
	return s.repo.Certificates.List(ctx, search, page)
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]models.Certificate, error) {
	return s.repo.Certificates.ListByUser(ctx, userID)
}

// PublicView returns one certificate by its link id, served from cache when
// possible. Ids that are not UUIDs are rejected before any lookup.
func (s *Service) PublicView(ctx context.Context, id string) (*models.Certificate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, invalid("certificate id %q is malformed", id)
	}
	if c, ok := s.views.Get(id); ok {
		return &c, nil
	}
	c, err := s.repo.Certificates.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.views.Set(id, *c)
	return c, nil
}

func (s *Service) ListPublic(ctx context.Context) ([]models.Certificate, error) {
	if items, ok := s.views.GetList(); ok {
		return items, nil
	}
	items, err := s.repo.Certificates.ListRecent(ctx, publicListSize)
	if err != nil {
		return nil, err
	}
	s.views.SetList(items)
	return items, nil
}

func labelFor(purpose string) string {
	switch purpose {
	case purposeSmile:
		return "smile photo"
	case purposeDigital:
		return "digital copy"
	default:
		return purpose
	}
}
