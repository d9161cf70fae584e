package downloads

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/stardrive/stardrive/internal/logging"
	"github.com/stardrive/stardrive/internal/metrics"
	"github.com/stardrive/stardrive/internal/storage"
)

// DefaultLinkTTL is how long a download link stays valid.
const DefaultLinkTTL = 30 * time.Second

// Request asks for a new download link.
type Request struct {
	Paths      []string      `json:"paths"`
	BasePath   string        `json:"base_path,omitempty"`
	AccessCode string        `json:"access_code,omitempty"`
	Source     Source        `json:"source,omitempty"`
	ShareID    string        `json:"share_id,omitempty"`
	TTL        time.Duration `json:"-"`
}

// Link is a created download link.
type Link struct {
	Record    *Record
	Token     string
	ExpiresAt time.Time
}

// Service creates and resolves download links.
type Service struct {
	store  Store
	tokens *Tokens
	files  storage.Backend
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a link service. files is used to check that the
// requested paths exist when a link is created.
func NewService(store Store, tokens *Tokens, files storage.Backend, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Service{
		store:  store,
		tokens: tokens,
		files:  files,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Create validates req, stores a record and signs a token for it.
func (s *Service) Create(ctx context.Context, req Request) (*Link, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", ErrInvalidRequest)
	}
	if req.Source == "" {
		req.Source = SourceDownload
	}
	if req.Source != SourceDownload && req.Source != SourceShare {
		return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, req.Source)
	}

	paths := make([]string, 0, len(req.Paths))
	var first *storage.FileInfo
	for _, p := range req.Paths {
		info, err := s.files.Stat(p)
		if err != nil {
			return nil, err
		}
		if first == nil {
			first = info
		}
		paths = append(paths, storage.CleanPath(p))
	}

	rec := &Record{
		ID:        uuid.NewString(),
		Paths:     paths,
		Source:    req.Source,
		ShareID:   req.ShareID,
		CreatedAt: s.now().UTC(),
	}
	if len(paths) == 1 {
		rec.Name = first.Name
		rec.Type = first.Type
	} else {
		rec.Name = "bulk_download"
		rec.Type = storage.TypeMixed
	}

	rec.BasePath = storage.CleanPath(req.BasePath)
	if req.BasePath == "" {
		rec.BasePath = commonDir(paths)
	}

	if req.AccessCode != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.AccessCode), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash access code: %w", err)
		}
		rec.AccessCodeHash = string(hash)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	rec.ExpiresAt = rec.CreatedAt.Add(ttl)

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	token, err := s.tokens.Sign(rec.ID, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return nil, err
	}

	metrics.RecordLinkCreated(string(rec.Source))
	logging.WithContext(ctx).Info("download link created",
		logging.String("download_id", rec.ID),
		logging.String("type", string(rec.Type)),
		logging.Int("paths", len(rec.Paths)),
		zap.Time("expires_at", rec.ExpiresAt))

	return &Link{Record: rec, Token: token, ExpiresAt: rec.ExpiresAt}, nil
}

// Resolve verifies token and the access code and returns the record.
func (s *Service) Resolve(ctx context.Context, token, accessCode string) (*Record, error) {
	id, err := s.tokens.Parse(token)
	if err != nil {
		metrics.RecordLinkResolved("invalid")
		return nil, err
	}

	rec, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		metrics.RecordLinkResolved("invalid")
		return nil, fmt.Errorf("%w: unknown download id", ErrInvalidLink)
	}
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now()) {
		metrics.RecordLinkResolved("invalid")
		return nil, fmt.Errorf("%w: expired", ErrInvalidLink)
	}

	if rec.AccessCodeHash != "" {
		if accessCode == "" {
			metrics.RecordLinkResolved("denied")
			return nil, ErrAccessCode
		}
		if err := bcrypt.CompareHashAndPassword([]byte(rec.AccessCodeHash), []byte(accessCode)); err != nil {
			metrics.RecordLinkResolved("denied")
			return nil, ErrAccessCode
		}
	}

	metrics.RecordLinkResolved("ok")
	return rec, nil
}

// PurgeExpired removes expired records from the store.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return n, err
	}
	metrics.RecordLinksPurged(n)
	return n, nil
}

// commonDir returns the deepest directory containing every path. A single
// path yields its parent.
func commonDir(paths []string) string {
	dir := path.Dir("/" + paths[0])
	for _, p := range paths[1:] {
		for dir != "/" && !strings.HasPrefix("/"+p, dir+"/") {
			dir = path.Dir(dir)
		}
	}
	return strings.TrimPrefix(dir, "/")
}
