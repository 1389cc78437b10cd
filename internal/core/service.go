package core

import (
	"context"
	"sync"
	"time"

	"github.com/JonMunkholm/partregistry/internal/store"
)

// DefaultReserveTimeout bounds one reservation round trip.
const DefaultReserveTimeout = 10 * time.Second

// DefaultSessionTTL is how long an untouched import session is kept.
const DefaultSessionTTL = 2 * time.Hour

// Store is the persistence the service needs. store.Postgres and
// store.SQLite both satisfy it.
type Store interface {
	Ping(ctx context.Context) error

	ReserveRange(ctx context.Context, prefix string, count int) (int64, error)
	ResetCounters(ctx context.Context) (int64, error)

	SearchCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Part, error)
	SearchCandidatesBatch(ctx context.Context, qs []store.CandidateQuery) ([][]store.Part, error)

	InsertParts(ctx context.Context, parts []store.Part) error
	UpdatePart(ctx context.Context, p store.Part) (store.Part, error)
	ListParts(ctx context.Context, limit, offset int) ([]store.Part, error)
	DeletePart(ctx context.Context, externalID string) error

	LookupAliases(ctx context.Context, keys []string) (map[string]string, error)
	PutAliases(ctx context.Context, aliases map[string]string) error

	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) error
	RemoveCategory(ctx context.Context, name string) error
	LastPrefix(ctx context.Context, module string) (string, error)
	SetLastPrefix(ctx context.Context, module, prefix string) error
}

// Options carries the tunables the service reads from configuration.
// Zero values fall back to defaults.
type Options struct {
	PadWidth       int
	StandardPrefix string
	ReserveTimeout time.Duration

	Threshold      float64
	MaxSuggestions int
	CandidateLimit int
	CandidateMax   int

	ImportMaxConcurrent int
	ImportMaxWait       time.Duration
	SessionTTL          time.Duration
	MaxImportRows       int

	AllowReset bool

	// PrefixMap maps a normalized module name to its default prefix.
	PrefixMap map[string]string
}

func (o Options) withDefaults() Options {
	if o.PadWidth <= 0 {
		o.PadWidth = 6
	}
	if o.StandardPrefix == "" {
		o.StandardPrefix = "STD"
	}
	if o.ReserveTimeout <= 0 {
		o.ReserveTimeout = DefaultReserveTimeout
	}
	if o.Threshold <= 0 {
		o.Threshold = 0.80
	}
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = 5
	}
	if o.CandidateMax <= 0 {
		o.CandidateMax = MaxCandidateLimit
	}
	if o.CandidateLimit <= 0 {
		o.CandidateLimit = DefaultCandidateLimit
	}
	o.CandidateLimit = min(o.CandidateLimit, o.CandidateMax)
	if o.SessionTTL <= 0 {
		o.SessionTTL = DefaultSessionTTL
	}
	if o.MaxImportRows <= 0 {
		o.MaxImportRows = 5000
	}
	return o
}

// Service provides the business logic for part identity resolution.
type Service struct {
	store   Store
	opts    Options
	limiter *ImportLimiter

	mu      sync.RWMutex
	imports map[string]*importSession
}

// NewService creates a Service backed by st.
func NewService(st Store, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:   st,
		opts:    opts,
		limiter: NewImportLimiter(opts.ImportMaxConcurrent, opts.ImportMaxWait),
		imports: make(map[string]*importSession),
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Limiter exposes the import limiter for health output and shutdown.
func (s *Service) Limiter() *ImportLimiter {
	return s.limiter
}
