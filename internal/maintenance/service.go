package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/storage"
)

type Catalog interface {
	ListTenants(ctx context.Context) ([]catalog.Tenant, error)
	ListDataFiles(ctx context.Context, tenantID string) ([]catalog.DataFileEntry, error)
}

// CachePruner deletes expired query cache entries. Only stores without native
// expiry need one.
type CachePruner interface {
	Prune(ctx context.Context) (int64, error)
}

type Config struct {
	IntegrityInterval  time.Duration
	CachePruneInterval time.Duration
}

type Service struct {
	Catalog     Catalog
	ObjectStore storage.ObjectStore
	Cache       CachePruner
	Config      Config
	Logger      *slog.Logger
}

type IntegritySummary struct {
	TenantsScanned      int `json:"tenants_scanned"`
	FilesChecked        int `json:"files_checked"`
	MissingFiles        int `json:"missing_files"`
	SizeMismatchFiles   int `json:"size_mismatch_files"`
	OperationalFailures int `json:"operational_failures"`
}

// Run checks integrity and prunes the cache on their intervals until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	integrityTicker := time.NewTicker(s.Config.IntegrityInterval)
	defer integrityTicker.Stop()

	// A nil channel never fires, so pruning is skipped without a pruner.
	var pruneC <-chan time.Time
	if s.Cache != nil {
		pruneTicker := time.NewTicker(s.Config.CachePruneInterval)
		defer pruneTicker.Stop()
		pruneC = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-integrityTicker.C:
			summary, err := s.RunIntegrityCheckOnce(ctx, "")
			if err != nil {
				s.Logger.ErrorContext(ctx, "integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
				continue
			}
			s.Logger.InfoContext(ctx, "integrity check completed", slog.Any("summary", summary))
		case <-pruneC:
			deleted, err := s.RunCachePruneOnce(ctx)
			if err != nil {
				s.Logger.ErrorContext(ctx, "query cache prune failed", slog.Any("error", err))
				continue
			}
			s.Logger.InfoContext(ctx, "query cache prune completed", slog.Int64("deleted", deleted))
		}
	}
}

// issueLog counts integrity issues and keeps the first few for the error.
type issueLog struct {
	count   int
	samples []string
}

const maxIssueSamples = 20

func (l *issueLog) addf(format string, args ...any) {
	l.count++
	if len(l.samples) < maxIssueSamples {
		l.samples = append(l.samples, fmt.Sprintf(format, args...))
	}
}

func (l *issueLog) err() error {
	if l.count == 0 {
		return nil
	}
	msg := fmt.Sprintf("integrity check found %d issue(s): %s", l.count, strings.Join(l.samples, "; "))
	if extra := l.count - len(l.samples); extra > 0 {
		msg += fmt.Sprintf("; ... plus %d more", extra)
	}
	return errors.New(msg)
}

// RunIntegrityCheckOnce stats every catalogued data file of tenantID, or of
// all tenants when tenantID is empty. Missing files and size drift are
// reported as an error alongside the summary.
func (s *Service) RunIntegrityCheckOnce(ctx context.Context, tenantID string) (IntegritySummary, error) {
	s.ensureDefaults()
	if s.Catalog == nil {
		return IntegritySummary{}, fmt.Errorf("catalog is required")
	}
	if s.ObjectStore == nil {
		return IntegritySummary{}, fmt.Errorf("object store is required")
	}

	tenants, err := s.listTargetTenants(ctx, tenantID)
	if err != nil {
		return IntegritySummary{}, err
	}
	summary := IntegritySummary{TenantsScanned: len(tenants)}
	var issues issueLog
	for _, tenant := range tenants {
		s.checkTenant(ctx, tenant.TenantID, &summary, &issues)
	}

	err = issues.err()
	observeIntegrityRun(summary, err != nil, time.Now())
	return summary, err
}

func (s *Service) checkTenant(ctx context.Context, tenantID string, summary *IntegritySummary, issues *issueLog) {
	files, err := s.Catalog.ListDataFiles(ctx, tenantID)
	if err != nil {
		summary.OperationalFailures++
		issues.addf("tenant %s list data files: %v", tenantID, err)
		return
	}
	for _, file := range files {
		summary.FilesChecked++
		info, err := s.ObjectStore.Stat(ctx, file.Path)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			summary.MissingFiles++
			issues.addf("tenant %s table %s missing file %s (file_id=%d)", tenantID, file.TableName, file.Path, file.FileID)
		case err != nil:
			summary.OperationalFailures++
			issues.addf("tenant %s stat file %s: %v", tenantID, file.Path, err)
		case info.Size != file.FileSizeBytes:
			summary.SizeMismatchFiles++
			issues.addf("tenant %s size mismatch for %s (expected=%d actual=%d)", tenantID, file.Path, file.FileSizeBytes, info.Size)
		}
	}
}

func (s *Service) RunCachePruneOnce(ctx context.Context) (int64, error) {
	if s.Cache == nil {
		return 0, nil
	}
	deleted, err := s.Cache.Prune(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune query cache: %w", err)
	}
	cacheRowsPrunedTotal.Add(float64(deleted))
	return deleted, nil
}

func (s *Service) listTargetTenants(ctx context.Context, tenantID string) ([]catalog.Tenant, error) {
	if tenantID = strings.TrimSpace(tenantID); tenantID != "" {
		return []catalog.Tenant{{TenantID: tenantID, Status: "active"}}, nil
	}
	tenants, err := s.Catalog.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return tenants, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.IntegrityInterval <= 0 {
		s.Config.IntegrityInterval = 15 * time.Minute
	}
	if s.Config.CachePruneInterval <= 0 {
		s.Config.CachePruneInterval = 10 * time.Minute
	}
	if s.Logger == nil {
		s.Logger = observability.DiscardLogger()
	}
}
