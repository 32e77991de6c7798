/*
Package fetch resolves relevant listing spans into artifact links, downloads
them and verifies each download against its expected checksum.
*/
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/shanehull/listscraper/internal/checksum"
	"github.com/shanehull/listscraper/internal/retry"
	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Downloader streams an artifact using the authenticated session.
type Downloader interface {
	Download(ctx context.Context, s *types.Session, ref types.ArtifactReference) (io.ReadCloser, error)
}

type SessionChecker interface {
	EnsureLoggedIn(ctx context.Context, s *types.Session) (*types.Session, error)
}

type Config struct {
	Dir         string
	Concurrency int
	Timeout     time.Duration
}

type Pipeline struct {
	resolver   *Resolver
	downloader Downloader
	sessions   SessionChecker
	verifier   *checksum.Verifier
	retry      *retry.Executor
	cfg        Config
	logger     *zap.Logger
}

// NewPipeline builds a pipeline. A nil executor downloads each artifact once.
func NewPipeline(cfg Config, resolver *Resolver, downloader Downloader, sessions SessionChecker, executor *retry.Executor, logger *zap.Logger) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Dir == "" {
		cfg.Dir = os.TempDir()
	}
	if resolver == nil {
		resolver = NewResolver("", "", logger)
	}
	if executor == nil {
		executor = retry.NewExecutor(retry.Policy{MaxAttempts: 1}, logger)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		resolver:   resolver,
		downloader: downloader,
		sessions:   sessions,
		verifier:   checksum.NewVerifier(),
		retry:      executor,
		cfg:        cfg,
		logger:     logger,
	}
}

// FetchAll is Resolve followed by Fetch for one page's verdict.
func (p *Pipeline) FetchAll(ctx context.Context, s *types.Session, verdict types.RelevanceVerdict) ([]types.DownloadedFile, error) {
	refs, err := p.Resolve(verdict)
	if err != nil {
		return nil, err
	}
	return p.Fetch(ctx, s, refs)
}

func (p *Pipeline) Resolve(verdict types.RelevanceVerdict) ([]types.ArtifactReference, error) {
	return p.resolver.Resolve(verdict)
}

// Fetch downloads every reference, one result per reference in input order.
// Per-artifact failures are reported in the results; the returned error is
// only for a session that could not be re-established.
func (p *Pipeline) Fetch(ctx context.Context, s *types.Session, refs []types.ArtifactReference) ([]types.DownloadedFile, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	s, err := p.sessions.EnsureLoggedIn(ctx, s)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory %s: %w", p.cfg.Dir, err)
	}

	results := make([]types.DownloadedFile, len(refs))
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)

	for i, ref := range refs {
		if ctx.Err() != nil {
			results[i] = types.DownloadedFile{
				Ref:    ref,
				Status: types.StatusFailed,
				Err:    fmt.Errorf("%w: %s not started", types.ErrCanceled, ref.URL),
			}
			continue
		}
		g.Go(func() error {
			results[i] = p.fetchOne(ctx, s, ref)
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (p *Pipeline) fetchOne(ctx context.Context, s *types.Session, ref types.ArtifactReference) types.DownloadedFile {
	// started downloads finish even if the run is canceled meanwhile
	dctx := context.WithoutCancel(ctx)
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(dctx, p.cfg.Timeout)
		defer cancel()
	}

	out := types.DownloadedFile{Ref: ref}

	tmp, err := os.CreateTemp(p.cfg.Dir, ".partial-*")
	if err != nil {
		out.Status = types.StatusFailed
		out.Err = fmt.Errorf("%w: %s: failed to create temporary file: %w", types.ErrDownloadFailed, ref.URL, err)
		return out
	}
	tmpName := tmp.Name()
	keep := false
	defer func() {
		tmp.Close()
		if !keep {
			os.Remove(tmpName)
		}
	}()

	var hw *checksum.Writer
	err = p.retry.Do(dctx, "download "+ref.URL, func(ctx context.Context) error {
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := tmp.Truncate(0); err != nil {
			return err
		}
		body, err := p.downloader.Download(ctx, s, ref)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", types.ErrDownloadFailed, ref.URL, err)
		}
		defer body.Close()

		hw = p.verifier.NewWriter(tmp)
		if _, err := io.Copy(hw, body); err != nil {
			return fmt.Errorf("%w: %s: reading body: %w", types.ErrDownloadFailed, ref.URL, err)
		}
		return nil
	})
	if err != nil {
		out.Status = types.StatusFailed
		var exhausted *types.RetriesExhaustedError
		if errors.As(err, &exhausted) {
			err = fmt.Errorf("%w (%d attempts)", exhausted.Last, exhausted.Attempts)
		}
		if !errors.Is(err, types.ErrDownloadFailed) {
			err = fmt.Errorf("%w: %w", types.ErrDownloadFailed, err)
		}
		out.Err = err
		p.logger.Warn("Download failed", zap.String("url", ref.URL), zap.Error(err))
		return out
	}

	out.Checksum = hw.Sum()
	out.Size = hw.Size()

	switch p.verifier.Compare(out.Checksum, ref.ExpectedChecksum) {
	case checksum.Mismatch:
		out.Status = types.StatusCorrupt
		out.Err = fmt.Errorf("%w: %s: expected %s, got %s", types.ErrCorruptDownload, ref.URL, ref.ExpectedChecksum, out.Checksum)
		p.logger.Warn("Checksum mismatch, discarding download",
			zap.String("url", ref.URL),
			zap.String("expected", ref.ExpectedChecksum),
			zap.String("actual", out.Checksum))
		return out
	case checksum.Match:
		out.Status = types.StatusVerified
	default:
		out.Status = types.StatusUnverified
	}

	if err := tmp.Close(); err != nil {
		out.Status = types.StatusFailed
		out.Err = fmt.Errorf("%w: %s: closing file: %w", types.ErrDownloadFailed, ref.URL, err)
		return out
	}

	final := filepath.Join(p.cfg.Dir, contentName(out.Checksum, ref.Name))
	if err := os.Rename(tmpName, final); err != nil {
		out.Status = types.StatusFailed
		out.Err = fmt.Errorf("%w: %s: storing file: %w", types.ErrDownloadFailed, ref.URL, err)
		return out
	}
	keep = true
	out.Path = final

	p.logger.Info("Downloaded artifact",
		zap.String("url", ref.URL),
		zap.String("path", final),
		zap.String("status", string(out.Status)),
		zap.Int64("bytes", out.Size))
	return out
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// contentName prefixes the artifact name with its digest so identical content
// always lands on the same path.
func contentName(digest, name string) string {
	clean := unsafeName.ReplaceAllString(name, "_")
	if clean == "" || clean == "." || clean == ".." {
		clean = "artifact"
	}
	return digest[:16] + "-" + clean
}
