package artifacts

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"lcrd-backend/internal/platform/apierr"
	"lcrd-backend/internal/platform/logger"
)

// Kind selects one of the two artifact trees.
type Kind string

const (
	KindUpload Kind = "uploads"
	KindResult Kind = "results"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUpload, KindResult:
		return Kind(s), nil
	default:
		return "", apierr.InvalidArgument(fmt.Errorf("unknown artifact kind %q", s))
	}
}

// ResultPayload carries model output either as a single archive or as
// individually downloaded files.
type ResultPayload struct {
	Archive []byte
	Files   []ResultFile
}

type ResultFile struct {
	Name string
	Data []byte
}

// ResultManifest is what materialization discovered on disk: overlay image
// filenames (relative to the session's result directory) and the animation
// gif, if the model produced one.
type ResultManifest struct {
	Images []string `json:"images"`
	Gif    string   `json:"gif,omitempty"`
}

// Listing is the read-path view of a session directory. Read failures never
// abort a listing; they are accumulated in Errors so callers can surface
// damaged sessions instead of hiding them.
type Listing struct {
	Files  []string `json:"files"`
	Errors []string `json:"errors,omitempty"`
}

// Store manages the two session-keyed artifact trees.
type Store interface {
	StageUpload(ctx context.Context, sessionID uuid.UUID, archive []byte) ([]string, error)
	MaterializeResults(ctx context.Context, sessionID uuid.UUID, payload ResultPayload) (*ResultManifest, error)
	ListFiles(sessionID uuid.UUID, kind Kind) *Listing
	DeleteKind(sessionID uuid.UUID, kind Kind) []string
	DeleteSession(sessionID uuid.UUID) []string
	ResolveDownloadPath(sessionID uuid.UUID, kind Kind, relative string) (string, error)
	SessionDirs(kind Kind) ([]string, error)
}

type store struct {
	log        *logger.Logger
	uploadRoot string
	resultRoot string
}

func New(baseLog *logger.Logger, uploadRoot, resultRoot string) (Store, error) {
	if strings.TrimSpace(uploadRoot) == "" {
		return nil, fmt.Errorf("uploadRoot required")
	}
	if strings.TrimSpace(resultRoot) == "" {
		return nil, fmt.Errorf("resultRoot required")
	}
	for _, root := range []string{uploadRoot, resultRoot} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create artifact root %s: %w", root, err)
		}
	}
	storeLog := baseLog.With("service", "ArtifactStore")
	return &store{log: storeLog, uploadRoot: uploadRoot, resultRoot: resultRoot}, nil
}

func (s *store) rootFor(kind Kind) string {
	if kind == KindResult {
		return s.resultRoot
	}
	return s.uploadRoot
}

// StageUpload writes the incoming archive under uploads/<id>, extracts it in
// place and removes the archive. A pre-existing directory means an id
// collision: ids are UUIDs, so a collision indicates a bug upstream and the
// call refuses to merge.
func (s *store) StageUpload(ctx context.Context, sessionID uuid.UUID, archive []byte) ([]string, error) {
	if sessionID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("sessionID required"))
	}
	if len(archive) == 0 {
		return nil, apierr.InvalidArgument(fmt.Errorf("empty upload archive"))
	}

	dir := filepath.Join(s.uploadRoot, sessionID.String())
	if _, err := os.Stat(dir); err == nil {
		return nil, apierr.Conflict(fmt.Errorf("upload directory already exists for session %s", sessionID))
	} else if !os.IsNotExist(err) {
		return nil, apierr.IOFailure(fmt.Errorf("stat upload dir: %w", err))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.IOFailure(fmt.Errorf("create upload dir: %w", err))
	}

	archivePath := filepath.Join(dir, "upload.zip")
	if err := os.WriteFile(archivePath, archive, 0o644); err != nil {
		return nil, apierr.IOFailure(fmt.Errorf("write upload archive: %w", err))
	}

	names, err := extractArchive(archivePath, dir)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(archivePath); err != nil {
		s.log.Warn("failed to remove staged archive", "session_id", sessionID, "error", err)
	}

	s.log.Info("staged upload", "session_id", sessionID, "files", len(names))
	return names, nil
}

// MaterializeResults writes model output under results/<id> and reports the
// overlay images and gif it finds there. Unlike StageUpload it always
// creates; the pipeline owns the directory until materialization completes.
func (s *store) MaterializeResults(ctx context.Context, sessionID uuid.UUID, payload ResultPayload) (*ResultManifest, error) {
	if sessionID == uuid.Nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("sessionID required"))
	}
	if len(payload.Archive) == 0 && len(payload.Files) == 0 {
		return nil, apierr.InvalidArgument(fmt.Errorf("empty result payload"))
	}

	dir := filepath.Join(s.resultRoot, sessionID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierr.IOFailure(fmt.Errorf("create result dir: %w", err))
	}

	if len(payload.Archive) > 0 {
		archivePath := filepath.Join(dir, "result.zip")
		if err := os.WriteFile(archivePath, payload.Archive, 0o644); err != nil {
			return nil, apierr.IOFailure(fmt.Errorf("write result archive: %w", err))
		}
		if _, err := extractArchive(archivePath, dir); err != nil {
			return nil, err
		}
		if err := os.Remove(archivePath); err != nil {
			s.log.Warn("failed to remove result archive", "session_id", sessionID, "error", err)
		}
	}

	for _, f := range payload.Files {
		rel, err := safeRelPath(f.Name)
		if err != nil {
			return nil, err
		}
		target := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, apierr.IOFailure(fmt.Errorf("create result subdir: %w", err))
		}
		if err := os.WriteFile(target, f.Data, 0o644); err != nil {
			return nil, apierr.IOFailure(fmt.Errorf("write result file %s: %w", rel, err))
		}
	}

	manifest, err := scanResults(dir)
	if err != nil {
		return nil, apierr.IOFailure(fmt.Errorf("scan result dir: %w", err))
	}
	s.log.Info("materialized results", "session_id", sessionID,
		"images", len(manifest.Images), "gif", manifest.Gif != "")
	return manifest, nil
}

// ListFiles never fails: a missing directory or unreadable entry is recorded
// as a diagnostic so browsing stays usable when one session is damaged.
func (s *store) ListFiles(sessionID uuid.UUID, kind Kind) *Listing {
	listing := &Listing{Files: []string{}}
	dir := filepath.Join(s.rootFor(kind), sessionID.String())

	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			listing.Errors = append(listing.Errors, fmt.Sprintf("no %s directory for session", kind))
		} else {
			listing.Errors = append(listing.Errors, fmt.Sprintf("stat %s directory: %v", kind, err))
		}
		return listing
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			listing.Errors = append(listing.Errors, fmt.Sprintf("read %s: %v", path, walkErr))
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			listing.Errors = append(listing.Errors, fmt.Sprintf("resolve %s: %v", path, relErr))
			return nil
		}
		listing.Files = append(listing.Files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		listing.Errors = append(listing.Errors, fmt.Sprintf("walk %s directory: %v", kind, err))
	}
	sort.Strings(listing.Files)
	return listing
}

// DeleteKind removes one subtree best-effort. A missing path is fine;
// failures are logged and returned as warnings, never as an error.
func (s *store) DeleteKind(sessionID uuid.UUID, kind Kind) []string {
	var warnings []string
	dir := filepath.Join(s.rootFor(kind), sessionID.String())
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("artifact removal failed", "session_id", sessionID, "error", err)
		warnings = append(warnings, fmt.Sprintf("remove %s: %v", dir, err))
	}
	return warnings
}

// DeleteSession removes both subtrees best-effort.
func (s *store) DeleteSession(sessionID uuid.UUID) []string {
	warnings := s.DeleteKind(sessionID, KindUpload)
	warnings = append(warnings, s.DeleteKind(sessionID, KindResult)...)
	return warnings
}

// ResolveDownloadPath maps a client-supplied relative filename to an absolute
// path, refusing anything that would escape the session's own subtree.
func (s *store) ResolveDownloadPath(sessionID uuid.UUID, kind Kind, relative string) (string, error) {
	rel, err := safeRelPath(relative)
	if err != nil {
		return "", err
	}

	base := filepath.Join(s.rootFor(kind), sessionID.String())
	resolved := filepath.Join(base, rel)
	if resolved != base && !strings.HasPrefix(resolved, base+string(filepath.Separator)) {
		return "", apierr.PathTraversal(fmt.Errorf("path %q escapes session subtree", relative))
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apierr.NotFound(fmt.Errorf("file %q not found for session %s", rel, sessionID))
		}
		return "", apierr.IOFailure(fmt.Errorf("stat %s: %w", resolved, err))
	}
	if !info.Mode().IsRegular() {
		return "", apierr.NotFound(fmt.Errorf("%q is not a regular file", rel))
	}
	return resolved, nil
}

// SessionDirs lists the session ids that have a directory under the given
// root. Used by the drift audit.
func (s *store) SessionDirs(kind Kind) ([]string, error) {
	entries, err := os.ReadDir(s.rootFor(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.IOFailure(fmt.Errorf("read %s root: %w", kind, err))
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---------- helpers ----------

func safeRelPath(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	if cleaned == "" || cleaned == "." {
		return "", apierr.InvalidArgument(fmt.Errorf("empty path"))
	}
	if filepath.IsAbs(cleaned) || !filepath.IsLocal(cleaned) {
		return "", apierr.PathTraversal(fmt.Errorf("path %q escapes session subtree", name))
	}
	return cleaned, nil
}

// extractArchive unzips src into dst and returns the extracted file names
// relative to dst. Entries that would escape dst fail the whole extraction.
func extractArchive(src, dst string) ([]string, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return nil, apierr.ExtractionFailed(fmt.Errorf("open archive: %w", err))
	}
	defer reader.Close()

	var names []string
	for _, entry := range reader.File {
		rel, err := safeRelPath(entry.Name)
		if err != nil {
			return nil, apierr.ExtractionFailed(fmt.Errorf("archive entry %q: unsafe path", entry.Name))
		}
		target := filepath.Join(dst, rel)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, apierr.IOFailure(fmt.Errorf("create dir %s: %w", rel, err))
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, apierr.IOFailure(fmt.Errorf("create dir for %s: %w", rel, err))
		}
		if err := writeZipEntry(entry, target); err != nil {
			return nil, err
		}
		names = append(names, filepath.ToSlash(rel))
	}
	sort.Strings(names)
	return names, nil
}

func writeZipEntry(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return apierr.ExtractionFailed(fmt.Errorf("open archive entry %s: %w", entry.Name, err))
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return apierr.IOFailure(fmt.Errorf("create %s: %w", target, err))
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return apierr.ExtractionFailed(fmt.Errorf("extract %s: %w", entry.Name, err))
	}
	return nil
}

// scanResults walks a result directory discovering overlay images (.dcm) and
// the animation gif.
func scanResults(dir string) (*ResultManifest, error) {
	manifest := &ResultManifest{Images: []string{}}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		switch strings.ToLower(filepath.Ext(rel)) {
		case ".dcm":
			manifest.Images = append(manifest.Images, rel)
		case ".gif":
			if manifest.Gif == "" || strings.HasSuffix(rel, "animation.gif") {
				manifest.Gif = rel
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(manifest.Images)
	return manifest, nil
}

// ZipBytes builds an in-memory zip from named payloads.
func ZipBytes(files map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f, err := w.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := f.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
