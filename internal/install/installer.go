// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package install

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/jeranaias/privatepdf/internal/events"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// Release archive URLs, keyed by GPU capability.
	urlGeneric = "https://github.com/ollama/ollama/releases/latest/download/ollama-windows-amd64.zip"
	urlROCm    = "https://github.com/ollama/ollama/releases/latest/download/ollama-windows-amd64-rocm.zip"

	// downloadTimeout bounds the whole archive transfer.
	downloadTimeout = 10 * time.Minute

	// progressStep throttles download progress events to one per MiB.
	progressStep = 1 << 20

	// extractionStep throttles extraction progress to every Nth entry.
	extractionStep = 10

	// serverExecutable must exist after extraction for the install to count.
	serverExecutable = "ollama.exe"

	// tempArchiveName is the transient download target, kept next to the
	// install directory so the final rename stays on one volume.
	tempArchiveName = "ollama_temp.zip"
)

// archiveURL selects the release archive for the machine's GPU.
func archiveURL(amdGPU bool) string {
	if amdGPU {
		return urlROCm
	}
	return urlGeneric
}

// =============================================================================
// PROGRESS PAYLOADS
// =============================================================================

// DownloadProgress is the payload for ollama_download_progress events.
type DownloadProgress struct {
	Downloaded uint64  `json:"downloaded"`
	Total      uint64  `json:"total"`
	Percent    float64 `json:"percent"`
}

// ExtractionProgress is the payload for ollama_extraction_progress events.
type ExtractionProgress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
}

// =============================================================================
// INSTALLER
// =============================================================================

// Installer runs the download-and-extract workflow. At most one install
// may be in flight at a time; enforcing that is the caller's job.
type Installer struct {
	http *retryablehttp.Client
	dir  string // managed install directory
	tmp  string // temporary archive path
	sink events.Sink
	log  *zap.Logger
}

// New creates an installer targeting the managed install directory under
// the platform user-data root (%LOCALAPPDATA%\PrivatePDF\ollama on
// Windows).
func New(sink events.Sink, log *zap.Logger) (*Installer, error) {
	root, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user data directory: %w", err)
	}
	return NewAt(filepath.Join(root, "PrivatePDF", "ollama"), sink, log), nil
}

// NewAt creates an installer targeting an explicit directory.
func NewAt(dir string, sink events.Sink, log *zap.Logger) *Installer {
	if sink == nil {
		sink = events.Discard
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	return &Installer{
		http: client,
		dir:  dir,
		tmp:  filepath.Join(filepath.Dir(dir), tempArchiveName),
		sink: sink,
		log:  log,
	}
}

// Dir returns the managed install directory.
func (i *Installer) Dir() string { return i.dir }

// Install downloads and extracts the release archive for this machine.
// Returns a user-facing message naming the install location.
func (i *Installer) Install(ctx context.Context, amdGPU bool) (string, error) {
	if runtime.GOOS != "windows" {
		return "", i.fail(fmt.Errorf("ZIP installation is only supported on Windows"))
	}
	i.log.Info("starting Ollama ZIP installation", zap.Bool("amd_gpu", amdGPU))
	return i.install(ctx, archiveURL(amdGPU))
}

// install runs the pipeline against an explicit archive URL. Any failure
// is reported as a terminal status event before being returned, so a GUI
// following the status stream is never left on an in-progress stage.
func (i *Installer) install(ctx context.Context, url string) (string, error) {
	msg, err := i.run(ctx, url)
	if err != nil {
		return "", i.fail(err)
	}
	return msg, nil
}

// fail emits the terminal failed status carrying the error message.
func (i *Installer) fail(err error) error {
	i.log.Error("installation failed", zap.Error(err))
	i.sink.Emit(events.InstallStatus, events.StatusPayload{
		Status: "failed", Message: err.Error(),
	})
	return err
}

func (i *Installer) run(ctx context.Context, url string) (string, error) {
	i.log.Info("downloading Ollama archive", zap.String("url", url), zap.String("dest", i.dir))
	i.sink.Emit(events.InstallStatus, events.StatusPayload{
		Status: "downloading", Message: "Starting download...",
	})

	if err := os.MkdirAll(filepath.Dir(i.tmp), 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	if err := i.download(ctx, url); err != nil {
		return "", err
	}

	i.sink.Emit(events.InstallStatus, events.StatusPayload{
		Status: "extracting", Message: "Extracting files...",
	})

	if err := i.extract(); err != nil {
		return "", err
	}

	// Best-effort cleanup; a leftover archive is not a failed install.
	if err := os.Remove(i.tmp); err != nil {
		i.log.Warn("failed to remove temp archive", zap.Error(err))
	}

	exe := filepath.Join(i.dir, serverExecutable)
	if _, err := os.Stat(exe); err != nil {
		return "", fmt.Errorf("extraction failed: %s not found", serverExecutable)
	}

	i.log.Info("Ollama successfully installed", zap.String("path", i.dir))
	i.sink.Emit(events.InstallStatus, events.StatusPayload{
		Status: "completed", Message: "Installation complete!",
	})
	return "Installed to: " + i.dir, nil
}

// download streams the archive to the temporary file, emitting progress at
// most once per MiB plus a final report.
func (i *Installer) download(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}

	resp, err := i.http.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}
	i.log.Info("download size", zap.Uint64("bytes", total))

	out, err := os.Create(i.tmp)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer out.Close()

	var downloaded, lastReport uint64
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write to temp file: %w", err)
			}
			downloaded += uint64(n)

			if downloaded-lastReport >= progressStep {
				lastReport = downloaded
				i.emitDownloadProgress(downloaded, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("download stream error: %w", readErr)
		}
	}

	// Final report, always emitted even for sub-MiB archives.
	i.emitDownloadProgress(downloaded, total)
	i.log.Info("download completed", zap.Uint64("bytes", downloaded))
	return nil
}

func (i *Installer) emitDownloadProgress(downloaded, total uint64) {
	var percent float64
	if total > 0 {
		percent = float64(downloaded) / float64(total) * 100
	}
	i.sink.Emit(events.DownloadProgress, DownloadProgress{
		Downloaded: downloaded,
		Total:      total,
		Percent:    percent,
	})
}

// extract unpacks the downloaded archive into the install directory,
// rejecting any entry whose resolved path would escape it.
func (i *Installer) extract() error {
	archive, err := zip.OpenReader(i.tmp)
	if err != nil {
		return fmt.Errorf("failed to read ZIP archive: %w", err)
	}
	defer archive.Close()

	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create installation directory: %w", err)
	}

	total := len(archive.File)
	i.log.Info("extracting archive", zap.Int("entries", total))

	for idx, f := range archive.File {
		outPath, err := i.securePath(f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(outPath, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		} else {
			if err := extractFile(f, outPath); err != nil {
				return err
			}
		}

		if idx%extractionStep == 0 || idx == total-1 {
			i.sink.Emit(events.ExtractionProgress, ExtractionProgress{
				Current: idx + 1,
				Total:   total,
				Percent: float64(idx+1) / float64(total) * 100,
			})
		}
	}

	i.log.Info("extraction completed")
	return nil
}

// securePath maps an archive entry name to a path enclosed by the install
// directory. Entries that resolve outside it are rejected.
func (i *Installer) securePath(name string) (string, error) {
	outPath := filepath.Join(i.dir, filepath.FromSlash(name))

	rel, err := filepath.Rel(i.dir, outPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes the installation directory", name)
	}
	return outPath, nil
}

func extractFile(f *zip.File, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to access ZIP entry: %w", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("failed to extract file: %w", err)
	}
	return nil
}
