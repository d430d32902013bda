// Package testutil provides fixtures and output checks for integration
// tests: downloading reference datasets and comparing generated file trees
// against expected listings.
package testutil

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// DataDirEnvVar overrides where datasets are stored when no directory is
// passed explicitly.
const DataDirEnvVar = "QSIPREP_TEST_DATA"

// AllDatasets requests every known dataset.
const AllDatasets = "*"

// DatasetURLs maps dataset names to their archives.
var DatasetURLs = map[string]string{
	"HBCD":               "https://upenn.box.com/shared/static/gn1ec8x7mtk1f07l97d0th9idn4qv3yx.xz",
	"DSCSDSI":            "https://upenn.box.com/shared/static/eq6nvnyazi2zlt63uowqd0zhnlh6z4yv.xz",
	"DSCSDSI_BUDS":       "https://upenn.box.com/shared/static/bvhs3sw2swdkdyekpjhnrhvz89x3k87t.xz",
	"DSDTI":              "https://upenn.box.com/shared/static/iefjtvfez0c2oug0g1a9ulozqe5il5xy.xz",
	"twoses":             "https://upenn.box.com/shared/static/c949fjjhhen3ihgnzhkdw5jympm327pp.xz",
	"multishell_output":  "https://upenn.box.com/shared/static/hr7xnxicbx9iqndv1yl35bhtd61fpalp.xz",
	"singleshell_output": "https://upenn.box.com/shared/static/9jhf0eo3ml6ojrlxlz6lej09ny12efgg.gz",
	"drbuddi_rpe_series": "https://upenn.box.com/shared/static/j5mxts5wu0em1toafmrlzdndves1jnfv.xz",
	"drbuddi_epi":        "https://upenn.box.com/shared/static/plyuee1nbj9v8eck03s38ojji8tkspwr.xz",
	"DSDTI_fmap":         "https://upenn.box.com/shared/static/rxr6qbi6ezku9gw3esfpnvqlcxaw7n5n.gz",
	"DSCSDSI_fmap":       "https://upenn.box.com/shared/static/l561psez1ojzi4p3a12eidaw9vbizwdc.gz",
}

// Downloader fetches and unpacks test datasets.
type Downloader struct {
	Client *http.Client
	URLs   map[string]string
	Logger ports.Logger
}

// NewDownloader returns a downloader for DatasetURLs.
func NewDownloader(logger ports.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Downloader{Client: http.DefaultClient, URLs: DatasetURLs, Logger: logger.With("component", "utils")}
}

// DownloadTestData fetches dset into dataDir with the default downloader.
func DownloadTestData(ctx context.Context, dset, dataDir string) (string, error) {
	return NewDownloader(nil).Download(ctx, dset, dataDir)
}

// Download fetches dset into <dataDir>/<dset> and returns that directory. An
// existing directory is reused as is. With AllDatasets every dataset is
// fetched and the returned path is dataDir.
func (d *Downloader) Download(ctx context.Context, dset, dataDir string) (string, error) {
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	if dset == AllDatasets {
		for _, name := range d.names() {
			if _, err := d.Download(ctx, name, dataDir); err != nil {
				return "", err
			}
		}
		return dataDir, nil
	}

	url, ok := d.URLs[dset]
	if !ok {
		return "", fmt.Errorf("dset (%s) must be one of: %s", dset, strings.Join(d.names(), ", "))
	}

	outDir := filepath.Join(dataDir, dset)
	if info, err := os.Stat(outDir); err == nil && info.IsDir() {
		d.Logger.Info(ctx, fmt.Sprintf("Dataset %s already exists. If you need to re-download the data, please delete the folder.", dset))
		return outDir, nil
	}
	d.Logger.Info(ctx, fmt.Sprintf("Downloading %s to %s", dset, outDir))

	var decompress func(io.Reader) (io.Reader, error)
	switch {
	case strings.HasSuffix(url, ".xz"):
		decompress = func(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }
	case strings.HasSuffix(url, ".gz"):
		decompress = func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
	default:
		return "", fmt.Errorf("unknown file type for %s (%s)", dset, url)
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	if err := d.fetch(ctx, url, outDir, decompress); err != nil {
		os.RemoveAll(outDir)
		return "", fmt.Errorf("download %s: %w", dset, err)
	}
	return outDir, nil
}

func (d *Downloader) fetch(ctx context.Context, url, outDir string, decompress func(io.Reader) (io.Reader, error)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	r, err := decompress(resp.Body)
	if err != nil {
		return err
	}
	return extractTar(r, outDir)
}

func (d *Downloader) names() []string {
	names := make([]string, 0, len(d.URLs))
	for name := range d.URLs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// extractTar unpacks regular files and directories. Entries escaping dest
// are rejected.
func extractTar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(dest, hdr.Name)
		if rel, err := filepath.Rel(dest, target); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes %s", hdr.Name, dest)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func writeEntry(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func defaultDataDir() string {
	if dir := os.Getenv(DataDirEnvVar); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "qsiprep-test-data")
}
