package base

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports"
)

// FetchNix downloads the Nix binary tarball and unpacks it on the target.
type FetchNix struct {
	URL     string              `json:"url"`
	SHA256  string              `json:"sha256,omitempty"`
	Dest    string              `json:"dest"`
	State   actions.ActionState `json:"action_state"`
	Receipt *FetchNixReceipt    `json:"receipt,omitempty"`

	// Client is used for the download; nil means http.DefaultClient.
	Client *http.Client `json:"-"`
}

// FetchNixReceipt records where the tarball was unpacked.
type FetchNixReceipt struct {
	Dest    string `json:"dest"`
	SHA256  string `json:"sha256,omitempty"`
	Entries int    `json:"entries"`
}

// ReceiptKind implements actions.Receipt.
func (r *FetchNixReceipt) ReceiptKind() actions.Kind { return actions.KindFetchNix }

// PlanFetchNix returns a planned FetchNix. sha256 may be empty to skip
// verification.
func PlanFetchNix(rawURL, sha256sum, dest string) (*FetchNix, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid nix package url: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return nil, fmt.Errorf("unsupported nix package url scheme %q", u.Scheme)
	}
	if _, err := archiveFormat(u.Path); err != nil {
		return nil, err
	}
	if sha256sum != "" {
		if b, err := hex.DecodeString(sha256sum); err != nil || len(b) != sha256.Size {
			return nil, fmt.Errorf("invalid sha256 digest %q", sha256sum)
		}
	}
	if !path.IsAbs(dest) {
		return nil, fmt.Errorf("unpack destination must be absolute, got %q", dest)
	}
	return &FetchNix{
		URL:    rawURL,
		SHA256: strings.ToLower(sha256sum),
		Dest:   path.Clean(dest),
		State:  actions.StatePlanned,
	}, nil
}

// Kind implements actions.Actionable.
func (a *FetchNix) Kind() actions.Kind { return actions.KindFetchNix }

// ActionState implements actions.Actionable.
func (a *FetchNix) ActionState() actions.ActionState { return a.State }

// HasProgress implements actions.Progressor.
func (a *FetchNix) HasProgress() bool { return a.Receipt != nil }

// Describe implements actions.Actionable.
func (a *FetchNix) Describe() []actions.ActionDescription {
	return []actions.ActionDescription{
		actions.NewDescription(
			fmt.Sprintf("Fetch Nix from `%s`", a.URL),
			fmt.Sprintf("Unpack it to `%s`", a.Dest),
		),
	}
}

// Receipts implements actions.Receipter.
func (a *FetchNix) Receipts() []actions.Receipt {
	if a.Receipt == nil {
		return nil
	}
	return []actions.Receipt{a.Receipt}
}

func (a *FetchNix) fail(op string, err error) error {
	return &FetchNixError{newActionError(actions.KindFetchNix, a.URL, op, err)}
}

// Execute implements actions.Actionable.
func (a *FetchNix) Execute(ctx context.Context, target transports.Target) error {
	if err := actions.CheckExecute(a.Kind(), a.State); err != nil {
		return err
	}

	if a.Receipt == nil {
		exists, err := transports.Exists(ctx, target, a.Dest)
		if err != nil {
			return a.fail("stat", err)
		}
		if exists {
			return a.fail("stat", fmt.Errorf("%w: %s already exists", ErrConflict, a.Dest))
		}
	}

	archive, digest, err := a.download(ctx)
	if err != nil {
		return err
	}
	defer func() {
		archive.Close()
		_ = os.Remove(archive.Name())
	}()

	a.Receipt = &FetchNixReceipt{Dest: a.Dest, SHA256: digest}
	if err := target.MkdirAll(ctx, a.Dest, 0o755); err != nil {
		return a.fail("mkdir", err)
	}

	u, _ := url.Parse(a.URL)
	af, err := archiveFormat(u.Path)
	if err != nil {
		return a.fail("unpack", err)
	}
	stream, err := decompress(af, archive)
	if err != nil {
		return a.fail("unpack", err)
	}
	defer stream.Close()

	entries, err := unpackTar(ctx, target, stream, a.Dest)
	if err != nil {
		return a.fail("unpack", err)
	}
	a.Receipt.Entries = entries

	zerolog.Ctx(ctx).Info().
		Str("url", a.URL).
		Str("dest", a.Dest).
		Int("entries", entries).
		Msg("nix unpacked")

	a.State = actions.StateCompleted
	return nil
}

// download fetches the archive into a local temporary file, verifying its
// digest, and returns the file rewound to the start.
func (a *FetchNix) download(ctx context.Context) (*os.File, string, error) {
	body, err := a.open(ctx)
	if err != nil {
		return nil, "", a.fail("download", err)
	}
	defer body.Close()

	tmp, err := os.CreateTemp("", "nix-installer-*.tar")
	if err != nil {
		return nil, "", a.fail("download", err)
	}
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, hash), body); err != nil {
		cleanup()
		return nil, "", a.fail("download", err)
	}
	digest := hex.EncodeToString(hash.Sum(nil))
	if a.SHA256 != "" && digest != a.SHA256 {
		cleanup()
		return nil, "", a.fail("verify", fmt.Errorf("sha256 mismatch: got %s, expected %s", digest, a.SHA256))
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, "", a.fail("download", err)
	}
	return tmp, digest, nil
}

func (a *FetchNix) open(ctx context.Context) (io.ReadCloser, error) {
	u, err := url.Parse(a.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "file" {
		return os.Open(u.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return nil, err
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return resp.Body, nil
}

// Revert implements actions.Actionable.
func (a *FetchNix) Revert(ctx context.Context, target transports.Target) error {
	if err := actions.CheckRevertable(a); err != nil {
		return err
	}
	if a.Receipt != nil {
		if err := target.RemoveAll(ctx, a.Receipt.Dest); err != nil {
			return a.fail("remove", err)
		}
	}
	a.State = actions.StateReverted
	return nil
}

type format int

const (
	formatTar format = iota
	formatGzip
	formatXz
	formatZstd
)

func archiveFormat(name string) (format, error) {
	switch {
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return formatXz, nil
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return formatZstd, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatGzip, nil
	case strings.HasSuffix(name, ".tar"):
		return formatTar, nil
	}
	return 0, fmt.Errorf("unsupported archive %q: expected .tar, .tar.gz, .tar.xz or .tar.zst", path.Base(name))
}

func decompress(f format, r io.Reader) (io.ReadCloser, error) {
	switch f {
	case formatGzip:
		return gzip.NewReader(r)
	case formatXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case formatZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// unpackTar writes every entry of r below dest on target and returns the
// number of entries written. Entries escaping dest are rejected.
func unpackTar(ctx context.Context, target transports.Target, r io.Reader, dest string) (int, error) {
	tr := tar.NewReader(r)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		rel := path.Clean(hdr.Name)
		if rel == "." {
			continue
		}
		if path.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, "../") {
			return count, fmt.Errorf("archive entry %q escapes destination", hdr.Name)
		}
		full := path.Join(dest, rel)
		mode := fs.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := target.MkdirAll(ctx, full, mode|0o700); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := target.MkdirAll(ctx, path.Dir(full), 0o755); err != nil {
				return count, err
			}
			w, err := target.Create(ctx, full, mode)
			if err != nil {
				return count, err
			}
			if _, err := io.Copy(w, tr); err != nil {
				w.Close()
				return count, err
			}
			if err := w.Close(); err != nil {
				return count, err
			}
		case tar.TypeSymlink:
			if err := target.MkdirAll(ctx, path.Dir(full), 0o755); err != nil {
				return count, err
			}
			if err := target.Symlink(ctx, hdr.Linkname, full); err != nil {
				return count, err
			}
		default:
			zerolog.Ctx(ctx).Debug().Str("entry", hdr.Name).Msg("skipping unsupported archive entry")
			continue
		}
		count++
	}
}
