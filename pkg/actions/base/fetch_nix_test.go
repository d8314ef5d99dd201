package base

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/openfroyo/nixinstaller/pkg/actions"
	"github.com/openfroyo/nixinstaller/pkg/transports/fake"
)

type tarEntry struct {
	name, body, link string
	dir              bool
}

func buildTar(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644}
		switch {
		case e.dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.body))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func compress(t *testing.T, ext string, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	var w io.WriteCloser
	var err error
	switch ext {
	case ".tar.gz":
		w = gzip.NewWriter(&buf)
	case ".tar.xz":
		w, err = xz.NewWriter(&buf)
	case ".tar.zst":
		w, err = zstd.NewWriter(&buf)
	default:
		return data
	}
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

var nixTarball = []tarEntry{
	{name: "nix-2.18.1-x86_64-linux/", dir: true},
	{name: "nix-2.18.1-x86_64-linux/install", body: "#!/bin/sh\n"},
	{name: "nix-2.18.1-x86_64-linux/store/abc-nix/bin/nix", body: "ELF"},
	{name: "nix-2.18.1-x86_64-linux/store/abc-nix/bin/nix-build", link: "nix"},
}

func serve(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchNixFormats(t *testing.T) {
	for _, ext := range []string{".tar", ".tar.gz", ".tar.xz", ".tar.zst"} {
		t.Run(ext, func(t *testing.T) {
			ctx := context.Background()
			payload := compress(t, ext, buildTar(t, nixTarball))
			srv := serve(t, payload)
			target := fake.New()
			require.NoError(t, target.MkdirAll(ctx, "/nix", 0o755))

			sum := sha256.Sum256(payload)
			fetch, err := PlanFetchNix(srv.URL+"/nix"+ext, hex.EncodeToString(sum[:]), "/nix/temp-install-dir")
			require.NoError(t, err)
			fetch.Client = srv.Client()

			require.NoError(t, fetch.Execute(ctx, target))
			assert.Equal(t, actions.StateCompleted, fetch.ActionState())
			assert.Equal(t, 4, fetch.Receipt.Entries)

			data, ok := target.File("/nix/temp-install-dir/nix-2.18.1-x86_64-linux/store/abc-nix/bin/nix")
			require.True(t, ok)
			assert.Equal(t, "ELF", string(data))
			assert.True(t, target.Exists("/nix/temp-install-dir/nix-2.18.1-x86_64-linux/store/abc-nix/bin/nix-build"))

			require.NoError(t, fetch.Revert(ctx, target))
			assert.False(t, target.Exists("/nix/temp-install-dir"))
			assert.True(t, target.Exists("/nix"))
		})
	}
}

func TestFetchNixChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	srv := serve(t, buildTar(t, nixTarball))
	target := fake.New()

	fetch, err := PlanFetchNix(srv.URL+"/nix.tar", hex.EncodeToString(make([]byte, 32)), "/nix/temp-install-dir")
	require.NoError(t, err)
	fetch.Client = srv.Client()

	err = fetch.Execute(ctx, target)
	var fetchErr *FetchNixError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "verify", fetchErr.Op)
	assert.Nil(t, fetch.Receipt)
	assert.Empty(t, target.Mutations())
}

func TestFetchNixRejectsEscapingEntries(t *testing.T) {
	ctx := context.Background()
	srv := serve(t, buildTar(t, []tarEntry{{name: "../../etc/shadow", body: "x"}}))
	target := fake.New()
	require.NoError(t, target.MkdirAll(ctx, "/nix", 0o755))

	fetch, _ := PlanFetchNix(srv.URL+"/nix.tar", "", "/nix/temp-install-dir")
	fetch.Client = srv.Client()

	err := fetch.Execute(ctx, target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes destination")
	assert.False(t, target.Exists("/etc/shadow"))
	assert.True(t, fetch.HasProgress())
}

func TestFetchNixHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fetch, _ := PlanFetchNix(srv.URL+"/nix.tar.xz", "", "/nix/temp-install-dir")
	fetch.Client = srv.Client()

	err := fetch.Execute(context.Background(), fake.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestPlanFetchNixValidation(t *testing.T) {
	_, err := PlanFetchNix("ftp://example.com/nix.tar.xz", "", "/nix/tmp")
	assert.Error(t, err)
	_, err = PlanFetchNix("https://example.com/nix.zip", "", "/nix/tmp")
	assert.Error(t, err)
	_, err = PlanFetchNix("https://example.com/nix.tar.xz", "abc", "/nix/tmp")
	assert.Error(t, err)
	_, err = PlanFetchNix("https://example.com/nix.tar.xz", "", "relative")
	assert.Error(t, err)
}
