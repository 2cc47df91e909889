package server_test

import (
	"bytes"
	"context"
	"net"
	"strings"
	"testing"

	"github.com/engula/file-storage/server"
	"github.com/engula/file-storage/storage"
	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startServer(t *testing.T) (*server.Client, afero.Fs) {
	t.Helper()
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	staging := afero.NewBasePathFs(fs, "/staging")
	store, err := storage.NewLocalFile(ctx, staging, fs, storage.LocalConfig{
		Root:    "/data",
		BaseURL: "https://files.example.com",
		Prefix:  "shop",
	}, logr.Discard())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(server.UnaryLogger(logr.Discard())),
		grpc.ChainStreamInterceptor(server.StreamLogger(logr.Discard())),
	)
	server.RegisterFileServiceServer(s, server.NewServer(store, logr.Discard()))
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return server.NewClient(conn), fs
}

func TestUploadDownloadDelete(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	client, fs := startServer(t)
	require.NoError(t, afero.WriteFile(fs, "/staging/p1", []byte("product photo"), 0644))

	res, err := client.Upload(ctx, storage.File{Path: "p1", OriginalName: "mug.jpg"}, false)
	require.NoError(t, err)
	assert.Regexp(`^shop/mug-\d+\.jpg$`, res.Key)
	assert.Equal("https://files.example.com/"+res.Key, res.URL)

	var buf bytes.Buffer
	n, err := client.Download(ctx, res.Key, &buf)
	require.NoError(t, err)
	assert.Equal(int64(len("product photo")), n)
	assert.Equal("product photo", buf.String())

	url, err := client.PresignedURL(ctx, res.Key)
	assert.NoError(err)
	assert.Equal(res.URL, url)

	assert.NoError(client.Delete(ctx, res.Key))
	_, err = client.Download(ctx, res.Key, &buf)
	assert.Equal(codes.NotFound, status.Code(err))

	// deleting again still succeeds
	assert.NoError(client.Delete(ctx, res.Key))
}

func TestUploadProtected(t *testing.T) {
	ctx := context.Background()
	client, fs := startServer(t)
	require.NoError(t, afero.WriteFile(fs, "/staging/p2", []byte("invoice"), 0644))

	res, err := client.Upload(ctx, storage.File{Path: "p2", OriginalName: "invoice.pdf"}, true)
	require.NoError(t, err)
	info, err := fs.Stat("/data/" + res.Key)
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().Perm().String())
}

func TestUploadRejectsPathsOutsideStaging(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	client, fs := startServer(t)
	require.NoError(t, afero.WriteFile(fs, "/etc/shadow", []byte("root:$6$secret"), 0600))

	for _, p := range []string{"/etc/shadow", "../etc/shadow", "p1/../../etc/shadow"} {
		_, err := client.Upload(ctx, storage.File{Path: p, OriginalName: "x.txt"}, false)
		assert.Equal(codes.InvalidArgument, status.Code(err), p)
	}
	_, err := client.Upload(ctx, storage.File{Path: "etc/shadow", OriginalName: "x.txt"}, false)
	assert.Equal(codes.NotFound, status.Code(err))

	entries, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	assert.Empty(entries)
}

func TestUploadValidation(t *testing.T) {
	client, _ := startServer(t)

	_, err := client.Upload(context.Background(), storage.File{Path: "p1"}, false)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.UploadStream(context.Background(), storage.StreamDescriptor{}, strings.NewReader("x"))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestUploadStreamRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	client, fs := startServer(t)

	payload := strings.Repeat("sku,qty\n", 10000)
	res, err := client.UploadStream(ctx, storage.StreamDescriptor{Name: "inventory", Ext: "csv"}, strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal("shop/inventory.csv", res.Key)
	assert.Equal("https://files.example.com/shop/inventory.csv", res.URL)

	b, err := afero.ReadFile(fs, "/data/shop/inventory.csv")
	require.NoError(t, err)
	assert.Equal(payload, string(b))

	res, err = client.UploadStream(ctx, storage.StreamDescriptor{Name: "empty", Ext: "txt"}, strings.NewReader(""))
	require.NoError(t, err)
	b, err = afero.ReadFile(fs, "/data/"+res.Key)
	require.NoError(t, err)
	assert.Empty(b)
}
