package materialize

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrmushfiq/imagegw/internal/gateway/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	pngBytes  = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), bytes.Repeat([]byte{0x01}, 32)...)
	jpegBytes = append([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"), bytes.Repeat([]byte{0x02}, 32)...)
	gifBytes  = append([]byte("GIF89a"), bytes.Repeat([]byte{0x03}, 32)...)
	webpBytes = append([]byte("RIFF\x24\x00\x00\x00WEBPVP8 "), bytes.Repeat([]byte{0x04}, 32)...)
)

// httpsOnly lets tests reach the loopback TLS test server
func httpsOnly(u *url.URL) error {
	if u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrUnsafeURL, u.Scheme)
	}
	return nil
}

func newTestMaterializer(srv *httptest.Server, opts Options) *Materializer {
	opts.Client = srv.Client()
	if opts.CheckURL == nil {
		opts.CheckURL = httpsOnly
	}
	return New(opts, zap.NewNop())
}

func TestMaterialize_FetchesURLOnlyImages(t *testing.T) {
	var authSeen atomic.Value
	authSeen.Store("")
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authSeen.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	m := newTestMaterializer(srv, Options{})
	in := []providers.Image{
		{Index: 0, URL: srv.URL + "/a.png?X-Tos-Signature=abc"},
		{Index: 1, Base64: base64.StdEncoding.EncodeToString(jpegBytes)},
	}
	out := m.Materialize(context.Background(), in)

	require.Len(t, out, 2)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngBytes), out[0].Base64)
	assert.Equal(t, "image/png", out[0].MimeType)
	assert.Equal(t, in[0].URL, out[0].URL)
	assert.Equal(t, "image/jpeg", out[1].MimeType)
	assert.Equal(t, "", authSeen.Load())

	assert.Empty(t, in[0].Base64, "input slice is not modified")
}

func TestMaterialize_RefusesLoopbackWithDefaultCheck(t *testing.T) {
	var hits int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	m := New(Options{Client: srv.Client()}, zap.NewNop())
	out := m.Materialize(context.Background(), []providers.Image{{URL: srv.URL + "/a.png"}})

	require.Len(t, out, 1)
	assert.Empty(t, out[0].Base64)
	assert.Equal(t, srv.URL+"/a.png", out[0].URL)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestMaterialize_ContentTypeHandling(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		wantMime    string
	}{
		{"declared image", "image/webp", webpBytes, "image/webp"},
		{"declared with params", "image/JPEG; charset=binary", jpegBytes, "image/jpeg"},
		{"octet-stream sniffed", "application/octet-stream", gifBytes, "image/gif"},
		{"missing type sniffed", "", pngBytes, "image/png"},
		{"mislabelled image", "text/plain", jpegBytes, "image/jpeg"},
		{"html rejected", "text/html", []byte("<html><body>login</body></html>"), ""},
		{"untyped unknown bytes default to png", "application/octet-stream", []byte{0x00, 0x01, 0x02, 0x03}, DefaultMimeType},
		{"missing type unknown bytes default to png", "", []byte{0x00, 0x01, 0x02, 0x03}, DefaultMimeType},
		{"declared text rejected", "text/plain", []byte("just some text"), ""},
		{"declared json rejected", "application/json", []byte(`{"error":"expired"}`), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				} else {
					w.Header()["Content-Type"] = nil
				}
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			out := newTestMaterializer(srv, Options{}).Materialize(context.Background(), []providers.Image{{URL: srv.URL}})
			require.Len(t, out, 1)
			if tt.wantMime == "" {
				assert.Empty(t, out[0].Base64)
				assert.Empty(t, out[0].MimeType)
				return
			}
			assert.Equal(t, tt.wantMime, out[0].MimeType)
			assert.Equal(t, base64.StdEncoding.EncodeToString(tt.body), out[0].Base64)
		})
	}
}

func TestMaterialize_ByteCap(t *testing.T) {
	big := append(append([]byte{}, pngBytes...), bytes.Repeat([]byte{0xAA}, 2048)...)

	t.Run("declared length", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			w.Header().Set("Content-Length", fmt.Sprint(len(big)))
			_, _ = w.Write(big)
		}))
		defer srv.Close()

		out := newTestMaterializer(srv, Options{MaxBytes: 1024}).Materialize(context.Background(), []providers.Image{{URL: srv.URL}})
		assert.Empty(t, out[0].Base64)
		assert.Equal(t, srv.URL, out[0].URL)
	})

	t.Run("chunked body", func(t *testing.T) {
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			for i := 0; i < len(big); i += 256 {
				_, _ = w.Write(big[i:min(i+256, len(big))])
				w.(http.Flusher).Flush()
			}
		}))
		defer srv.Close()

		out := newTestMaterializer(srv, Options{MaxBytes: 1024}).Materialize(context.Background(), []providers.Image{{URL: srv.URL}})
		assert.Empty(t, out[0].Base64)
	})

	t.Run("exactly at cap", func(t *testing.T) {
		exact := big[:1024]
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(exact)
		}))
		defer srv.Close()

		out := newTestMaterializer(srv, Options{MaxBytes: 1024}).Materialize(context.Background(), []providers.Image{{URL: srv.URL}})
		assert.Equal(t, base64.StdEncoding.EncodeToString(exact), out[0].Base64)
	})
}

func TestMaterialize_FailuresDegradeOnlyTheirImage(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/slow":
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		default:
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		}
	}))
	defer srv.Close()

	m := newTestMaterializer(srv, Options{Timeout: 100 * time.Millisecond})
	out := m.Materialize(context.Background(), []providers.Image{
		{Index: 0, URL: srv.URL + "/missing"},
		{Index: 1, URL: srv.URL + "/ok"},
		{Index: 2, URL: srv.URL + "/slow"},
		{Index: 3},
	})

	require.Len(t, out, 4)
	assert.Empty(t, out[0].Base64)
	assert.NotEmpty(t, out[1].Base64)
	assert.Empty(t, out[2].Base64)
	assert.Equal(t, srv.URL+"/slow", out[2].URL)
	assert.Equal(t, providers.Image{Index: 3}, out[3])
}

func TestMaterialize_RedirectIsRevalidated(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer target.Close()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/plain.png", http.StatusFound)
	}))
	defer srv.Close()

	out := newTestMaterializer(srv, Options{}).Materialize(context.Background(), []providers.Image{{URL: srv.URL}})
	assert.Empty(t, out[0].Base64)
}

func TestMaterialize_BoundedParallelism(t *testing.T) {
	var inFlight, peak int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	images := make([]providers.Image, 8)
	for i := range images {
		images[i] = providers.Image{Index: i, URL: fmt.Sprintf("%s/%d.png", srv.URL, i)}
	}

	out := newTestMaterializer(srv, Options{Concurrency: 2}).Materialize(context.Background(), images)
	for i, img := range out {
		assert.Equal(t, i, img.Index)
		assert.NotEmpty(t, img.Base64, "image %d", i)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestMaterialize_CanceledContext(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := newTestMaterializer(srv, Options{}).Materialize(ctx, []providers.Image{{URL: srv.URL}})
	assert.Empty(t, out[0].Base64)
	assert.Equal(t, srv.URL, out[0].URL)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		raw     string
		allowed bool
	}{
		{"https://cdn.example.com/a.png", true},
		{"https://93.184.216.34/a.png", true},
		{"https://[2606:2800:220:1::1]/a.png", true},
		{"http://cdn.example.com/a.png", false},
		{"ftp://cdn.example.com/a.png", false},
		{"https:///a.png", false},
		{"https://localhost/a.png", false},
		{"https://LOCALHOST./a.png", false},
		{"https://api.localhost/a.png", false},
		{"https://metadata.google.internal/computeMetadata", false},
		{"https://127.0.0.1/a.png", false},
		{"https://10.1.2.3/a.png", false},
		{"https://172.16.0.9/a.png", false},
		{"https://192.168.1.1/a.png", false},
		{"https://169.254.169.254/latest/meta-data", false},
		{"https://0.0.0.0/a.png", false},
		{"https://[::1]/a.png", false},
		{"https://[fe80::1]/a.png", false},
		{"https://[fec0::1]/a.png", false},
		{"https://[fd00::1]/a.png", false},
		{"https://[::ffff:127.0.0.1]/a.png", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			err = ValidateURL(u)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrUnsafeURL)
			}
		})
	}
}

func TestDialControl(t *testing.T) {
	assert.ErrorIs(t, dialControl("tcp", "127.0.0.1:443", nil), ErrUnsafeURL)
	assert.ErrorIs(t, dialControl("tcp", "[fd12::3]:443", nil), ErrUnsafeURL)
	assert.ErrorIs(t, dialControl("tcp", "not-an-address", nil), ErrUnsafeURL)
	assert.NoError(t, dialControl("tcp", "93.184.216.34:443", nil))
}

func TestSafeTransportRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("loopback server should not be reached")
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewSafeTransport(), Timeout: 2 * time.Second}
	_, err := client.Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsafeURL)
}

type captureTransport struct {
	mu      sync.Mutex
	headers http.Header
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.headers = req.Header.Clone()
	c.mu.Unlock()
	return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody, Request: req}, nil
}

func TestStripCredentialsTransport(t *testing.T) {
	capture := &captureTransport{}
	rt := &stripCredentialsTransport{next: capture}

	req, err := http.NewRequest(http.MethodGet, "https://cdn.example.com/a.png", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-live-123")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	req.Header.Set("Cookie", "session=1")
	req.Header.Set("Accept", "image/*")

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, capture.headers.Get("Authorization"))
	assert.Empty(t, capture.headers.Get("Proxy-Authorization"))
	assert.Empty(t, capture.headers.Get("Cookie"))
	assert.Equal(t, "image/*", capture.headers.Get("Accept"))
	assert.Equal(t, "Bearer sk-live-123", req.Header.Get("Authorization"), "caller request is not mutated")
}

func TestIsBlockedIP(t *testing.T) {
	assert.True(t, IsBlockedIP(net.ParseIP("127.0.0.2")))
	assert.True(t, IsBlockedIP(net.ParseIP("fc00::1")))
	assert.False(t, IsBlockedIP(net.ParseIP("8.8.8.8")))
	assert.False(t, IsBlockedIP(net.ParseIP("2001:4860:4860::8888")))
}

func TestSniff(t *testing.T) {
	assert.Equal(t, "image/png", SniffImage(pngBytes))
	assert.Equal(t, "image/jpeg", SniffImage(jpegBytes))
	assert.Equal(t, "image/gif", SniffImage(gifBytes))
	assert.Equal(t, "image/webp", SniffImage(webpBytes))
	assert.Equal(t, "", SniffImage([]byte("%PDF-1.7")))
	assert.Equal(t, "", SniffImage(nil))

	assert.Equal(t, "image/gif", SniffBase64(base64.StdEncoding.EncodeToString(gifBytes)))
	assert.Equal(t, "image/webp", SniffBase64(base64.StdEncoding.EncodeToString(webpBytes)))
	assert.Equal(t, DefaultMimeType, SniffBase64("not base64 at all!"))
	assert.Equal(t, DefaultMimeType, SniffBase64(""))
}
