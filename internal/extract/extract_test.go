package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-auth/internal/config"
)

// Helper functions for creating test images

func createTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	return buf.Bytes()
}

func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

func newFaceServer(t *testing.T, status int, resp any) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("expected multipart body: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("expected file field: %v", err)
		}
		w.WriteHeader(status)
		if resp != nil {
			json.NewEncoder(w).Encode(resp)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestClient(url string) *Client {
	return NewClient(config.ExtractorConfig{URL: url, MinFaceSize: 30, MinDetScore: 0.5})
}

func face(x1, y1, x2, y2, score float64, emb ...float32) FaceDetection {
	return FaceDetection{BBox: []float64{x1, y1, x2, y2}, DetScore: score, Embedding: emb, Dim: len(emb)}
}

// --- Error tests ---

func TestError_IsAndKind(t *testing.T) {
	tests := []struct {
		kind     Kind
		sentinel error
	}{
		{KindNoFaceDetected, ErrNoFaceDetected},
		{KindFaceTooSmall, ErrFaceTooSmall},
		{KindDecodeFailure, ErrDecodeFailure},
		{KindUnavailable, ErrUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			err := error(newError(tc.kind, errors.New("cause")))
			if !errors.Is(err, tc.sentinel) {
				t.Errorf("expected errors.Is(%v, %v)", err, tc.sentinel)
			}
			if KindOf(err) != tc.kind {
				t.Errorf("expected kind %v, got %v", tc.kind, KindOf(err))
			}
			var e *Error
			if !errors.As(err, &e) || e.UserMessage() == "" {
				t.Error("expected a user message")
			}
		})
	}
}

func TestError_NotOtherSentinel(t *testing.T) {
	err := newError(KindFaceTooSmall, nil)
	if errors.Is(err, ErrNoFaceDetected) {
		t.Error("face-too-small must not match no-face sentinel")
	}
	if err.Error() != ErrFaceTooSmall.Error() {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestKindOf_ForeignError(t *testing.T) {
	if KindOf(errors.New("boom")) != KindUnavailable {
		t.Error("foreign errors should classify as unavailable")
	}
}

// --- Downscale tests ---

func TestDownscale_NoResizeNeeded(t *testing.T) {
	data := encodeJPEG(createTestImage(100, 80, color.White))

	result, err := Downscale(data, 640)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Error("expected original data to be returned unchanged")
	}
}

func TestDownscale_Disabled(t *testing.T) {
	data := []byte("not even an image")

	result, err := Downscale(data, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Error("expected data to be returned unchanged when disabled")
	}
}

func TestDownscale_Landscape(t *testing.T) {
	data := encodePNG(createTestImage(1600, 900, color.Gray{Y: 128}))

	result, err := Downscale(data, 800)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg output, got %s", format)
	}
	if cfg.Width != 800 || cfg.Height != 450 {
		t.Errorf("expected 800x450, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDownscale_PortraitBoundsWidthOnly(t *testing.T) {
	data := encodeJPEG(createTestImage(1000, 2000, color.White))

	result, err := Downscale(data, 640)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(result))
	if err != nil {
		t.Fatalf("failed to decode result: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 1280 {
		t.Errorf("expected 640x1280, got %dx%d", cfg.Width, cfg.Height)
	}
}

func TestDownscale_InvalidImage(t *testing.T) {
	_, err := Downscale([]byte("garbage"), 640)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected decode failure, got %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring an 8-bit
// grayscale image of the given size, with no pixel data behind it.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], width)
	binary.BigEndian.PutUint32(ihdr[4:8], height)
	ihdr[8] = 8 // bit depth; color type, compression, filter and interlace stay 0

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeConfig_PixelLimit(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
		wantErr       bool
	}{
		{"small", 640, 480, false},
		{"exactly at limit", 8000, 5000, false},
		{"square over limit", 12000, 12000, true},
		{"one long row", 50_000_000, 1, true},
		{"tall strip", 400, 200_000, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := DecodeConfig(pngHeader(tc.width, tc.height))
			if tc.wantErr {
				if !errors.Is(err, ErrDecodeFailure) {
					t.Errorf("expected decode failure for %dx%d, got %v", tc.width, tc.height, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Width != int(tc.width) || cfg.Height != int(tc.height) {
				t.Errorf("expected %dx%d, got %dx%d", tc.width, tc.height, cfg.Width, cfg.Height)
			}
		})
	}
}

func TestDownscale_OversizedImageRefused(t *testing.T) {
	_, err := Downscale(pngHeader(12000, 12000), 640)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected decode failure before decoding pixels, got %v", err)
	}
}

func TestClient_Extract_OversizedImageSkipsServer(t *testing.T) {
	srv, calls := newFaceServer(t, http.StatusOK, FaceResponse{})
	client := newTestClient(srv.URL)

	_, err := client.Extract(context.Background(), pngHeader(20000, 20000))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected decode failure, got %v", err)
	}
	if *calls != 0 {
		t.Errorf("expected no request to the embedding service, got %d", *calls)
	}
}

// --- Client tests ---

func TestClient_Extract_LargestFaceWins(t *testing.T) {
	srv, _ := newFaceServer(t, http.StatusOK, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			face(0, 0, 40, 40, 0.9, 1, 1),
			face(10, 10, 110, 130, 0.8, 2, 2),
		},
		Model: "buffalo_l",
	})

	vec, err := newTestClient(srv.URL).Extract(context.Background(), encodeJPEG(createTestImage(200, 200, color.White)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 2 || vec[0] != 2 {
		t.Errorf("expected the larger face's vector, got %v", vec)
	}
}

func TestClient_Extract_LowScoreFacesIgnored(t *testing.T) {
	srv, _ := newFaceServer(t, http.StatusOK, FaceResponse{
		FacesCount: 2,
		Faces: []FaceDetection{
			face(0, 0, 150, 150, 0.2, 9, 9),
			face(0, 0, 60, 60, 0.7, 3, 3),
		},
	})

	vec, err := newTestClient(srv.URL).Extract(context.Background(), encodeJPEG(createTestImage(200, 200, color.White)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vec[0] != 3 {
		t.Errorf("expected the confident face's vector, got %v", vec)
	}
}

func TestClient_Extract_Failures(t *testing.T) {
	img := encodeJPEG(createTestImage(64, 64, color.White))

	tests := []struct {
		name   string
		status int
		resp   any
		want   error
	}{
		{"no faces", http.StatusOK, FaceResponse{}, ErrNoFaceDetected},
		{"only low score faces", http.StatusOK, FaceResponse{Faces: []FaceDetection{face(0, 0, 100, 100, 0.1, 1)}}, ErrNoFaceDetected},
		{"face too small", http.StatusOK, FaceResponse{Faces: []FaceDetection{face(0, 0, 20, 50, 0.9, 1)}}, ErrFaceTooSmall},
		{"empty embedding", http.StatusOK, FaceResponse{Faces: []FaceDetection{face(0, 0, 50, 50, 0.9)}}, ErrUnavailable},
		{"server error", http.StatusInternalServerError, map[string]string{"detail": "boom"}, ErrUnavailable},
		{"unprocessable image", http.StatusUnprocessableEntity, map[string]string{"detail": "bad image"}, ErrDecodeFailure},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newFaceServer(t, tc.status, tc.resp)
			_, err := newTestClient(srv.URL).Extract(context.Background(), img)
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestClient_Extract_UndecodableSkipsServer(t *testing.T) {
	srv, calls := newFaceServer(t, http.StatusOK, FaceResponse{})

	_, err := newTestClient(srv.URL).Extract(context.Background(), []byte("definitely not a jpeg"))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected decode failure, got %v", err)
	}
	if *calls != 0 {
		t.Errorf("expected no request for undecodable input, got %d", *calls)
	}
}

func TestClient_Extract_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Extract(context.Background(), encodeJPEG(createTestImage(64, 64, color.White)))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(config.ExtractorConfig{URL: "http://embed:8000/"})
	if c.baseURL != "http://embed:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
	if c.Model() != "buffalo_l" {
		t.Errorf("expected default model, got %s", c.Model())
	}
	if c.minFaceSize != 30 {
		t.Errorf("expected default min face size 30, got %f", c.minFaceSize)
	}
}
