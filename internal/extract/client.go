package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/constants"
)

const (
	defaultEmbeddingURL = "http://localhost:8000"
	defaultFaceModel    = "buffalo_l"
	faceEndpoint        = "/embed/face"
	maxErrorBody        = 512
)

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// Width of the bounding box in pixels (0 for malformed boxes).
func (f FaceDetection) Width() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	return f.BBox[2] - f.BBox[0]
}

// Height of the bounding box in pixels (0 for malformed boxes).
func (f FaceDetection) Height() float64 {
	if len(f.BBox) != 4 {
		return 0
	}
	return f.BBox[3] - f.BBox[1]
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Client extracts face vectors using the embedding server
type Client struct {
	baseURL     string
	model       string
	minFaceSize float64
	minDetScore float64
	client      *http.Client
}

// NewClient creates a new extraction client
func NewClient(cfg config.ExtractorConfig) *Client {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultFaceModel
	}
	minFace := cfg.MinFaceSize
	if minFace <= 0 {
		minFace = constants.MinFaceSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		model:       model,
		minFaceSize: float64(minFace),
		minDetScore: cfg.MinDetScore,
		client:      &http.Client{Timeout: timeout},
	}
}

// Model returns the model name being used
func (c *Client) Model() string {
	return c.model
}

// statusError is a non-2xx answer from the embedding server.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.code, e.body)
}

// postMultipartImage posts the image as the "file" form field and returns the response body.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", http.DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &statusError{code: resp.StatusCode, body: text}
	}

	return body, nil
}

// DetectFaces returns every face the server found, without filtering.
func (c *Client) DetectFaces(ctx context.Context, imageData []byte) (*FaceResponse, error) {
	body, err := c.postMultipartImage(ctx, faceEndpoint, imageData)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, newError(KindUnavailable, fmt.Errorf("failed to parse response: %w", err))
	}

	return &faceResp, nil
}

// Extract returns the vector of the largest confidently detected face.
func (c *Client) Extract(ctx context.Context, imageData []byte) ([]float32, error) {
	if _, err := DecodeConfig(imageData); err != nil {
		return nil, err
	}

	resp, err := c.DetectFaces(ctx, imageData)
	if err != nil {
		return nil, err
	}

	face, ok := c.selectFace(resp.Faces)
	if !ok {
		return nil, newError(KindNoFaceDetected, nil)
	}

	if face.Width() < c.minFaceSize || face.Height() < c.minFaceSize {
		return nil, newError(KindFaceTooSmall,
			fmt.Errorf("face is %.0fx%.0f px, minimum is %.0f px", face.Width(), face.Height(), c.minFaceSize))
	}

	if len(face.Embedding) == 0 {
		return nil, newError(KindUnavailable, errors.New("empty embedding returned"))
	}

	return face.Embedding, nil
}

// selectFace picks the largest face whose detection score reaches the minimum.
func (c *Client) selectFace(faces []FaceDetection) (FaceDetection, bool) {
	var (
		best     FaceDetection
		bestArea float64
		found    bool
	)
	for _, f := range faces {
		if f.DetScore < c.minDetScore || len(f.BBox) != 4 {
			continue
		}
		area := f.Width() * f.Height()
		if !found || area > bestArea {
			best, bestArea, found = f, area, true
		}
	}
	return best, found
}

// classifyTransport maps HTTP failures to extraction kinds. The server answers
// 400/415/422 for images it cannot decode.
func classifyTransport(err error) error {
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusBadRequest, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			return newError(KindDecodeFailure, err)
		}
	}
	return newError(KindUnavailable, err)
}
