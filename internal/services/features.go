package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"SRL-GEN/internal/logger"
	"SRL-GEN/internal/processor"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	qrPixels         = 300
	maxDownloadBytes = 10 << 20
)

// DigitalFeatures are the optional images embossed on a letter. Signature
// and Stamp accept inline base64, a path below the uploads directory or an
// http(s) URL.
type DigitalFeatures struct {
	VerificationURL string
	Signature       string
	Stamp           string
}

func (f DigitalFeatures) Empty() bool {
	return f.VerificationURL == "" && f.Signature == "" && f.Stamp == ""
}

type FeatureComposer struct {
	uploadsDir string
	scratchDir string
	client     *http.Client
	caps       map[string]processor.Size
	log        *zap.Logger
	now        func() time.Time
}

func NewFeatureComposer(uploadsDir, scratchDir string, log *zap.Logger) *FeatureComposer {
	return &FeatureComposer{
		uploadsDir: uploadsDir,
		scratchDir: scratchDir,
		client:     &http.Client{Timeout: 15 * time.Second},
		caps: map[string]processor.Size{
			processor.TagSignature: {Width: 150, Height: 75},
			processor.TagStamp:     {Width: 100, Height: 100},
		},
		log: logger.OrNop(log),
		now: time.Now,
	}
}

// Compose returns base64 PNG payloads keyed by image tag, or nil when no
// feature was requested. Signature and stamp failures only drop that image.
func (c *FeatureComposer) Compose(ctx context.Context, features DigitalFeatures) (map[string]string, error) {
	if features.Empty() {
		return nil, nil
	}

	var mu sync.Mutex
	result := make(map[string]string)
	set := func(tag, value string) {
		mu.Lock()
		result[tag] = value
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	if features.VerificationURL != "" {
		g.Go(func() error {
			raster, err := QRCodePNG(features.VerificationURL)
			if err != nil {
				return err
			}
			set(processor.TagQRCode, base64.StdEncoding.EncodeToString(raster))
			return nil
		})
	}
	for tag, ref := range map[string]string{
		processor.TagSignature: features.Signature,
		processor.TagStamp:     features.Stamp,
	} {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		tag, ref := tag, ref
		g.Go(func() error {
			payload, err := c.prepare(gctx, tag, ref)
			if err != nil {
				c.log.Warn("Digital feature omitted", zap.String("tag", tag), zap.Error(err))
				return nil
			}
			set(tag, payload)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// QRCodePNG renders content as a square PNG of exactly 300 px with a quiet
// zone of one module. Equal input gives byte-identical output.
func QRCodePNG(content string) ([]byte, error) {
	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	code.DisableBorder = true
	bitmap := code.Bitmap()

	modules := len(bitmap) + 2
	small := image.NewGray(image.Rect(0, 0, modules, modules))
	draw.Draw(small, small.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				small.SetGray(x+1, y+1, color.Gray{Y: 0})
			}
		}
	}

	scaled := image.NewGray(image.Rect(0, 0, qrPixels, qrPixels))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), small, small.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, fmt.Errorf("failed to encode qr png: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *FeatureComposer) prepare(ctx context.Context, tag, ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	var data []byte
	switch {
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		scratch, err := c.download(ctx, tag, ref)
		if err != nil {
			return "", err
		}
		if data, err = os.ReadFile(scratch); err != nil {
			return "", fmt.Errorf("failed to read downloaded image: %w", err)
		}
	case strings.HasPrefix(ref, "data:"):
		return ref, nil
	default:
		local, err := c.localPath(ref)
		if err != nil {
			return "", err
		}
		if data, err = os.ReadFile(local); err != nil {
			if _, decodeErr := processor.DecodeBase64Image(ref); decodeErr == nil {
				return ref, nil
			}
			return "", fmt.Errorf("failed to read image %s: %w", ref, err)
		}
	}

	return c.fit(tag, data)
}

// localPath resolves ref inside the uploads directory. References that
// would leave it are rejected.
func (c *FeatureComposer) localPath(ref string) (string, error) {
	rel := strings.TrimPrefix(filepath.ToSlash(ref), "/")
	rel = strings.TrimPrefix(rel, "uploads/")
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("image path %q escapes the uploads directory", ref)
	}
	return filepath.Join(c.uploadsDir, filepath.FromSlash(clean)), nil
}

func (c *FeatureComposer) download(ctx context.Context, tag, ref string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return "", fmt.Errorf("invalid image url: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.scratchDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	name := fmt.Sprintf("%s_%d%s", tag, c.now().UnixNano(), downloadExtension(ref, resp.Header.Get("Content-Type")))
	target := filepath.Join(c.scratchDir, name)

	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	n, err := io.Copy(out, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n > maxDownloadBytes {
		err = errors.New("image exceeds download limit")
	}
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("failed to store downloaded image: %w", err)
	}
	return target, nil
}

func downloadExtension(ref, contentType string) string {
	if u, err := url.Parse(ref); err == nil {
		if ext := strings.ToLower(path.Ext(u.Path)); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".img"
}

// fit decodes data and shrinks it to the cap of tag, keeping the aspect
// ratio. Images already inside the cap keep their size.
func (c *FeatureComposer) fit(tag string, data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := FitWithin(bounds.Dx(), bounds.Dy(), c.caps[tag])

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", fmt.Errorf("failed to encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// FitWithin scales (w, h) down to fit limit. It never scales up.
func FitWithin(w, h int, limit processor.Size) (int, int) {
	if w <= 0 || h <= 0 {
		return 1, 1
	}
	if limit.Width <= 0 || limit.Height <= 0 || (w <= limit.Width && h <= limit.Height) {
		return w, h
	}
	scale := float64(limit.Width) / float64(w)
	if s := float64(limit.Height) / float64(h); s < scale {
		scale = s
	}
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}
