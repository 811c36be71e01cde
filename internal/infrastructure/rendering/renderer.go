package rendering

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"os"
	"time"

	"github.com/DropForge/dropforge-go/internal/domain/captcha"
	"github.com/DropForge/dropforge-go/internal/infrastructure/observability/logging"
	"github.com/DropForge/dropforge-go/pkg/config"
	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Renderer draws distorted text-image challenges to a raster buffer. Images
// are generated, handed to the caller, and never persisted server-side.
type Renderer struct {
	sem      *Semaphore
	logger   *logging.ChanneledLogger
	width    int
	height   int
	fontPath string
}

// Candidate fonts for systems without an explicit CAPTCHA_FONT_PATH.
var systemFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf",
	"/usr/share/fonts/TTF/DejaVuSans-Bold.ttf",
	"/Library/Fonts/Arial Bold.ttf",
}

// NewRenderer creates a renderer bounded by the given semaphore.
func NewRenderer(sem *Semaphore, logger *logging.ChanneledLogger) *Renderer {
	fontPath := os.Getenv("CAPTCHA_FONT_PATH")
	if fontPath == "" {
		for _, candidate := range systemFontPaths {
			if _, err := os.Stat(candidate); err == nil {
				fontPath = candidate
				break
			}
		}
	}

	return &Renderer{
		sem:      sem,
		logger:   logger,
		width:    config.ImageWidth,
		height:   config.ImageHeight,
		fontPath: fontPath,
	}
}

// distortionFor maps difficulty onto the distortion parameter that scales
// character rotation, offset jitter, and noise density.
func distortionFor(difficulty captcha.Difficulty) float64 {
	switch difficulty {
	case captcha.DifficultyHard:
		return 1.0
	case captcha.DifficultyMedium:
		return 0.6
	default:
		return 0.3
	}
}

// RenderText renders the given source text as a distorted challenge image.
// format is "png" or "webp". The call suspends in FIFO order when the
// render semaphore is at capacity.
func (r *Renderer) RenderText(ctx context.Context, text string, difficulty captcha.Difficulty, format string) (*captcha.TextImageChallenge, error) {
	if err := r.sem.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("render slot unavailable: %w", err)
	}
	defer r.sem.Release()

	start := time.Now()
	r.logger.Render().Debug("Rendering challenge image", "length", len(text), "difficulty", string(difficulty), "waiting", r.sem.Waiting())

	img := r.draw(text, distortionFor(difficulty))

	data, err := encode(img, format)
	if err != nil {
		r.logger.Render().Error("Challenge image encoding failed", "error", err.Error(), "format", format)
		return nil, err
	}

	r.logger.Render().Info("Challenge image rendered", "bytes", len(data), "format", format, "duration", time.Since(start))

	return &captcha.TextImageChallenge{
		Image:  data,
		Format: format,
		Width:  r.width,
		Height: r.height,
	}, nil
}

// draw paints the background, noise, and per-character distorted glyphs.
func (r *Renderer) draw(text string, distortion float64) image.Image {
	dc := gg.NewContext(r.width, r.height)

	dc.SetRGB(0.96, 0.96, 0.94)
	dc.Clear()

	fontSize := float64(r.height) * 0.55
	useSystemFont := false
	if r.fontPath != "" {
		if err := dc.LoadFontFace(r.fontPath, fontSize); err == nil {
			useSystemFont = true
		}
	}
	if !useSystemFont {
		dc.SetFontFace(basicfont.Face7x13)
	}

	// Noise lines behind the glyphs.
	lineCount := 3 + int(distortion*5)
	for i := 0; i < lineCount; i++ {
		dc.SetRGBA(rand.Float64()*0.5, rand.Float64()*0.5, rand.Float64()*0.5, 0.4)
		dc.SetLineWidth(1 + rand.Float64()*2)
		dc.DrawLine(
			rand.Float64()*float64(r.width), rand.Float64()*float64(r.height),
			rand.Float64()*float64(r.width), rand.Float64()*float64(r.height),
		)
		dc.Stroke()
	}

	// Per-character rotation and offset proportional to distortion.
	cellWidth := float64(r.width) / float64(len(text)+1)
	for i, ch := range text {
		x := cellWidth * float64(i+1)
		y := float64(r.height)/2 + (rand.Float64()-0.5)*distortion*float64(r.height)*0.4
		angle := (rand.Float64() - 0.5) * distortion * 0.9

		dc.Push()
		dc.RotateAbout(angle, x, y)
		dc.SetRGB(0.1+rand.Float64()*0.2, 0.1+rand.Float64()*0.2, 0.1+rand.Float64()*0.2)
		dc.DrawStringAnchored(string(ch), x, y, 0.5, 0.5)
		dc.Pop()
	}

	// Noise dots over the glyphs.
	dotCount := int(float64(r.width*r.height) / 120 * distortion)
	for i := 0; i < dotCount; i++ {
		dc.SetRGBA(rand.Float64(), rand.Float64(), rand.Float64(), 0.5)
		dc.SetPixel(rand.Intn(r.width), rand.Intn(r.height))
	}

	img := dc.Image()
	if distortion > 0.5 {
		img = imaging.Blur(img, 0.5*distortion)
	}
	return img
}

// encode serializes the image in the requested format, defaulting to PNG.
func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: 80}); err != nil {
			return nil, err
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
