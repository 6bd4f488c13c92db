package photo

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/metrics"
)

// Policy selects how images are reshaped before upload.
type Policy string

const (
	// PolicyPreserve keeps the original dimensions.
	PolicyPreserve Policy = "preserve"
	// PolicySquare center-crops to a square of Size.
	PolicySquare Policy = "square"
	// PolicyPad fits the image inside a square canvas of PadColor.
	PolicyPad Policy = "pad"
	// PolicyFit shrinks the image to fit within Size, never enlarging it.
	PolicyFit Policy = "fit"
)

// ContentType is the type of every normalized image.
const ContentType = "image/jpeg"

// ParsePolicy validates a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyPreserve, PolicySquare, PolicyPad, PolicyFit:
		return p, nil
	default:
		return "", fmt.Errorf("unknown image policy %q", s)
	}
}

// Config controls normalization.
type Config struct {
	Policy          Policy
	Size            int
	Quality         int
	PreserveQuality int
	PadColor        string
	Skip            bool
}

// Normalizer re-encodes images to JPEG according to Config.
type Normalizer struct {
	cfg    Config
	pad    color.NRGBA
	logger *zap.Logger
}

// NewNormalizer validates cfg and constructs a Normalizer.
func NewNormalizer(cfg Config, logger *zap.Logger) (*Normalizer, error) {
	if cfg.Policy == "" {
		cfg.Policy = PolicyPreserve
	}
	if _, err := ParsePolicy(string(cfg.Policy)); err != nil {
		return nil, err
	}
	if cfg.Size <= 0 {
		cfg.Size = 1080
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = 90
	}
	if cfg.PreserveQuality <= 0 || cfg.PreserveQuality > 100 {
		cfg.PreserveQuality = 95
	}
	if cfg.PadColor == "" {
		cfg.PadColor = "#1a472a"
	}
	pad, err := ParseHexColor(cfg.PadColor)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{cfg: cfg, pad: pad, logger: logger}, nil
}

// Normalize validates that data decodes and reshapes it. Failures after the
// decode return the original bytes unchanged.
func (n *Normalizer) Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		metrics.ObserveImage("undecodable")
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if n.cfg.Skip {
		return data, nil
	}

	var out []byte
	if n.cfg.Policy == PolicyPreserve {
		out, err = n.preserve(img, data)
	} else {
		out, err = encodeJPEG(n.reshape(img), n.cfg.Quality)
	}
	if err != nil {
		n.logger.Warn("Image processing failed, using original", zap.String("policy", string(n.cfg.Policy)), zap.Error(err))
		metrics.ObserveImage("passthrough")
		return data, nil
	}
	metrics.ObserveImage("normalized")
	return out, nil
}

func (n *Normalizer) reshape(img image.Image) image.Image {
	size := n.cfg.Size
	switch n.cfg.Policy {
	case PolicySquare:
		return flatten(imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos), color.White)
	case PolicyPad:
		fitted := imaging.Fit(img, size, size, imaging.Lanczos)
		return imaging.OverlayCenter(imaging.New(size, size, n.pad), fitted, 1.0)
	default:
		return flatten(imaging.Fit(img, size, size, imaging.Lanczos), color.White)
	}
}

// preserve flattens onto white and re-encodes at the dimensions stored in
// the original file. An EXIF rotation that swaps width and height fails the
// check, and the caller posts the original bytes with their orientation tag.
func (n *Normalizer) preserve(img image.Image, original []byte) ([]byte, error) {
	want, _, err := image.DecodeConfig(bytes.NewReader(original))
	if err != nil {
		return nil, fmt.Errorf("read original dimensions: %w", err)
	}
	out, err := encodeJPEG(flatten(img, color.White), n.cfg.PreserveQuality)
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("verify preserved image: %w", err)
	}
	if cfg.Width != want.Width || cfg.Height != want.Height {
		return nil, fmt.Errorf("preserved image is %dx%d, want %dx%d", cfg.Width, cfg.Height, want.Width, want.Height)
	}
	return out, nil
}

func flatten(img image.Image, bg color.Color) *image.NRGBA {
	b := img.Bounds()
	return imaging.Overlay(imaging.New(b.Dx(), b.Dy(), bg), img, image.Pt(0, 0), 1.0)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseHexColor parses #rrggbb.
func ParseHexColor(s string) (color.NRGBA, error) {
	c := color.NRGBA{A: 0xff}
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "#%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return c, nil
}
