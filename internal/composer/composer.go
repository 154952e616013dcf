package composer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"time"

	"github.com/HugoSmits86/nativewebp"
	"github.com/fogleman/gg"
	"github.com/sirupsen/logrus"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// SizeTier selects the watermark text scale.
type SizeTier string

const (
	TierSmall  SizeTier = "small"
	TierMedium SizeTier = "medium"
	TierLarge  SizeTier = "large"
)

// Spec is the watermark configuration resolved at composition time. It is
// baked into the output pixels, not persisted per asset.
type Spec struct {
	ShowTimestamp bool
	Tier          SizeTier
}

// Layout rules. These are exact so that the same capture always yields the
// same overlay geometry.
const (
	boxMargin    = 20.0
	boxPadding   = 14.0
	boxRadius    = 10.0
	shadowOffset = 3.0
	lineGap      = 6.0

	// Time text height as a fraction of image height, before tier scaling.
	timeSizeRatio = 0.045
	// Baseline offset within a line as a fraction of the measured line
	// height, approximating the font ascent.
	baselineRatio = 0.8

	logoMinWidth     = 100
	logoWidthDivisor = 12
	logoInset        = 20
	logoAlpha        = 178 // 70% opacity

	// WebP maximum dimension; taller output falls back to JPEG.
	webpMaxDimension = 16383
)

var errNoSurface = errors.New("composer: rendering surface unavailable")

var boldFont, regularFont *sfnt.Font

func init() {
	boldFont, _ = opentype.Parse(gobold.TTF)
	regularFont, _ = opentype.Parse(goregular.TTF)
}

func tierScale(t SizeTier) float64 {
	switch t {
	case TierSmall:
		return 0.75
	case TierLarge:
		return 1.25
	default:
		return 1.0
	}
}

// Composer stamps captures with the timestamp overlay and logo.
type Composer struct {
	logo image.Image
	log  *logrus.Entry
}

// New loads the logo from logoPath. A missing or undecodable logo is not
// fatal: composition proceeds without it and only the logo is skipped.
func New(logoPath string) *Composer {
	c := &Composer{log: logrus.WithField("component", "composer")}
	f, err := os.Open(logoPath)
	if err != nil {
		c.log.WithError(err).Warn("logo unavailable, captures will omit it")
		return c
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		c.log.WithError(err).Warn("logo undecodable, captures will omit it")
		return c
	}
	c.logo = img
	return c
}

// Compose draws the watermark overlay onto a copy of src and returns the
// result. For fixed inputs the output is pixel-reproducible. Failure to
// acquire the drawing surface or the fonts is fatal; the unwatermarked
// image is never passed through silently.
func (c *Composer) Compose(src image.Image, ts time.Time, spec Spec) (image.Image, error) {
	if src == nil {
		return nil, errNoSurface
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errNoSurface
	}

	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(src, 0, 0)

	if spec.ShowTimestamp {
		if err := c.drawTimestamp(dc, ts, spec.Tier, b.Dy()); err != nil {
			return nil, err
		}
	}

	out, ok := dc.Image().(*image.RGBA)
	if !ok {
		return nil, errNoSurface
	}
	if c.logo != nil {
		c.drawLogo(out)
	}
	return out, nil
}

// drawTimestamp renders the bold HH:MM line with the DD/MM/YYYY Weekday
// line at half size beneath it, inside a semi-transparent rounded box with
// a soft shadow, at the top-left of the image.
func (c *Composer) drawTimestamp(dc *gg.Context, ts time.Time, tier SizeTier, imageHeight int) error {
	if boldFont == nil || regularFont == nil {
		return errNoSurface
	}
	timeSize := float64(imageHeight) * timeSizeRatio * tierScale(tier)
	dateSize := timeSize / 2

	boldFace, err := opentype.NewFace(boldFont, &opentype.FaceOptions{
		Size: timeSize, DPI: 72, Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("composer: %w", err)
	}
	defer boldFace.Close()
	regularFace, err := opentype.NewFace(regularFont, &opentype.FaceOptions{
		Size: dateSize, DPI: 72, Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("composer: %w", err)
	}
	defer regularFace.Close()

	timeText := ts.Format("15:04")
	dateText := ts.Format("02/01/2006 Monday")

	dc.SetFontFace(boldFace)
	timeW, timeH := dc.MeasureString(timeText)
	dc.SetFontFace(regularFace)
	dateW, dateH := dc.MeasureString(dateText)

	boxW := math.Max(timeW, dateW) + 2*boxPadding
	boxH := timeH + dateH + lineGap + 2*boxPadding

	dc.SetRGBA(0, 0, 0, 0.25)
	dc.DrawRoundedRectangle(boxMargin+shadowOffset, boxMargin+shadowOffset, boxW, boxH, boxRadius)
	dc.Fill()
	dc.SetRGBA(0, 0, 0, 0.45)
	dc.DrawRoundedRectangle(boxMargin, boxMargin, boxW, boxH, boxRadius)
	dc.Fill()

	dc.SetRGBA(1, 1, 1, 1)
	dc.SetFontFace(boldFace)
	dc.DrawString(timeText, boxMargin+boxPadding, boxMargin+boxPadding+timeH*baselineRatio)
	dc.SetFontFace(regularFace)
	dc.DrawString(dateText, boxMargin+boxPadding, boxMargin+boxPadding+timeH+lineGap+dateH*baselineRatio)
	return nil
}

// drawLogo scales the logo to max(100px, width/12) wide, keeping its aspect
// ratio, and blends it bottom-right at 70% opacity, 20px in from both edges.
func (c *Composer) drawLogo(dst *image.RGBA) {
	b := dst.Bounds()
	lw := b.Dx() / logoWidthDivisor
	if lw < logoMinWidth {
		lw = logoMinWidth
	}
	lb := c.logo.Bounds()
	lh := int(float64(lw) * float64(lb.Dy()) / float64(lb.Dx()))
	if lh <= 0 {
		return
	}

	scaled := image.NewRGBA(image.Rect(0, 0, lw, lh))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), c.logo, lb, xdraw.Over, nil)

	pos := image.Rect(b.Max.X-lw-logoInset, b.Max.Y-lh-logoInset, b.Max.X-logoInset, b.Max.Y-logoInset)
	mask := image.NewUniform(color.Alpha{A: logoAlpha})
	draw.DrawMask(dst, pos, scaled, image.Point{}, mask, image.Point{}, draw.Over)
}

// FormatFor selects the transport format for img: WebP unless the image
// exceeds WebP's dimension limit, in which case JPEG. Returns the mime
// type and file extension.
func FormatFor(img image.Image) (string, string) {
	b := img.Bounds()
	if b.Dy() > webpMaxDimension || b.Dx() > webpMaxDimension {
		return "image/jpeg", ".jpg"
	}
	return "image/webp", ".webp"
}

// Encode writes img in the format chosen by FormatFor.
func Encode(w io.Writer, img image.Image) (string, string, error) {
	mimeType, ext := FormatFor(img)
	if mimeType == "image/jpeg" {
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
			return "", "", err
		}
		return mimeType, ext, nil
	}
	if err := nativewebp.Encode(w, img, nil); err != nil {
		return "", "", err
	}
	return mimeType, ext, nil
}
