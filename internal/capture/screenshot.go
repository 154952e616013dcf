package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// Capture is one raw viewport grab, before composition.
type Capture struct {
	Image   image.Image
	Width   int
	Height  int
	URL     string
	Title   string
	TakenAt time.Time
}

// Capturer grabs the visible viewport of a page through a headless browser.
type Capturer struct {
	browser  *Browser
	viewport playwright.Size
	log      *logrus.Entry
}

func NewCapturer(browser *Browser, width, height int) *Capturer {
	return &Capturer{
		browser:  browser,
		viewport: playwright.Size{Width: width, Height: height},
		log:      logrus.WithField("component", "capture"),
	}
}

// CapturePage loads url and returns a decoded screenshot of the visible
// viewport plus the page's URL and title.
func (c *Capturer) CapturePage(ctx context.Context, url string) (*Capture, error) {
	page, err := c.browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport:          &c.viewport,
		DeviceScaleFactor: playwright.Float(2.0), // Retina quality
	})
	if err != nil {
		return nil, fmt.Errorf("capture: creating page: %w", err)
	}
	defer c.browser.Release(page)

	if _, err = page.Goto(url, playwright.PageGotoOptions{
		Timeout: playwright.Float(30000),
	}); err != nil {
		return nil, fmt.Errorf("capture: navigating: %w", err)
	}
	if _, err = page.WaitForFunction("document.readyState === 'complete'", playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(30000),
	}); err != nil {
		return nil, fmt.Errorf("capture: waiting for load: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	takenAt := time.Now()
	data, err := page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(false),
		Type:     (*playwright.ScreenshotType)(playwright.String("png")),
	})
	if err != nil {
		return nil, fmt.Errorf("capture: screenshot: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("capture: decoding screenshot: %w", err)
	}

	title, err := page.Title()
	if err != nil {
		c.log.WithError(err).Debug("could not read page title")
		title = ""
	}

	b := img.Bounds()
	c.log.WithFields(logrus.Fields{"url": url, "width": b.Dx(), "height": b.Dy()}).Info("captured page")
	return &Capture{
		Image:   img,
		Width:   b.Dx(),
		Height:  b.Dy(),
		URL:     url,
		Title:   title,
		TakenAt: takenAt,
	}, nil
}
