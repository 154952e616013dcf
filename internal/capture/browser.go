package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/sirupsen/logrus"
)

// ErrBrowserUnavailable is returned when the headless browser is down and
// could not be relaunched in time.
var ErrBrowserUnavailable = errors.New("capture: browser unavailable")

var launchArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-dev-shm-usage",
	"--disable-extensions",
	"--disable-background-timer-throttling",
	"--disable-backgrounding-occluded-windows",
	"--disable-renderer-backgrounding",
}

// Browser owns the headless Chromium instance behind all captures. A crashed
// or disconnected browser is relaunched with backoff, and open pages are
// capped so a burst of capture requests cannot exhaust the host.
type Browser struct {
	mu         sync.RWMutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	restarting bool
	unhealthy  atomic.Bool
	slots      chan struct{}
	log        *logrus.Entry
}

// LaunchBrowser starts playwright and Chromium. maxPages bounds the number
// of concurrently open pages.
func LaunchBrowser(maxPages int) (*Browser, error) {
	if maxPages < 1 {
		maxPages = 1
	}
	b := &Browser{
		slots: make(chan struct{}, maxPages),
		log:   logrus.WithField("component", "browser"),
	}
	if err := b.launch(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Browser) launch() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.launchLocked()
}

func (b *Browser) launchLocked() error {
	if b.browser != nil {
		b.browser.Close()
	}
	if b.pw != nil {
		b.pw.Stop()
	}

	pw, err := playwright.Run()
	if err != nil {
		return err
	}
	br, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args:     launchArgs,
	})
	if err != nil {
		pw.Stop()
		return err
	}
	br.On("disconnected", func() {
		b.log.Warn("browser disconnected, scheduling relaunch")
		go b.relaunch()
	})

	b.pw, b.browser = pw, br
	b.unhealthy.Store(false)
	b.log.Info("browser started")
	return nil
}

// relaunch restarts the browser with backoff. Concurrent relaunches collapse
// into one.
func (b *Browser) relaunch() {
	b.mu.Lock()
	if b.restarting {
		b.mu.Unlock()
		return
	}
	b.restarting = true
	defer func() {
		b.restarting = false
		b.mu.Unlock()
	}()

	backoff := []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second}
	for i, d := range backoff {
		if i != 0 {
			time.Sleep(d)
		}
		if err := b.launchLocked(); err == nil {
			b.log.Info("browser relaunched")
			return
		} else {
			b.log.WithError(err).WithField("attempt", i+1).Warn("browser relaunch failed")
		}
	}
	b.log.Error("browser could not be relaunched")
	b.unhealthy.Store(true)
}

func (b *Browser) connected() playwright.Browser {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.browser != nil && b.browser.IsConnected() {
		return b.browser
	}
	return nil
}

// NewPage opens a page, blocking while the page cap is reached. The caller
// must release it with Release.
func (b *Browser) NewPage(opts ...playwright.BrowserNewPageOptions) (playwright.Page, error) {
	b.slots <- struct{}{}

	br := b.connected()
	if br == nil {
		go b.relaunch()
		time.Sleep(100 * time.Millisecond)
		if br = b.connected(); br == nil {
			<-b.slots
			return nil, ErrBrowserUnavailable
		}
	}

	page, err := br.NewPage(opts...)
	if err != nil {
		<-b.slots
		return nil, err
	}
	return page, nil
}

// Release closes page and frees its slot.
func (b *Browser) Release(page playwright.Page) {
	if err := page.Close(); err != nil {
		b.log.WithError(err).Debug("page close failed")
	}
	select {
	case <-b.slots:
	default:
		b.log.Warn("page slot double release")
	}
}

// Healthy reports whether the browser is usable or can be relaunched.
func (b *Browser) Healthy() bool {
	return !b.unhealthy.Load()
}

// Close shuts the browser and playwright down.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.pw != nil {
		b.pw.Stop()
		b.pw = nil
	}
}
