package pdf

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/conneroisu/trafficlight/internal/logging"
)

// ChromeConverter prints pages with a headless Chrome. The browser is
// launched on the first conversion and reused until Close.
type ChromeConverter struct {
	bin    string
	zoom   float64
	logger logging.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewChromeConverter creates a converter. An empty bin lets go-rod find or
// download a browser; ROD_BROWSER_BIN and ROD_NO_SANDBOX are honored.
func NewChromeConverter(bin string, zoom float64, logger logging.Logger) *ChromeConverter {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER_BIN")
	}

	return &ChromeConverter{
		bin:    bin,
		zoom:   zoom,
		logger: logger.WithComponent("pdf"),
	}
}

// Convert loads htmlPath and prints it to pdfPath.
func (c *ChromeConverter) Convert(ctx context.Context, htmlPath, pdfPath string) error {
	browser, err := c.connect(ctx)
	if err != nil {
		return err
	}

	url, err := fileURL(htmlPath)
	if err != nil {
		return err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return fmt.Errorf("opening %s: %w", htmlPath, err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			c.logger.Debug(ctx, "Closing page failed", "error", err)
		}
	}()

	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("loading %s: %w", htmlPath, err)
	}

	scale := c.zoom
	stream, err := page.PDF(&proto.PagePrintToPDF{
		PrintBackground: true,
		Scale:           &scale,
	})
	if err != nil {
		return fmt.Errorf("printing %s: %w", htmlPath, err)
	}

	out, err := os.Create(pdfPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, stream); err != nil {
		_ = out.Close()
		_ = os.Remove(pdfPath)
		return fmt.Errorf("writing %s: %w", pdfPath, err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	c.logger.Debug(ctx, "PDF written", "html", htmlPath, "pdf", pdfPath)

	return nil
}

func (c *ChromeConverter) connect(ctx context.Context) (*rod.Browser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		return c.browser, nil
	}

	l := launcher.New().Headless(true).Leakless(false)
	if c.bin != "" {
		l = l.Bin(c.bin)
	}
	if os.Getenv("ROD_NO_SANDBOX") != "" {
		l = l.NoSandbox(true)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	c.logger.Info(ctx, "Browser started", "control_url", controlURL)
	c.launcher = l
	c.browser = browser

	return browser, nil
}

// Close shuts the browser down.
func (c *ChromeConverter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser == nil {
		return nil
	}

	err := c.browser.Close()
	c.launcher.Kill()
	c.browser = nil
	c.launcher = nil

	return err
}
