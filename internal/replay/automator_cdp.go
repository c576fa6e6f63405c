package replay

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// CDPAutomator drives the monitored browser directly over its DevTools
// endpoint, using the cdpUrl recorded in the session descriptor. Used when
// no MCP automation backend is configured.
type CDPAutomator struct {
	browser *rod.Browser
	page    *rod.Page
}

// NewCDPAutomator connects to a running browser's CDP endpoint and attaches
// to its first page.
func NewCDPAutomator(cdpURL string) (*CDPAutomator, error) {
	browser := rod.New().ControlURL(cdpURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to CDP endpoint %s: %w", cdpURL, err)
	}

	pages, err := browser.Pages()
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("list browser pages: %w", err)
	}

	var page *rod.Page
	if len(pages) > 0 {
		page = pages.First()
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			browser.Close()
			return nil, fmt.Errorf("create browser page: %w", err)
		}
	}

	return &CDPAutomator{browser: browser, page: page}, nil
}

func (a *CDPAutomator) Navigate(ctx context.Context, url string) error {
	return a.page.Context(ctx).Navigate(url)
}

func (a *CDPAutomator) Click(ctx context.Context, x, y int) error {
	page := a.page.Context(ctx)
	if err := page.Mouse.MoveTo(proto.Point{X: float64(x), Y: float64(y)}); err != nil {
		return err
	}
	return page.Mouse.Click(proto.InputMouseButtonLeft, 1)
}

func (a *CDPAutomator) Scroll(ctx context.Context, dx, dy int) error {
	return a.page.Context(ctx).Mouse.Scroll(float64(dx), float64(dy), 1)
}

func (a *CDPAutomator) Type(ctx context.Context, text string) error {
	return a.page.Context(ctx).InsertText(text)
}

// Close detaches from the browser without closing it; the monitored session
// owns the browser process.
func (a *CDPAutomator) Close() error {
	return a.browser.Close()
}
