// Package browser exposes page fetching through a headless browser the
// host attaches to over its devtools endpoint. Pages are created per
// call and closed when the call finishes; the plugin never launches a
// browser process itself.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/hosterror"
	"github.com/datamancy/toolhost/pkg/plugin"
)

const defaultPageTimeout = 30 * time.Second

// pageResult is what a browse call returns to the caller.
type pageResult struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Plugin provides the browse_page tool.
type Plugin struct {
	host    *plugin.HostContext
	browser *rod.Browser

	// fetch is the page lifecycle, swappable in tests.
	fetch func(ctx context.Context, url, selector string) (pageResult, error)
}

// New creates the plugin.
func New() *Plugin {
	p := &Plugin{}
	p.fetch = p.fetchPage
	return p
}

func (p *Plugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "browser-tools",
		Name:        "Browser Tools",
		Version:     "1.0.0",
		Description: "Page fetching through an attached headless browser",
		Requires:    plugin.Requires{APIVersion: ">=1.0.0"},
		Capabilities: []plugin.Capability{
			plugin.CapabilityBrowserControl,
		},
	}
}

func (p *Plugin) Init(ctx context.Context, host *plugin.HostContext) error {
	cfg := host.Config.Browser
	if cfg.ControlURL == "" {
		return fmt.Errorf("browser control URL is not configured")
	}

	browser := rod.New().ControlURL(cfg.ControlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("failed to attach to browser at %s: %w", cfg.ControlURL, err)
	}

	p.host = host
	p.browser = browser
	return nil
}

func (p *Plugin) RegisterTools(cat *catalog.Catalog) error {
	return cat.Register(catalog.Definition{
		Name:        "browse_page",
		Description: "Load a web page in the headless browser and return its title and visible text.",
		PluginID:    p.Manifest().ID,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Page to load",
				},
				"selector": map[string]any{
					"type":        "string",
					"description": "CSS selector to extract instead of the whole page",
				},
			},
			"required":             []string{"url"},
			"additionalProperties": false,
		},
	}, p.handleBrowse)
}

func (p *Plugin) handleBrowse(ctx context.Context, args map[string]any, caller string) (any, error) {
	url, _ := args["url"].(string)
	selector, _ := args["selector"].(string)

	timeout := p.host.Config.Browser.PageTimeout
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := p.fetch(pageCtx, url, selector)
	if err != nil {
		if pageCtx.Err() == context.DeadlineExceeded {
			return nil, hosterror.Timeout("page did not load within %s", timeout)
		}
		return nil, err
	}
	return result, nil
}

func (p *Plugin) fetchPage(ctx context.Context, url, selector string) (pageResult, error) {
	page, err := p.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return pageResult{}, hosterror.Backendf("failed to open page: %v", err)
	}
	page = page.Context(ctx)
	defer page.Close()

	if err := page.Navigate(url); err != nil {
		return pageResult{}, hosterror.Backendf("navigation to %s failed: %v", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return pageResult{}, hosterror.Backendf("page load failed: %v", err)
	}

	info, err := page.Info()
	if err != nil {
		return pageResult{}, hosterror.Backendf("failed to read page info: %v", err)
	}

	var text string
	if selector != "" {
		elem, err := page.Element(selector)
		if err != nil {
			return pageResult{}, hosterror.New(hosterror.CodeNotFound, "no element matches selector %q", selector)
		}
		text, err = elem.Text()
		if err != nil {
			return pageResult{}, hosterror.Backendf("failed to extract element text: %v", err)
		}
	} else {
		obj, err := page.Eval("() => document.body ? document.body.innerText : ''")
		if err != nil {
			return pageResult{}, hosterror.Backendf("failed to extract page text: %v", err)
		}
		text = obj.Value.Str()
	}

	return pageResult{URL: info.URL, Title: info.Title, Text: text}, nil
}
