package listing

import (
	"context"
	"errors"

	"github.com/go-rod/rod"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadgen/internal/model"
)

// view is one open results feed in its own Chrome.
type view struct {
	browser      *rod.Browser
	page         *rod.Page
	feed         *rod.Element
	feedSelector string
	cleanup      func()
}

func (v *view) ExtractVisible(ctx context.Context) ([]model.RawCandidate, error) {
	res, err := v.page.Context(ctx).Eval(collectScript)
	if err != nil {
		return nil, eris.Wrap(err, "listing: run collect script")
	}
	return decodeCandidates(res.Value.Str())
}

func (v *view) Advance(ctx context.Context) error {
	_, err := v.feed.Context(ctx).Eval(scrollScript)
	return eris.Wrap(err, "listing: scroll feed")
}

// Close tears down the page, the browser connection and the Chrome process.
func (v *view) Close() error {
	var errs []error
	if v.page != nil {
		errs = append(errs, v.page.Close())
	}
	if v.browser != nil {
		errs = append(errs, v.browser.Close())
	}
	if v.cleanup != nil {
		v.cleanup()
	}
	return eris.Wrap(errors.Join(errs...), "listing: close view")
}
