package web_fetch

import (
	"context"
	"errors"
	"time"

	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch/models"
	"github.com/mohammad-safakhou/depthcharge/tools/web_fetch/plain"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	PlainFetcherType    FetcherType = "plain"
	ChromedpFetcherType FetcherType = "chromedp"
)

func NewWebFetcher(fetcherType FetcherType, timeout time.Duration, maxChars int) (WebFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch fetcherType {
	case PlainFetcherType:
		return plain.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case ChromedpFetcherType:
		return chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, errors.New("unsupported fetcher type")
	}
}
