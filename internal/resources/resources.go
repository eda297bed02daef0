// Package resources fetches the content the bot serves: upcoming events from
// Meetup or Facebook groups, the daily free book and short links.
package resources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"eventbot/internal/config"
)

// ErrNoFreeBook is returned when the offers API lists nothing for today.
var ErrNoFreeBook = errors.New("no free book offer today")

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/51.0.2704.79 Safari/537.36"

type Event struct {
	Name string    `json:"name"`
	Time time.Time `json:"time"`
	Link string    `json:"link"`
}

type Book struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
	Expires string `json:"expires"`
	Cover   string `json:"cover"`
}

type Resources struct {
	cfg    *config.Config
	loc    *time.Location
	client *http.Client
	log    *zap.SugaredLogger
	now    func() time.Time

	events *ttlCache[[]Event]
	book   *ttlCache[Book]
	short  *ttlCache[string]
}

func New(cfg *config.Config, client *http.Client, log *zap.SugaredLogger) (*Resources, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Resources{cfg: cfg, loc: loc, client: client, log: log, now: time.Now}
	r.resetCaches()
	return r, nil
}

func (r *Resources) resetCaches() {
	r.events = newTTLCache[[]Event](r.cfg.EventsCacheTTL, r.now)
	r.book = newTTLCache[Book](r.cfg.BookCacheTTL, r.now)
	r.short = newTTLCache[string](0, r.now)
}

// Events returns up to n upcoming events per group, merged and sorted by time.
func (r *Resources) Events(ctx context.Context, n int) ([]Event, error) {
	return r.events.load(ctx, strconv.Itoa(n), func(ctx context.Context) ([]Event, error) {
		return r.fetchEvents(ctx, n)
	})
}

// RefreshEvents drops the cached list and fetches it again.
func (r *Resources) RefreshEvents(ctx context.Context, n int) ([]Event, error) {
	r.events.forget(strconv.Itoa(n))
	return r.Events(ctx, n)
}

// FreeBook describes today's free book offer.
func (r *Resources) FreeBook(ctx context.Context) (Book, error) {
	return r.book.load(ctx, "book", r.fetchFreeBook)
}

func (r *Resources) fetchFreeBook(ctx context.Context) (Book, error) {
	today := r.now().UTC()
	dateFrom := today.Format("2006-01-02")
	dateTo := today.AddDate(0, 0, 1).Format("2006-01-02")

	var offers struct {
		Data []struct {
			ProductID string `json:"productId"`
		} `json:"data"`
	}
	if err := r.getJSON(ctx, r.cfg.BookAPIURL, url.Values{"dateFrom": {dateFrom}, "dateTo": {dateTo}}, &offers); err != nil {
		return Book{}, fmt.Errorf("free book offers: %w", err)
	}
	if len(offers.Data) == 0 {
		return Book{}, ErrNoFreeBook
	}

	var summary struct {
		Title      string `json:"title"`
		OneLiner   string `json:"oneLiner"`
		Length     any    `json:"length"`
		CoverImage string `json:"coverImage"`
	}
	summaryURL := fmt.Sprintf(r.cfg.BookSummaryURL, url.PathEscape(offers.Data[0].ProductID))
	if err := r.getJSON(ctx, summaryURL, nil, &summary); err != nil {
		return Book{}, fmt.Errorf("free book summary: %w", err)
	}

	book := Book{Name: summary.Title, Summary: summary.OneLiner, Cover: summary.CoverImage}
	if summary.Length != nil {
		book.Expires = fmt.Sprint(summary.Length)
	}
	return book, nil
}

// ShortURL shortens longURL. Without a shortener key, or when the shortener
// fails, the long URL is returned unchanged.
func (r *Resources) ShortURL(ctx context.Context, longURL string) string {
	if r.cfg.URLShortenerKey == "" {
		return longURL
	}
	short, err := r.short.load(ctx, longURL, func(ctx context.Context) (string, error) {
		return r.shorten(ctx, longURL)
	})
	if err != nil {
		r.log.Warnf("url shortener failed for %s: %v", longURL, err)
		return longURL
	}
	return short
}

func (r *Resources) shorten(ctx context.Context, longURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"longUrl": longURL})
	if err != nil {
		return "", err
	}
	endpoint := r.cfg.URLShortenerEndpoint + "?" + url.Values{"key": {r.cfg.URLShortenerKey}, "fields": {"id"}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	var out struct {
		ID string `json:"id"`
	}
	if err := r.do(req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("empty short url in response")
	}
	return out.ID, nil
}

func (r *Resources) getJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	if len(params) > 0 {
		rawURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	return r.do(req, out)
}

func (r *Resources) do(req *http.Request, out any) error {
	req.Header.Set("User-Agent", userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Host, resp.StatusCode, bytes.TrimSpace(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Host, err)
	}
	return nil
}
