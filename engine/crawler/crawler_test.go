package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/promtior/sitechat/engine/domain"
)

func prose(n int) string { return strings.Repeat("x", n) }

func page(text string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><head><script>var t = 1;</script></head><body><nav>menu</nav><p>")
	b.WriteString(text)
	b.WriteString("</p>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s"></a>`, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

// site serves a fixed map of path -> markup and counts hits per path.
type site struct {
	mu    sync.Mutex
	pages map[string]string
	hits  map[string]int
}

func newSite(pages map[string]string) (*site, *httptest.Server) {
	s := &site{pages: pages, hits: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		body, ok := s.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	return s, srv
}

func newTestCrawler(opts Options) *Crawler {
	return New(NewHTTPFetcher(DefaultTimeout), opts, nil)
}

func TestCrawlTwoPageSite(t *testing.T) {
	_, srv := newSite(map[string]string{
		"/":      page(prose(250), "/about"),
		"/about": page(prose(300)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 2, MaxDepth: 1})
	pages, err := c.Crawl(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].URL != srv.URL+"/" || pages[1].URL != srv.URL+"/about" {
		t.Fatalf("unexpected order: %s, %s", pages[0].URL, pages[1].URL)
	}
	if len(pages[1].Text) != 300 {
		t.Fatalf("expected 300 chars, got %d", len(pages[1].Text))
	}
	if strings.Contains(pages[0].Text, "menu") || strings.Contains(pages[0].Text, "var t") {
		t.Fatalf("boilerplate leaked into text: %q", pages[0].Text[:40])
	}
}

func TestCrawlCycleTerminates(t *testing.T) {
	s, srv := newSite(map[string]string{
		"/":  page(prose(210), "/a", "/b"),
		"/a": page(prose(220), "/b", "/"),
		"/b": page(prose(230), "/a", "/"),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 5})
	pages, err := c.Crawl(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	for path, n := range s.hits {
		if n != 1 {
			t.Errorf("%s fetched %d times", path, n)
		}
	}
}

func TestCrawlStaysOnSeedHost(t *testing.T) {
	other, otherSrv := newSite(map[string]string{"/": page(prose(400))})
	defer otherSrv.Close()

	_, srv := newSite(map[string]string{
		"/":      page(prose(250), otherSrv.URL+"/", "/local"),
		"/local": page(prose(250)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 3})
	pages, err := c.Crawl(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pages {
		if !domain.SameHost(p.URL, srv.URL) {
			t.Fatalf("foreign page %s", p.URL)
		}
	}
	if len(other.hits) != 0 {
		t.Fatalf("foreign host was contacted: %v", other.hits)
	}
}

func TestCrawlMaxDepthZero(t *testing.T) {
	s, srv := newSite(map[string]string{
		"/":      page(prose(250), "/about"),
		"/about": page(prose(300)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 0})
	var reasons []SkipReason
	pages, err := c.Walk(context.Background(), srv.URL+"/", func(o Outcome) {
		reasons = append(reasons, o.Reason)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].URL != srv.URL+"/" {
		t.Fatalf("expected only the seed, got %v", pages)
	}
	if s.hits["/about"] != 0 {
		t.Fatal("depth-1 page should not be fetched")
	}
	if len(reasons) != 2 || reasons[1] != SkipDepth {
		t.Fatalf("expected fetched then depth skip, got %v", reasons)
	}
}

func TestCrawlFragmentsCollapse(t *testing.T) {
	s, srv := newSite(map[string]string{
		"/":    page(prose(250), "/doc#intro", "/doc#usage", "/doc"),
		"/doc": page(prose(250)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 2})
	pages, err := c.Crawl(context.Background(), srv.URL+"/#top")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if s.hits["/doc"] != 1 {
		t.Fatalf("expected one fetch of /doc, got %d", s.hits["/doc"])
	}
	if pages[0].URL != srv.URL+"/" {
		t.Fatalf("seed fragment not stripped: %s", pages[0].URL)
	}
}

func TestCrawlFetchErrorDoesNotAbort(t *testing.T) {
	_, srv := newSite(map[string]string{
		"/":   page(prose(250), "/missing", "/ok"),
		"/ok": page(prose(250)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 1})
	var failed []Outcome
	pages, err := c.Walk(context.Background(), srv.URL+"/", func(o Outcome) {
		if o.Reason == SkipFetchError {
			failed = append(failed, o)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 fetch error, got %d", len(failed))
	}
	var fe *domain.FetchError
	if !errors.As(failed[0].Err, &fe) || fe.Status != http.StatusNotFound {
		t.Fatalf("expected 404 FetchError, got %v", failed[0].Err)
	}
	if !errors.Is(failed[0].Err, domain.ErrFetch) {
		t.Fatal("fetch error should match ErrFetch")
	}
}

func TestCrawlShortPageLinksNotFollowed(t *testing.T) {
	s, srv := newSite(map[string]string{
		"/":       page("too short", "/hidden"),
		"/hidden": page(prose(500)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 10, MaxDepth: 3})
	var last Outcome
	pages, err := c.Walk(context.Background(), srv.URL+"/", func(o Outcome) { last = o })
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected no pages, got %d", len(pages))
	}
	if last.Reason != SkipTooShort || last.Chars != len("too short") {
		t.Fatalf("unexpected outcome %+v", last)
	}
	if s.hits["/hidden"] != 0 {
		t.Fatal("links of a discarded page must not be followed")
	}
}

func TestCrawlMaxPagesPrefersShallow(t *testing.T) {
	_, srv := newSite(map[string]string{
		"/":       page(prose(250), "/a", "/b"),
		"/a":      page(prose(250), "/a/deep"),
		"/b":      page(prose(250)),
		"/a/deep": page(prose(250)),
	})
	defer srv.Close()

	c := newTestCrawler(Options{MaxPages: 3, MaxDepth: 5})
	pages, err := c.Crawl(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if pages[2].URL != srv.URL+"/b" {
		t.Fatalf("expected breadth-first order, third page was %s", pages[2].URL)
	}
}

func TestCrawlInvalidSeed(t *testing.T) {
	c := newTestCrawler(Options{})
	if _, err := c.Crawl(context.Background(), "promtior.ai"); err == nil {
		t.Fatal("expected error for relative seed")
	}
}

func TestCrawlCancelled(t *testing.T) {
	calls := 0
	f := FetcherFunc(func(ctx context.Context, url string) (string, error) {
		calls++
		return page(prose(300), "/next"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := New(f, Options{MaxPages: 5, MaxDepth: 2}, nil)
	_, err := c.Crawl(ctx, "https://promtior.ai/")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no fetches, got %d", calls)
	}
}

func TestHTTPFetcherRejectsBinary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(DefaultTimeout).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrNotHTML) {
		t.Fatalf("expected ErrNotHTML, got %v", err)
	}
}

func TestHTTPFetcherSendsUserAgent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
		fmt.Fprint(w, "<p>hi</p>")
	}))
	defer srv.Close()

	if _, err := NewHTTPFetcher(DefaultTimeout).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if got != UserAgent {
		t.Fatalf("expected %q, got %q", UserAgent, got)
	}
}

func TestSkipReasonString(t *testing.T) {
	if SkipTooShort.String() != "too_short" || Fetched.String() != "fetched" {
		t.Fatal("unexpected reason names")
	}
}
