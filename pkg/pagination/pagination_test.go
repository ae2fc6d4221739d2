package pagination

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/clinrelay/upstream-client/pkg/client"
)

// fakeGetter serves pages from an in-memory table.
type fakeGetter struct {
	mu         sync.Mutex
	totalPages int
	failPage   int
	calls      []string
}

func (g *fakeGetter) Get(ctx context.Context, path string, opts ...client.RequestOption) (*client.Response, error) {
	g.mu.Lock()
	g.calls = append(g.calls, path)
	g.mu.Unlock()

	page := 1
	if idx := indexOfPage(path); idx > 0 {
		page = idx
	}

	if g.failPage > 0 && page == g.failPage {
		return nil, &client.Error{Kind: client.KindUpstreamServer, StatusCode: 500}
	}

	header := make(map[string][]string)
	header[totalPagesHeader] = []string{strconv.Itoa(g.totalPages)}
	return &client.Response{
		StatusCode: 200,
		Header:     header,
		Body:       []byte(fmt.Sprintf(`{"page": %d}`, page)),
	}, nil
}

// indexOfPage extracts N from a trailing page=N parameter.
func indexOfPage(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '=' {
			n, err := strconv.Atoi(path[i+1:])
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}

func (g *fakeGetter) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func TestFetcher_SinglePage(t *testing.T) {
	getter := &fakeGetter{totalPages: 1}
	f := NewFetcher(getter, DefaultConfig())

	result, err := f.FetchAll(context.Background(), "/v1/orders")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if result.TotalPages != 1 || len(result.Pages) != 1 {
		t.Errorf("result = %+v, want one page", result)
	}
	if getter.callCount() != 1 {
		t.Errorf("calls = %d, want 1", getter.callCount())
	}
}

func TestFetcher_AllPagesCollected(t *testing.T) {
	getter := &fakeGetter{totalPages: 7}
	f := NewFetcher(getter, Config{Workers: 3})

	result, err := f.FetchAll(context.Background(), "/v1/orders")
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if result.TotalPages != 7 {
		t.Errorf("TotalPages = %d, want 7", result.TotalPages)
	}
	if len(result.Pages) != 7 {
		t.Fatalf("fetched %d pages, want 7", len(result.Pages))
	}
	for page := 1; page <= 7; page++ {
		want := fmt.Sprintf(`{"page": %d}`, page)
		if got := string(result.Pages[page]); got != want {
			t.Errorf("page %d body = %q, want %q", page, got, want)
		}
	}
	if getter.callCount() != 7 {
		t.Errorf("calls = %d, want 7", getter.callCount())
	}
}

func TestFetcher_QueryStringPreserved(t *testing.T) {
	getter := &fakeGetter{totalPages: 2}
	f := NewFetcher(getter, Config{Workers: 1})

	if _, err := f.FetchAll(context.Background(), "/v1/orders?region=42"); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	getter.mu.Lock()
	defer getter.mu.Unlock()
	for _, call := range getter.calls {
		if call != "/v1/orders?region=42&page=1" && call != "/v1/orders?region=42&page=2" {
			t.Errorf("unexpected path %q", call)
		}
	}
}

func TestFetcher_FirstPageFailure(t *testing.T) {
	getter := &fakeGetter{totalPages: 5, failPage: 1}
	f := NewFetcher(getter, DefaultConfig())

	result, err := f.FetchAll(context.Background(), "/v1/orders")
	if err == nil {
		t.Fatal("FetchAll() error = nil, want first-page failure")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestFetcher_PartialResultOnPageFailure(t *testing.T) {
	getter := &fakeGetter{totalPages: 5, failPage: 3}
	f := NewFetcher(getter, Config{Workers: 1})

	result, err := f.FetchAll(context.Background(), "/v1/orders")
	if err == nil {
		t.Fatal("FetchAll() error = nil, want failure")
	}
	if !errors.Is(err, &client.Error{Kind: client.KindUpstreamServer}) {
		t.Errorf("error = %v, want wrapped upstream_server", err)
	}
	if result == nil {
		t.Fatal("result = nil, want partial pages")
	}
	if _, ok := result.Pages[1]; !ok {
		t.Error("partial result missing page 1")
	}
	if _, ok := result.Pages[3]; ok {
		t.Error("partial result contains the failed page")
	}
}

func TestPagePath(t *testing.T) {
	tests := []struct {
		path string
		page int
		want string
	}{
		{"/v1/orders", 1, "/v1/orders?page=1"},
		{"/v1/orders?region=42", 3, "/v1/orders?region=42&page=3"},
	}

	for _, tt := range tests {
		if got := pagePath(tt.path, tt.page); got != tt.want {
			t.Errorf("pagePath(%q, %d) = %q, want %q", tt.path, tt.page, got, tt.want)
		}
	}
}
