package datadragon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"
)

const championJSON = `{
  "type": "champion",
  "version": "14.23.1",
  "data": {
    "Kaisa": {"id": "Kaisa", "key": "145", "name": "Kai'Sa", "title": "Daughter of the Void", "tags": ["Marksman"], "partype": "Mana"},
    "Nunu": {"id": "Nunu", "key": "20", "name": "Nunu & Willump", "title": "the Boy and His Yeti", "tags": ["Tank", "Mage"], "partype": "Mana"},
    "MonkeyKing": {"id": "MonkeyKing", "key": "62", "name": "Wukong", "title": "the Monkey King", "tags": ["Fighter", "Tank"], "partype": "Mana"},
    "Aatrox": {"id": "Aatrox", "key": "266", "name": "Aatrox", "title": "the Darkin Blade", "tags": ["Fighter"], "partype": "Blood Well"}
  }
}`

func newCDN(t *testing.T, versions string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	requests := new(atomic.Int32)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/versions.json", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(versions))
	})
	mux.HandleFunc("/cdn/14.23.1/data/en_US/champion.json", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(championJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, requests
}

func TestClient_Fetch(t *testing.T) {
	srv, requests := newCDN(t, `["14.23.1", "14.22.1"]`)
	c := New(Config{BaseURL: srv.URL})

	cat, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("requests = %d, want 2", n)
	}
	if cat.Version != "14.23.1" {
		t.Errorf("Version = %q, want 14.23.1", cat.Version)
	}

	var names []string
	for _, ch := range cat.Champions {
		names = append(names, ch.DisplayName)
	}
	if got := strings.Join(names, ","); got != "Aatrox,Kai'Sa,Nunu & Willump,Wukong" {
		t.Errorf("champions = %s, want sorted by display name", got)
	}

	kaisa := cat.Champions[1]
	if kaisa.RiotKey != "Kaisa" || kaisa.Partype != "Mana" || kaisa.Title != "Daughter of the Void" {
		t.Errorf("Kai'Sa = %+v", kaisa)
	}
	if want := srv.URL + "/cdn/14.23.1/img/champion/Kaisa.png"; kaisa.IconURL != want {
		t.Errorf("IconURL = %q, want %q", kaisa.IconURL, want)
	}
}

func TestClient_Errors(t *testing.T) {
	t.Run("empty version list", func(t *testing.T) {
		srv, _ := newCDN(t, `[]`)
		if _, err := New(Config{BaseURL: srv.URL}).Fetch(context.Background()); !errors.Is(err, ErrNoVersions) {
			t.Errorf("Fetch() error = %v, want ErrNoVersions", err)
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		srv, _ := newCDN(t, `["14.23.1"]`)
		_, err := New(Config{BaseURL: srv.URL}).Champions(context.Background(), "0.0.1")
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
			t.Errorf("Champions() error = %v, want 404 StatusError", err)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		srv, _ := newCDN(t, `{not json`)
		if _, err := New(Config{BaseURL: srv.URL}).LatestVersion(context.Background()); err == nil {
			t.Error("LatestVersion() error = nil, want decode error")
		}
	})
}

func TestCatalog_GridNames(t *testing.T) {
	srv, _ := newCDN(t, `["14.23.1"]`)
	cat, err := New(Config{BaseURL: srv.URL}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	tests := []struct {
		gridName string
		want     string
	}{
		{"Kai'Sa", "Kaisa"},
		{"KaiSa", "Kaisa"},
		{"Kai’Sa", "Kaisa"},
		{"Nunu & Willump", "Nunu"},
		{"Nunu and Willump", "Nunu"},
		{"Wukong", "MonkeyKing"},
		{"Aatrox", "Aatrox"},
	}
	for _, tt := range tests {
		if got, ok := cat.RiotKey(tt.gridName); !ok || got != tt.want {
			t.Errorf("RiotKey(%q) = %q, %v; want %q", tt.gridName, got, ok, tt.want)
		}
	}
	if _, ok := cat.RiotKey("Nobody"); ok {
		t.Error("RiotKey(Nobody) found a key")
	}
}

func TestCatalog_Tables(t *testing.T) {
	srv, _ := newCDN(t, `["14.23.1"]`)
	cat, err := New(Config{BaseURL: srv.URL}).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	tables := cat.Tables()
	if len(tables) != 2 || tables[0].Name != TableIconMapping || tables[1].Name != TableGridNames {
		t.Fatalf("tables = %v", tables)
	}

	icons := tables[0]
	if len(icons.Rows) != 4 {
		t.Fatalf("icon rows = %d, want 4", len(icons.Rows))
	}
	if got := icons.Rows[2][5].Text(); got != "Tank|Mage" {
		t.Errorf("Nunu tags = %q, want Tank|Mage", got)
	}

	grid := tables[1]
	if len(grid.Rows) != len(cat.GridNames()) {
		t.Errorf("grid rows = %d, want %d", len(grid.Rows), len(cat.GridNames()))
	}
	for i := 1; i < len(grid.Rows); i++ {
		if grid.Rows[i-1][0].Text() >= grid.Rows[i][0].Text() {
			t.Fatalf("grid names not sorted at row %d", i)
		}
	}
}

func TestCatalog_JSON(t *testing.T) {
	cat := &Catalog{Version: "14.23.1", Champions: []Champion{{DisplayName: "Aatrox", RiotKey: "Aatrox", Tags: []string{"Fighter"}}}}
	raw, err := cat.JSON()
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	var back Catalog
	if err := sonic.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Version != "14.23.1" || len(back.Champions) != 1 || back.Champions[0].RiotKey != "Aatrox" {
		t.Errorf("decoded catalog = %+v", back)
	}
}
