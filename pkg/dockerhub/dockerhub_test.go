package dockerhub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestTags(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/repositories/emakinafr/php/tags" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"next": null, "results": [{"name": "7.4-fpm"}]}`)
			return
		}
		fmt.Fprintf(w, `{"next": "%s/v2/repositories/emakinafr/php/tags?page=2", "results": [{"name": "8.2-fpm"}, {"name": "8.1-fpm"}]}`, srv.URL)
	}))
	defer srv.Close()

	tags, err := New(srv.URL, "", zerolog.Nop()).Tags(context.Background(), "php")
	if err != nil {
		t.Fatalf("Tags() returned error: %v", err)
	}

	if want := []string{"8.2-fpm", "8.1-fpm", "7.4-fpm"}; !reflect.DeepEqual(tags, want) {
		t.Errorf("Expected %v, got %v", want, tags)
	}
}

func TestTagsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/repositories/emakinafr/missing/tags":
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message": "object not found"}`)
		default:
			fmt.Fprint(w, `{"next": null, "results": []}`)
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "emakinafr", zerolog.Nop())

	tests := []struct {
		image string
		want  string
	}{
		{"missing", "object not found"},
		{"empty", "no tags found"},
	}
	for _, tt := range tests {
		_, err := c.Tags(context.Background(), tt.image)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Tags(%q): expected error containing %q, got %v", tt.image, tt.want, err)
		}
	}
}
