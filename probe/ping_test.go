package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMeasurePing_ReachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		if r.URL.Path != "/" {
			t.Errorf("path = %q, want origin root", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound) // any status proves reachability
	}))
	defer srv.Close()

	got := MeasurePing(context.Background(), srv.Client(), srv.URL+"/v1/chat/completions")
	if got == nil {
		t.Fatal("ping = nil, want elapsed milliseconds")
	}
	if *got < 0 {
		t.Errorf("ping = %d, want >= 0", *got)
	}
}

func TestMeasurePing_UnreachableHostIsNil(t *testing.T) {
	got := MeasurePing(context.Background(), http.DefaultClient, "http://127.0.0.1:1/v1/messages")
	if got != nil {
		t.Fatalf("ping = %v, want nil", *got)
	}
}

func TestMeasurePing_MalformedURLIsNil(t *testing.T) {
	if got := MeasurePing(context.Background(), http.DefaultClient, "not a url"); got != nil {
		t.Fatalf("ping = %v, want nil", *got)
	}
}
