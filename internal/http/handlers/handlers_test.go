package handlers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-ledger-sync/internal/domain"
	"github.com/tbourn/go-ledger-sync/internal/http/middleware"
	"github.com/tbourn/go-ledger-sync/internal/reconcile"
	"github.com/tbourn/go-ledger-sync/internal/services"
	"github.com/tbourn/go-ledger-sync/internal/store"
)

// ---------- fixtures ----------

type staticFeed struct{ confirmed []domain.Record }

func (f staticFeed) FetchConfirmed(context.Context, string) ([]domain.Record, error) {
	return f.confirmed, nil
}

func (staticFeed) FetchPending(context.Context, string) ([]domain.Record, error) { return nil, nil }

func newRouter(t *testing.T) (*gin.Engine, *reconcile.Loop) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lg := zerolog.Nop()
	feed := staticFeed{confirmed: []domain.Record{
		{ID: "a", CreatedAt: 1, Payload: json.RawMessage(`{"text":"root"}`)},
		{ID: "b", CreatedAt: 2, ParentID: "a"},
		{ID: "c", CreatedAt: 3},
	}}
	l := reconcile.New(store.New(), feed, feed, reconcile.Options{Groups: []string{"general"}, Logger: &lg})
	l.RunCycle(context.Background(), "general", reconcile.Full)

	h := New(services.NewSyncService(l))
	r := gin.New()
	r.Use(middleware.RequestID())
	r.GET("/groups", h.ListGroups)
	r.GET("/groups/:group/records", h.ListRecords)
	r.POST("/groups/:group/records", h.SubmitRecord)
	r.GET("/groups/:group/tree", h.GetTree)
	r.GET("/groups/:group/stream", h.StreamTree)
	return r, l
}

func doJSON(t *testing.T, r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// ---------- tests ----------

func TestListGroups(t *testing.T) {
	r, _ := newRouter(t)
	w := doJSON(t, r, http.MethodGet, "/groups", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode[ListGroupsResponse](t, w)
	if len(resp.Groups) != 1 || resp.Groups[0].Key != "general" || resp.Groups[0].Confirmed != 3 {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestListRecords(t *testing.T) {
	r, _ := newRouter(t)

	w := doJSON(t, r, http.MethodGet, "/groups/general/records?page=1&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[ListRecordsResponse](t, w)
	if len(resp.Records) != 2 || resp.Records[0].ID != "a" {
		t.Fatalf("records %+v", resp.Records)
	}
	if p := resp.Pagination; p.Total != 3 || p.TotalPages != 2 || !p.HasNext {
		t.Fatalf("pagination %+v", p)
	}

	w = doJSON(t, r, http.MethodGet, "/groups/general/records?state=pending", "")
	if resp := decode[ListRecordsResponse](t, w); len(resp.Records) != 0 || resp.Pagination.Total != 0 {
		t.Fatalf("pending filter %+v", resp)
	}

	w = doJSON(t, r, http.MethodGet, "/groups/general/records?state=bogus", "")
	if w.Code != http.StatusBadRequest || decode[ErrorResponse](t, w).Code != ErrCodeInvalidState {
		t.Fatalf("bad state: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodGet, "/groups/nope/records", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown group: %d", w.Code)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodeUnknownGroup || e.RequestID == "" {
		t.Fatalf("envelope %+v", e)
	}
}

func TestGetTree(t *testing.T) {
	r, _ := newRouter(t)
	w := doJSON(t, r, http.MethodGet, "/groups/general/tree", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode[TreeResponse](t, w)
	if resp.Count != 3 || len(resp.Roots) != 2 || resp.Roots[0].ID != "a" || len(resp.Roots[0].Children) != 1 {
		t.Fatalf("tree %+v", resp)
	}
}

func TestSubmitRecord(t *testing.T) {
	r, l := newRouter(t)

	w := doJSON(t, r, http.MethodPost, "/groups/general/records", `{"id":"L","parent_id":"c","payload":{"text":"hi"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	rec := decode[domain.Record](t, w)
	if rec.ID != "L" || rec.State != domain.Pending || rec.Origin != domain.Local || string(rec.Payload) != `{"text":"hi"}` {
		t.Fatalf("record %+v", rec)
	}

	if w := doJSON(t, r, http.MethodPost, "/groups/general/records", `{"id":"L"}`); w.Code != http.StatusOK {
		t.Fatalf("resubmit status %d", w.Code)
	}

	before := time.Now().Unix()
	w = doJSON(t, r, http.MethodPost, "/groups/general/records", `{"id":"T","created_at":9999999999}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("client timestamp: status %d: %s", w.Code, w.Body.String())
	}
	if rec := decode[domain.Record](t, w); rec.CreatedAt < before || rec.CreatedAt > time.Now().Unix() {
		t.Fatalf("created_at %d not stamped by server", rec.CreatedAt)
	}

	cases := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"bad json", "/groups/general/records", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing id", "/groups/general/records", `{"payload":1}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown group", "/groups/market/records", `{"id":"x"}`, http.StatusNotFound, ErrCodeUnknownGroup},
	}
	for _, tc := range cases {
		w := doJSON(t, r, http.MethodPost, tc.target, tc.body)
		if w.Code != tc.status || decode[ErrorResponse](t, w).Code != tc.code {
			t.Errorf("%s: got %d %s", tc.name, w.Code, w.Body.String())
		}
	}

	l.Stop()
	w = doJSON(t, r, http.MethodPost, "/groups/general/records", `{"id":"late"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("after stop: %d", w.Code)
	}
}

func TestStreamTree(t *testing.T) {
	r, _ := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	if w := doJSON(t, r, http.MethodGet, "/groups/nope/stream", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown group stream: %d", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/groups/general/stream", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if event != "" && data != "" {
			break
		}
	}
	if event != "tree" {
		t.Fatalf("first event %q", event)
	}
	var tree TreeResponse
	if err := json.Unmarshal([]byte(data), &tree); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if tree.Group != "general" || tree.Count != 3 {
		t.Fatalf("tree %+v", tree)
	}
}
