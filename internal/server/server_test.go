package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jo-hoe/productscribe/internal/common"
	"github.com/jo-hoe/productscribe/internal/config"
	"github.com/jo-hoe/productscribe/internal/form"
	"github.com/jo-hoe/productscribe/internal/generate"
	"github.com/jo-hoe/productscribe/internal/history"
	"github.com/jo-hoe/productscribe/internal/llm/mock"
	"github.com/jo-hoe/productscribe/internal/processor"
	"github.com/jo-hoe/productscribe/internal/storage"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

type memStore struct {
	mu   sync.Mutex
	recs map[string]history.Record
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]history.Record)}
}

func (s *memStore) Create(_ context.Context, rec *history.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recs[id]
	if !ok {
		return nil, history.ErrNotFound
	}
	return &r, nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]history.Record, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	svc   *Service
	ts    *httptest.Server
	store *memStore
}

// newTestEnv wires the real uploader, processor and sessions behind an httptest server.
// The form talks to the generation endpoint over HTTP like it does in production.
func newTestEnv(t *testing.T, apiKey string) *testEnv {
	t.Helper()
	return newTestEnvWithDelay(t, apiKey, 0)
}

// newTestEnvWithDelay makes every model call take delay.
func newTestEnvWithDelay(t *testing.T, apiKey string, delay time.Duration) *testEnv {
	t.Helper()
	tmp := t.TempDir()
	store := newMemStore()
	cfg := &config.Config{
		Server: config.ServerConfig{
			Addr:          ":0",
			MaxUploadSize: config.ByteSize(1 << 20),
			StorageDir:    tmp,
			APIKey:        apiKey,
		},
	}
	svc := &Service{Cfg: cfg, History: store}
	srv := NewHTTPServer(svc)
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)

	cfg.Server.PublicBaseURL = ts.URL
	svc.Uploader = storage.NewUploader(tmp, ts.URL, int64(cfg.Server.MaxUploadSize))
	llmClient := mock.New(config.MockSettings{Prefix: "Mocked", Delay: delay})
	svc.Processor = processor.New(nil, llmClient, store, svc.Uploader, 2)
	genClient := generate.New(ts.URL+common.PathGenerate, 5*time.Second).WithAPIKey(apiKey)
	svc.Sessions = form.NewSessions(time.Hour, func() *form.Controller {
		return form.NewController(nil, svc.Uploader, genClient)
	})
	return &testEnv{svc: svc, ts: ts, store: store}
}

func makeMultipart(t *testing.T, fieldName, filename string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.Copy(fw, bytes.NewReader(content)); err != nil {
		t.Fatalf("copy: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return w.FormDataContentType(), &b
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func postForm(t *testing.T, c *http.Client, url string) string {
	t.Helper()
	resp, err := c.Post(url, "application/x-www-form-urlencoded", nil)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST %s: status %d after redirect", url, resp.StatusCode)
	}
	return readBody(t, resp)
}

// waitForIdlePage reloads the form like the page's refresh does until nothing is in flight.
func waitForIdlePage(t *testing.T, c *http.Client, base string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := c.Get(base + common.PathRoot)
		if err != nil {
			t.Fatalf("GET /: %v", err)
		}
		page := readBody(t, resp)
		if !strings.Contains(page, `http-equiv="refresh"`) {
			return page
		}
		if time.Now().After(deadline) {
			t.Fatalf("generation still in flight:\n%s", page)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHealthz(t *testing.T) {
	svc := &Service{Cfg: &config.Config{Server: config.ServerConfig{Addr: ":0"}}}
	srv := NewHTTPServer(svc)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, common.PathHealthz, nil)
	srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestUploadAPI_StoresAndServes(t *testing.T) {
	env := newTestEnv(t, "")
	ctype, body := makeMultipart(t, common.FormFieldFile, "widget.png", pngBytes)
	resp, err := http.Post(env.ts.URL+common.PathUploads, ctype, body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if !strings.HasPrefix(out.URL, env.ts.URL+common.PathUploadFiles) {
		t.Fatalf("unexpected url %q", out.URL)
	}

	img, err := http.Get(out.URL)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	if img.StatusCode != http.StatusOK || img.Header.Get("Content-Type") != common.MimeImagePNG {
		t.Fatalf("image status %d type %q", img.StatusCode, img.Header.Get("Content-Type"))
	}
	if got := readBody(t, img); got != string(pngBytes) {
		t.Fatalf("served bytes differ")
	}
}

func TestUploadAPI_Rejections(t *testing.T) {
	env := newTestEnv(t, "")

	ctype, body := makeMultipart(t, common.FormFieldFile, "notes.png", []byte("plain text"))
	resp, err := http.Post(env.ts.URL+common.PathUploads, ctype, body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-image: expected 400, got %d", resp.StatusCode)
	}
	_ = readBody(t, resp)

	ctype, body = makeMultipart(t, "other", "widget.png", pngBytes)
	resp, err = http.Post(env.ts.URL+common.PathUploads, ctype, body)
	if err != nil {
		t.Fatalf("POST upload: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing file: expected 400, got %d", resp.StatusCode)
	}
	_ = readBody(t, resp)

	for _, name := range []string{"nope.png", "../secret.png"} {
		resp, err := http.Get(env.ts.URL + common.PathUploadFiles + name)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404, got %d", name, resp.StatusCode)
		}
		_ = readBody(t, resp)
	}
}

func TestGenerateAPI(t *testing.T) {
	env := newTestEnv(t, "")
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"languages":["de","en"],"imageUrl":"https://cdn.example.com/w.png"}`, http.StatusOK},
		{"bad json", `{"languages":`, http.StatusBadRequest},
		{"no languages", `{"languages":[],"imageUrl":"https://cdn.example.com/w.png"}`, http.StatusBadRequest},
		{"too many", `{"languages":["en","de","fr","es"],"imageUrl":"https://cdn.example.com/w.png"}`, http.StatusBadRequest},
		{"unknown", `{"languages":["xx"],"imageUrl":"https://cdn.example.com/w.png"}`, http.StatusBadRequest},
		{"duplicate", `{"languages":["en","en"],"imageUrl":"https://cdn.example.com/w.png"}`, http.StatusBadRequest},
		{"relative image", `{"languages":["en"],"imageUrl":"/w.png"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(env.ts.URL+common.PathGenerate, common.ContentTypeJSON, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			body := readBody(t, resp)
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, resp.StatusCode, body)
			}
			if tc.status != http.StatusOK {
				return
			}
			got, err := generate.ParseDescriptions([]byte(body))
			if err != nil {
				t.Fatalf("response should satisfy the contract: %v", err)
			}
			if len(got) != 2 || got[0].Language != "de" || got[1].Language != "en" {
				t.Fatalf("unexpected response order: %+v", got)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	body := `{"languages":["en"],"imageUrl":"https://cdn.example.com/w.png"}`

	resp, err := http.Post(env.ts.URL+common.PathGenerate, common.ContentTypeJSON, strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+common.PathGenerate, strings.NewReader(body))
	req.Header.Set(common.HeaderAPIKey, "s3cret")
	req.Header.Set("Content-Type", common.ContentTypeJSON)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}

	// Pages and health stay open.
	for _, p := range []string{common.PathHealthz, common.PathRoot} {
		resp, err := http.Get(env.ts.URL + p)
		if err != nil {
			t.Fatalf("GET %s: %v", p, err)
		}
		_ = readBody(t, resp)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d", p, resp.StatusCode)
		}
	}
}

func TestPage_FullFlow(t *testing.T) {
	env := newTestEnv(t, "k")
	browser := newBrowser(t)

	resp, err := browser.Get(env.ts.URL + common.PathRoot)
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page := readBody(t, resp)
	if ct := resp.Header.Get("Content-Type"); ct != common.ContentTypeHTML {
		t.Fatalf("content type %q", ct)
	}
	if !strings.Contains(page, `id="generate" type="submit" disabled>Generate Descriptions<`) {
		t.Fatalf("fresh form should show a disabled submit button:\n%s", page)
	}
	if strings.Contains(page, "<h2>Generated Descriptions</h2>") {
		t.Fatalf("results section should be hidden before the first generation")
	}

	ctype, body := makeMultipart(t, common.FormFieldFile, "widget.png", pngBytes)
	resp, err = browser.Post(env.ts.URL+common.PathFormImage, ctype, body)
	if err != nil {
		t.Fatalf("POST image: %v", err)
	}
	page = readBody(t, resp)
	if !strings.Contains(page, `<img src="`+env.ts.URL+common.PathUploadFiles) {
		t.Fatalf("preview missing after upload:\n%s", page)
	}
	if strings.Contains(page, `type="file"`) {
		t.Fatalf("upload prompt should be replaced by the preview:\n%s", page)
	}

	postForm(t, browser, env.ts.URL+common.PathFormToggle+"en")
	page = postForm(t, browser, env.ts.URL+common.PathFormToggle+"de")
	if !strings.Contains(page, `id="generate" type="submit">Generate Descriptions<`) {
		t.Fatalf("submit should be enabled with image and languages:\n%s", page)
	}

	postForm(t, browser, env.ts.URL+common.PathFormSubmit)
	page = waitForIdlePage(t, browser, env.ts.URL)
	for _, want := range []string{
		"<h2>Generated Descriptions</h2>",
		"<h3>English</h3>",
		"<h3>German</h3>",
		"Mocked (English): product shown at inline image/png",
	} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q:\n%s", want, page)
		}
	}
	if strings.Index(page, "<h3>English</h3>") > strings.Index(page, "<h3>German</h3>") {
		t.Fatalf("results should follow selection order")
	}

	recs, _ := env.store.Recent(context.Background(), 10)
	if len(recs) != 1 || recs[0].Status != common.StatusCompleted {
		t.Fatalf("expected one completed record, got %+v", recs)
	}

	// Removing the image keeps results but disables submit.
	page = postForm(t, browser, env.ts.URL+common.PathFormRemove)
	if !strings.Contains(page, "<h3>English</h3>") || !strings.Contains(page, `type="submit" disabled>Generate Descriptions<`) {
		t.Fatalf("unexpected page after removing image:\n%s", page)
	}
	if !strings.Contains(page, `type="file"`) || strings.Contains(page, "<img src=") {
		t.Fatalf("upload prompt should reappear after removal:\n%s", page)
	}
}

func TestPage_SubmitRendersInFlightAndSurvivesNavigation(t *testing.T) {
	env := newTestEnvWithDelay(t, "", 400*time.Millisecond)
	browser := newBrowser(t)

	ctype, body := makeMultipart(t, common.FormFieldFile, "widget.png", pngBytes)
	resp, err := browser.Post(env.ts.URL+common.PathFormImage, ctype, body)
	if err != nil {
		t.Fatalf("POST image: %v", err)
	}
	_ = readBody(t, resp)
	postForm(t, browser, env.ts.URL+common.PathFormToggle+"en")

	// The browser gives up on the submit quickly, as on a reload or navigation.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, env.ts.URL+common.PathFormSubmit, nil)
	noFollow := &http.Client{
		Jar:           browser.Jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err = noFollow.Do(req)
	if err != nil {
		t.Fatalf("submit should answer before the generation finishes: %v", err)
	}
	_ = readBody(t, resp)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	cancel()

	resp, err = browser.Get(env.ts.URL + common.PathRoot)
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	page := readBody(t, resp)
	for _, want := range []string{
		`http-equiv="refresh"`,
		`id="generate" type="submit" disabled>Generating...<`,
	} {
		if !strings.Contains(page, want) {
			t.Fatalf("in-flight page missing %q:\n%s", want, page)
		}
	}

	// A second click while in flight is ignored.
	postForm(t, browser, env.ts.URL+common.PathFormSubmit)

	page = waitForIdlePage(t, browser, env.ts.URL)
	if strings.Contains(page, `class="notice"`) {
		t.Fatalf("generation should not fail after navigation:\n%s", page)
	}
	if !strings.Contains(page, "<h3>English</h3>") || !strings.Contains(page, `type="submit">Generate Descriptions<`) {
		t.Fatalf("results missing after generation:\n%s", page)
	}
	recs, _ := env.store.Recent(context.Background(), 10)
	if len(recs) != 1 || recs[0].Status != common.StatusCompleted {
		t.Fatalf("expected exactly one completed generation, got %+v", recs)
	}
}

func TestPage_SessionsAreIndependent(t *testing.T) {
	env := newTestEnv(t, "")
	a, b := newBrowser(t), newBrowser(t)

	page := postForm(t, a, env.ts.URL+common.PathFormToggle+"fr")
	if !strings.Contains(page, `title="Remove French"`) {
		t.Fatalf("chip missing for first browser")
	}
	resp, err := b.Get(env.ts.URL + common.PathRoot)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if strings.Contains(readBody(t, resp), `title="Remove French"`) {
		t.Fatalf("second browser should not see the first browser's selection")
	}
	if env.svc.Sessions.Len() != 2 {
		t.Fatalf("sessions = %d", env.svc.Sessions.Len())
	}
}

func TestPage_SelectionCapDisablesPicker(t *testing.T) {
	env := newTestEnv(t, "")
	browser := newBrowser(t)
	for _, code := range []string{"en", "de", "fr"} {
		postForm(t, browser, env.ts.URL+common.PathFormToggle+code)
	}
	page := postForm(t, browser, env.ts.URL+common.PathFormToggle+"es")
	if strings.Contains(page, `title="Remove Spanish"`) {
		t.Fatalf("fourth language must not be added")
	}
	if !strings.Contains(page, `aria-pressed="false" disabled>Spanish<`) {
		t.Fatalf("unchecked options should be disabled while full:\n%s", page)
	}
}

func TestPage_UnreadableImageSetsNotice(t *testing.T) {
	env := newTestEnv(t, "")
	browser := newBrowser(t)
	ctype, body := makeMultipart(t, common.FormFieldFile, "notes.txt", []byte("hello"))
	resp, err := browser.Post(env.ts.URL+common.PathFormImage, ctype, body)
	if err != nil {
		t.Fatalf("POST image: %v", err)
	}
	page := readBody(t, resp)
	if !strings.Contains(page, `class="notice"`) || strings.Contains(page, "<img src=") {
		t.Fatalf("rejected upload should show a notice and no preview:\n%s", page)
	}
}

func TestGenerationsAPI(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	if _, err := env.svc.Processor.Generate(ctx, "https://cdn.example.com/w.png", []string{"it"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	recs, _ := env.store.Recent(ctx, 1)
	id := recs[0].ID

	resp, err := http.Get(env.ts.URL + common.PathGenerations + "/" + id)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	var got generationOut
	if err := json.Unmarshal([]byte(readBody(t, resp)), &got); err != nil {
		t.Fatalf("json: %v", err)
	}
	if got.ID != id || got.Status != common.StatusCompleted || got.Error != nil || got.Provider != "mock" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if diff := cmp.Diff([]string{"it"}, got.Languages); diff != "" {
		t.Fatalf("languages mismatch (-want +got):\n%s", diff)
	}

	resp, err = http.Get(env.ts.URL + common.PathGenerations + "?limit=5")
	if err != nil {
		t.Fatalf("GET list: %v", err)
	}
	var list []generationOut
	if err := json.Unmarshal([]byte(readBody(t, resp)), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("unexpected list: %+v", list)
	}

	for path, want := range map[string]int{
		common.PathGenerations + "/00000000-0000-4000-8000-000000000000": http.StatusNotFound,
		common.PathGenerations + "/not-an-id":                            http.StatusNotFound,
		common.PathGenerations + "?limit=zero":                           http.StatusBadRequest,
	} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = readBody(t, resp)
		if resp.StatusCode != want {
			t.Fatalf("GET %s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(errors.New("boom"))
	}), newDiscardLogger())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
