package shortener_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/shortguard/shortguard/internal/classifier"
	"github.com/shortguard/shortguard/internal/interfaces"
	"github.com/shortguard/shortguard/internal/model"
	"github.com/shortguard/shortguard/internal/shortcode"
	"github.com/shortguard/shortguard/internal/shortener"
	"github.com/shortguard/shortguard/internal/store"
	"github.com/shortguard/shortguard/internal/testutil"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	s, err := store.New(db, interfaces.NewTestLogger(false))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShortenWithClassifierDisabled(t *testing.T) {
	st := openTestStore(t)
	svc := shortener.NewService(st, nil, &testutil.DummyLogger{})

	u, created, err := svc.Shorten(context.Background(), "https://example.com/page", "owner-1")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if !created {
		t.Fatal("expected a new row")
	}
	if u.SafetyStatus != model.SafetyPending {
		t.Fatalf("status = %s, want pending", u.SafetyStatus)
	}
	if !u.IsActive {
		t.Fatal("new url should be active")
	}
	if u.OwnerID != "owner-1" {
		t.Fatalf("owner = %s", u.OwnerID)
	}
}

func TestShortenIdempotent(t *testing.T) {
	st := openTestStore(t)
	stub := &testutil.StubClassifier{ID: "stub_v1"}
	svc := shortener.NewService(st, stub, &testutil.DummyLogger{})
	ctx := context.Background()

	first, created, err := svc.Shorten(ctx, "https://example.com/page", "owner-1")
	if err != nil || !created {
		t.Fatalf("first Shorten: %v created=%v", err, created)
	}
	second, created, err := svc.Shorten(ctx, "https://example.com/page", "owner-1")
	if err != nil {
		t.Fatalf("second Shorten: %v", err)
	}
	if created {
		t.Fatal("second call should return the existing record")
	}
	if second.ShortCode != first.ShortCode {
		t.Fatalf("codes differ: %s vs %s", first.ShortCode, second.ShortCode)
	}
	if stub.CallCount() != 1 {
		t.Fatalf("classification ran %d times, want 1 (not re-run on replay)", stub.CallCount())
	}
}

func TestShortenRejectsMalicious(t *testing.T) {
	st := openTestStore(t)
	pattern, err := classifier.NewPatternClassifier([]string{`.*malware\.com.*`})
	if err != nil {
		t.Fatalf("NewPatternClassifier: %v", err)
	}
	logger := &testutil.DummyLogger{}
	svc := shortener.NewService(st, pattern, logger)
	ctx := context.Background()

	_, _, err = svc.Shorten(ctx, "https://malware.com/x", "owner-1")
	if !errors.Is(err, shortener.ErrUnsafeURL) {
		t.Fatalf("expected ErrUnsafeURL, got %v", err)
	}
	if len(logger.Warns) == 0 {
		t.Fatal("rejection should leave an audit log entry")
	}

	// nothing persisted
	var c shortcode.Codec
	code, _ := c.Generate("https://malware.com/x")
	if _, err := st.GetByCode(ctx, code); !errors.Is(err, store.ErrURLNotFound) {
		t.Fatalf("rejected url was persisted: %v", err)
	}
}

func TestShortenFailsOpenOnClassifierError(t *testing.T) {
	st := openTestStore(t)
	stub := &testutil.StubClassifier{
		ID:   "stub_v1",
		Errs: map[string]error{"https://example.com/page": errors.New("model exploded")},
	}
	logger := &testutil.DummyLogger{}
	svc := shortener.NewService(st, stub, logger)

	u, created, err := svc.Shorten(context.Background(), "https://example.com/page", "owner-1")
	if err != nil {
		t.Fatalf("Shorten should fail open, got %v", err)
	}
	if !created {
		t.Fatal("url should have been created")
	}
	if u.SafetyStatus != model.SafetyPending || !u.IsActive {
		t.Fatalf("fail-open url = %s active=%v, want pending/active", u.SafetyStatus, u.IsActive)
	}
	if len(logger.Warns) == 0 {
		t.Fatal("classifier failure should be logged")
	}
}

func TestShortenCodeConflict(t *testing.T) {
	st := openTestStore(t)
	svc := shortener.NewService(st, nil, &testutil.DummyLogger{})
	ctx := context.Background()

	// occupy the code this URL hashes to with a different long URL
	var c shortcode.Codec
	code, _ := c.Generate("https://example.com/page")
	if _, err := st.AddURL(ctx, model.Url{
		ShortCode: code, LongURL: "https://other.example/thing", OwnerID: "x", IsActive: true,
	}); err != nil {
		t.Fatalf("AddURL: %v", err)
	}

	_, _, err := svc.Shorten(ctx, "https://example.com/page", "owner-1")
	if !errors.Is(err, shortener.ErrCodeConflict) {
		t.Fatalf("expected ErrCodeConflict, got %v", err)
	}
}

func TestShortenValidation(t *testing.T) {
	st := openTestStore(t)
	stub := &testutil.StubClassifier{}
	svc := shortener.NewService(st, stub, &testutil.DummyLogger{})
	ctx := context.Background()

	bad := []string{
		"",
		"   ",
		"nodotsinthisurl",
		"ftp://example.com/file",
		"example.com/no-scheme",
		"https://exämple.com/page",
		"https://example.com/pa ge",
		"https://example.com/<script>",
	}
	for _, in := range bad {
		if _, _, err := svc.Shorten(ctx, in, "owner-1"); !errors.Is(err, shortener.ErrInvalidURL) {
			t.Errorf("Shorten(%q): expected ErrInvalidURL, got %v", in, err)
		}
	}
	if stub.CallCount() != 0 {
		t.Fatalf("invalid input reached the classifier %d times", stub.CallCount())
	}
}

func TestResolve(t *testing.T) {
	st := openTestStore(t)
	svc := shortener.NewService(st, nil, &testutil.DummyLogger{})
	ctx := context.Background()

	u, _, err := svc.Shorten(ctx, "https://example.com/page", "owner-1")
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}

	got, err := svc.Resolve(ctx, u.ShortCode)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.LongURL != "https://example.com/page" {
		t.Fatalf("resolved wrong url: %s", got.LongURL)
	}

	if _, err := svc.Resolve(ctx, "zzzzzzzz"); !errors.Is(err, shortener.ErrNotFound) {
		t.Fatalf("unknown code: expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Resolve(ctx, "not valid!"); !errors.Is(err, shortener.ErrNotFound) {
		t.Fatalf("malformed code: expected ErrNotFound, got %v", err)
	}

	if _, err := st.Disable(ctx, u.ShortCode); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if _, err := svc.Resolve(ctx, u.ShortCode); !errors.Is(err, shortener.ErrURLDisabled) {
		t.Fatalf("disabled code: expected ErrURLDisabled, got %v", err)
	}
}
