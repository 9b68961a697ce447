package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-publish-agent/internal/domain"
)

// ----- Fake repo -----

type fakeFormRepo struct {
	getID   string
	getForm *domain.Form
	getErr  error

	countTotal int64
	countErr   error

	pageOffset int
	pageLimit  int
	pageItems  []domain.Form

	setCalls atomic.Int32
	setID    string
	setFP    string
	setErr   error
	setDelay time.Duration
	mu       sync.Mutex
}

func (r *fakeFormRepo) GetForm(ctx context.Context, db *gorm.DB, id string) (*domain.Form, error) {
	r.getID = id
	return r.getForm, r.getErr
}

func (r *fakeFormRepo) CountForms(ctx context.Context, db *gorm.DB) (int64, error) {
	return r.countTotal, r.countErr
}

func (r *fakeFormRepo) ListFormsPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Form, error) {
	r.pageOffset, r.pageLimit = offset, limit
	return r.pageItems, nil
}

func (r *fakeFormRepo) SetFormFingerprint(ctx context.Context, db *gorm.DB, id, fp string, now time.Time) error {
	r.setCalls.Add(1)
	if r.setDelay > 0 {
		time.Sleep(r.setDelay)
	}
	r.mu.Lock()
	r.setID, r.setFP = id, fp
	r.mu.Unlock()
	return r.setErr
}

// ----- Tests -----

func TestFormService_GetNotFound(t *testing.T) {
	repo := &fakeFormRepo{getErr: gorm.ErrRecordNotFound}
	svc := NewFormService(nil, repo)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("want ErrFormNotFound, got %v", err)
	}
	if repo.getID != "nope" {
		t.Fatalf("repo got id %q", repo.getID)
	}
}

func TestFormService_GetPassesOtherErrors(t *testing.T) {
	boom := errors.New("db down")
	svc := NewFormService(nil, &fakeFormRepo{getErr: boom})
	if _, err := svc.Get(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("want db error, got %v", err)
	}
}

func TestFormService_ListPage(t *testing.T) {
	repo := &fakeFormRepo{countTotal: 3, pageItems: []domain.Form{{ID: "a"}}}
	svc := NewFormService(nil, repo)

	items, total, err := svc.ListPage(context.Background(), 2, 2)
	if err != nil || total != 3 || len(items) != 1 {
		t.Fatalf("ListPage = %v %d %v", items, total, err)
	}
	if repo.pageOffset != 2 || repo.pageLimit != 2 {
		t.Fatalf("offset/limit = %d/%d", repo.pageOffset, repo.pageLimit)
	}

	repo.countTotal = 0
	items, total, _ = svc.ListPage(context.Background(), 0, 0)
	if total != 0 || items == nil || len(items) != 0 {
		t.Fatalf("empty page should be non-nil and empty, got %v", items)
	}
}

func TestFormService_FingerprintStoredSkipsWrite(t *testing.T) {
	repo := &fakeFormRepo{getForm: &domain.Form{ID: "f1", Data: []byte(`{"metadata":{"jsonFingerprint":"abcdabcdabcdabcd"}}`)}}
	svc := NewFormService(nil, repo)
	fp, err := svc.Fingerprint(context.Background(), "f1")
	if err != nil || fp != "abcdabcdabcdabcd" {
		t.Fatalf("Fingerprint = %q %v", fp, err)
	}
	if repo.setCalls.Load() != 0 {
		t.Fatalf("stored fingerprint must not be rewritten")
	}
}

func TestFormService_FingerprintBackfill(t *testing.T) {
	data := []byte(`{"formData":[{"name":"a"}],"metadata":{"formName":"A"}}`)
	repo := &fakeFormRepo{getForm: &domain.Form{ID: "f1", Data: data}}
	svc := NewFormService(nil, repo)

	fp, err := svc.Fingerprint(context.Background(), "f1")
	want, _ := ComputeFingerprint(data)
	if err != nil || fp != want {
		t.Fatalf("Fingerprint = %q %v, want %q", fp, err, want)
	}
	if repo.setCalls.Load() != 1 || repo.setID != "f1" || repo.setFP != want {
		t.Fatalf("write-back = %d %q %q", repo.setCalls.Load(), repo.setID, repo.setFP)
	}
}

func TestFormService_FingerprintWriteFailureStillReturns(t *testing.T) {
	repo := &fakeFormRepo{
		getForm: &domain.Form{ID: "f1", Data: []byte(`{}`)},
		setErr:  errors.New("read-only"),
	}
	svc := NewFormService(nil, repo)
	fp, err := svc.Fingerprint(context.Background(), "f1")
	if err != nil || len(fp) != FingerprintLen {
		t.Fatalf("Fingerprint = %q %v", fp, err)
	}
}

func TestFormService_FingerprintMalformedDocument(t *testing.T) {
	svc := NewFormService(nil, &fakeFormRepo{})
	_, err := svc.FingerprintOf(context.Background(), &domain.Form{ID: "f1", Data: []byte(`{"formData":[1,}`)})
	if !errors.Is(err, ErrFingerprintNotFound) {
		t.Fatalf("want ErrFingerprintNotFound, got %v", err)
	}
}

func TestFormService_ConcurrentBackfillCollapses(t *testing.T) {
	f := &domain.Form{ID: "f1", Data: []byte(`{"formData":[]}`)}
	repo := &fakeFormRepo{setDelay: 50 * time.Millisecond}
	svc := NewFormService(nil, repo)

	var wg sync.WaitGroup
	fps := make([]string, 8)
	for i := range fps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fps[i], _ = svc.FingerprintOf(context.Background(), f)
		}()
	}
	wg.Wait()
	for _, fp := range fps[1:] {
		if fp != fps[0] {
			t.Fatalf("fingerprints differ: %v", fps)
		}
	}
	if n := repo.setCalls.Load(); n >= int32(len(fps)) {
		t.Fatalf("expected collapsed writes, got %d", n)
	}
}
