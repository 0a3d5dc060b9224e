package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	auditdomain "smartdrive/user-service/internal/audit/domain"
	"smartdrive/user-service/internal/platform/cache"
	"smartdrive/user-service/internal/platform/errs"
	"smartdrive/user-service/internal/profile/domain"
)

func seed(t *testing.T, s Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		p := &domain.Profile{ID: "p-" + id, AuthUserID: id, Email: id + "@x.com", Enabled: true}
		if err := s.Create(context.Background(), p); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestMemoryStore_CreateConflict(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "u1")
	err := s.Create(context.Background(), &domain.Profile{ID: "p-other", AuthUserID: "u1", Email: "z@x.com"})
	if !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate Create = %v, want ErrConflict", err)
	}
}

func TestMemoryStore_MissingIsNilNil(t *testing.T) {
	p, err := NewMemoryStore().GetByAuthUserID(context.Background(), "nope")
	if p != nil || err != nil {
		t.Errorf("GetByAuthUserID(missing) = %v, %v; want nil, nil", p, err)
	}
}

func TestMemoryStore_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "u1")

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx Tx) error {
		p, _ := tx.GetByAuthUserID(ctx, "u1")
		p.Email = "changed@x.com"
		if err := tx.Update(ctx, p); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, &auditdomain.AuditLog{Action: "X"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithinTx = %v, want boom", err)
	}
	p, _ := s.GetByAuthUserID(ctx, "u1")
	if p.Email != "u1@x.com" {
		t.Errorf("email = %q, rollback should keep original", p.Email)
	}
	if len(s.Audit()) != 0 {
		t.Error("audit entries must roll back with the transaction")
	}
}

func TestMemoryStore_ListAfterPages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	seed(t, s, "a", "b", "c", "d", "e")

	var seen []string
	after := ""
	for {
		page, err := s.ListAfter(ctx, after, 2)
		if err != nil {
			t.Fatalf("ListAfter: %v", err)
		}
		if len(page) == 0 {
			break
		}
		for _, p := range page {
			seen = append(seen, p.AuthUserID)
		}
		after = page[len(page)-1].ID
	}
	if len(seen) != 5 {
		t.Errorf("paged %v, want all 5 profiles once", seen)
	}
}

func TestMemoryStore_SearchAndStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Create(ctx, &domain.Profile{ID: "1", AuthUserID: "u1", Email: "ada@x.com", FirstName: "Ada", EmailVerified: true})
	_ = s.Create(ctx, &domain.Profile{ID: "2", AuthUserID: "u2", Email: "bob@x.com", LastName: "Builder"})

	if got, _ := s.Search(ctx, SearchQuery{Name: "build"}, 10); len(got) != 1 || got[0].AuthUserID != "u2" {
		t.Errorf("Search name = %v", got)
	}
	if got, _ := s.Search(ctx, SearchQuery{Any: "ADA"}, 10); len(got) != 1 {
		t.Errorf("Search any = %v", got)
	}
	st, _ := s.Stats(ctx)
	if st.TotalUsers != 2 || st.VerifiedUsers != 1 || st.VerificationRate != 50 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestCachedStore_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seed(t, mem, "u1")
	kv := cache.NewMemory()
	cs := NewCachedStore(mem, kv, time.Minute, nil)

	p, err := cs.GetByAuthUserID(ctx, "u1")
	if err != nil || p == nil {
		t.Fatalf("GetByAuthUserID = %v, %v", p, err)
	}
	if _, err := kv.Get(ctx, CacheKey("u1")); err != nil {
		t.Fatalf("profile should be cached: %v", err)
	}

	err = cs.WithinTx(ctx, func(tx Tx) error {
		cur, _ := tx.GetByAuthUserID(ctx, "u1")
		cur.ChangeEmail("new@x.com")
		return tx.Update(ctx, cur)
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if _, err := kv.Get(ctx, CacheKey("u1")); !errors.Is(err, cache.ErrMiss) {
		t.Error("write inside WithinTx should invalidate the cache key")
	}
	p, _ = cs.GetByAuthUserID(ctx, "u1")
	if p.Email != "new@x.com" {
		t.Errorf("Email = %q, want new@x.com after invalidation", p.Email)
	}
}

// racingStore runs onLoad once, right after a read returns, to interleave a writer
// between a cache reader's load and its cache fill.
type racingStore struct {
	Store
	onLoad func()
}

func (s *racingStore) GetByAuthUserID(ctx context.Context, authUserID string) (*domain.Profile, error) {
	p, err := s.Store.GetByAuthUserID(ctx, authUserID)
	if fn := s.onLoad; fn != nil {
		s.onLoad = nil
		fn()
	}
	return p, err
}

func TestCachedStore_StaleFillAfterInvalidateIsNotServed(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seed(t, mem, "u1")
	kv := cache.NewMemory()
	racing := &racingStore{Store: mem}
	cs := NewCachedStore(racing, kv, time.Minute, nil)

	racing.onLoad = func() {
		err := cs.WithinTx(ctx, func(tx Tx) error {
			cur, _ := tx.GetByAuthUserID(ctx, "u1")
			cur.ChangeEmail("new@x.com")
			return tx.Update(ctx, cur)
		})
		if err != nil {
			t.Fatalf("WithinTx: %v", err)
		}
	}
	p, err := cs.GetByAuthUserID(ctx, "u1")
	if err != nil || p.Email != "u1@x.com" {
		t.Fatalf("racing read = %v, %v; want the pre-commit row", p, err)
	}
	if _, err := kv.Get(ctx, CacheKey("u1")); err != nil {
		t.Fatalf("racing reader should still have filled the key: %v", err)
	}

	p, err = cs.GetByAuthUserID(ctx, "u1")
	if err != nil || p.Email != "new@x.com" {
		t.Errorf("Email = %v, %v; want new@x.com, the stale fill must not be served", p, err)
	}
	p, _ = cs.GetByAuthUserID(ctx, "u1")
	if p.Email != "new@x.com" {
		t.Errorf("cached Email = %q, want new@x.com", p.Email)
	}
}

func TestCachedStore_MissingNotCached(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	cs := NewCachedStore(NewMemoryStore(), kv, time.Minute, nil)
	if p, err := cs.GetByAuthUserID(ctx, "ghost"); p != nil || err != nil {
		t.Fatalf("GetByAuthUserID(ghost) = %v, %v", p, err)
	}
	if _, err := kv.Get(ctx, CacheKey("ghost")); !errors.Is(err, cache.ErrMiss) {
		t.Error("missing profiles must not be cached")
	}
}

func TestLikePattern(t *testing.T) {
	if got := likePattern(" a%b_c "); got != `%a\%b\_c%` {
		t.Errorf("likePattern = %q", got)
	}
}
