package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"classvault/internal/catalog"
	"classvault/internal/database"
)

type fakeProducts struct {
	products map[string]*database.Product
	err      error
}

func (f *fakeProducts) FindByTypeAndEntity(_ context.Context, productType, entityID string) (*database.Product, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.products[productType+"/"+entityID], nil
}

type fakePurchases struct {
	completed []database.Purchase
	created   []string
	createErr error
	findErr   error
}

func (f *fakePurchases) FindCompletedForUser(_ context.Context, _ uint) ([]database.Purchase, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.completed, nil
}

func (f *fakePurchases) FindOrCreateFree(_ context.Context, userID uint, purchasableType, purchasableID string) (*database.Purchase, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, purchasableType+"/"+purchasableID)
	return &database.Purchase{BuyerUserID: userID, PurchasableType: purchasableType, PurchasableID: purchasableID}, nil
}

func member(id uint) *database.User {
	u := &database.User{Role: database.RoleMember}
	u.ID = id
	return u
}

func paidProduct(entityID string, price int, creator uint) map[string]*database.Product {
	return map[string]*database.Product{
		"file/" + entityID: {ProductType: "file", EntityID: entityID, PriceAgorot: price, CreatorUserID: creator},
	}
}

func fileInfo(id string, allowPreview bool, pages []int) catalog.Info {
	return catalog.Info{Kind: catalog.KindFile, ID: id, AllowPreview: allowPreview, AccessiblePages: pages}
}

func newTestEngine(products *fakeProducts, purchases *fakePurchases) *Engine {
	return NewEngine(products, purchases, nil)
}

func TestDecideAdminAlwaysFull(t *testing.T) {
	admin := &database.User{Role: database.RolePlatformAdmin}
	admin.ID = 1

	engine := newTestEngine(&fakeProducts{err: errors.New("must not be called")}, &fakePurchases{})
	decision, err := engine.Decide(context.Background(), admin, fileInfo("doc-1", false, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Full {
		t.Errorf("level = %v, want Full", decision.Level)
	}
}

func TestDecideCreatorGetsFull(t *testing.T) {
	engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 4900, 7)}, &fakePurchases{})
	decision, err := engine.Decide(context.Background(), member(7), fileInfo("doc-1", false, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Full {
		t.Errorf("level = %v, want Full", decision.Level)
	}
}

func TestDecideFreeProductGrantsAndRecords(t *testing.T) {
	purchases := &fakePurchases{}
	engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 0, 7)}, purchases)

	granted := ""
	engine.OnFreeGrant = func(_ context.Context, _ uint, entityType, entityID string) {
		granted = entityType + "/" + entityID
	}

	decision, err := engine.Decide(context.Background(), member(3), fileInfo("doc-1", false, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Full {
		t.Errorf("level = %v, want Full", decision.Level)
	}
	if len(purchases.created) != 1 || purchases.created[0] != "file/doc-1" {
		t.Errorf("expected one free purchase, got %v", purchases.created)
	}
	if granted != "file/doc-1" {
		t.Errorf("OnFreeGrant = %q", granted)
	}
}

func TestDecideFreeGrantFailureStillGrantsAccess(t *testing.T) {
	purchases := &fakePurchases{createErr: errors.New("db down")}
	engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 0, 7)}, purchases)

	called := false
	engine.OnFreeGrant = func(context.Context, uint, string, string) { called = true }

	decision, err := engine.Decide(context.Background(), member(3), fileInfo("doc-1", false, nil))
	if err != nil {
		t.Fatalf("free grant failure must not fail the check: %v", err)
	}
	if decision.Level != Full {
		t.Errorf("level = %v, want Full", decision.Level)
	}
	if called {
		t.Error("OnFreeGrant must not fire when the grant failed")
	}
}

func TestDecideCompletedPurchase(t *testing.T) {
	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name      string
		expiresAt *time.Time
		want      Level
	}{
		{"lifetime", nil, Full},
		{"not yet expired", &future, Full},
		{"expired", &past, Denied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			purchases := &fakePurchases{completed: []database.Purchase{{
				BuyerUserID:     3,
				PurchasableType: "file",
				PurchasableID:   "doc-1",
				PaymentStatus:   database.PaymentStatusCompleted,
				AccessExpiresAt: tc.expiresAt,
			}}}
			engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 4900, 7)}, purchases)

			decision, err := engine.Decide(context.Background(), member(3), fileInfo("doc-1", false, nil))
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if decision.Level != tc.want {
				t.Errorf("level = %v, want %v", decision.Level, tc.want)
			}
		})
	}
}

func TestDecidePreviewCarriesAccessiblePages(t *testing.T) {
	engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 4900, 7)}, &fakePurchases{})

	decision, err := engine.Decide(context.Background(), member(3), fileInfo("doc-1", true, []int{1, 3}))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Preview {
		t.Fatalf("level = %v, want Preview", decision.Level)
	}
	if len(decision.AccessiblePages) != 2 || decision.AccessiblePages[0] != 1 || decision.AccessiblePages[1] != 3 {
		t.Errorf("pages = %v", decision.AccessiblePages)
	}
}

func TestDecideAnonymous(t *testing.T) {
	engine := newTestEngine(&fakeProducts{products: paidProduct("doc-1", 0, 7)}, &fakePurchases{})

	decision, err := engine.Decide(context.Background(), nil, fileInfo("doc-1", true, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Preview {
		t.Errorf("anonymous with preview flag: level = %v, want Preview", decision.Level)
	}

	decision, err = engine.Decide(context.Background(), nil, fileInfo("doc-1", false, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Denied {
		t.Errorf("anonymous without preview flag: level = %v, want Denied", decision.Level)
	}
}

func TestDecideNoProductNoPreview(t *testing.T) {
	engine := newTestEngine(&fakeProducts{}, &fakePurchases{})

	decision, err := engine.Decide(context.Background(), member(3), fileInfo("orphan", false, nil))
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if decision.Level != Denied {
		t.Errorf("level = %v, want Denied", decision.Level)
	}
}
