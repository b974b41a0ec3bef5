package database

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&User{}, &TemplateDocument{}, &Product{}, &Purchase{}, &AuditRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestUserRepoFindByID(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepo(db)

	user := User{Username: "repo-user", Email: "repo-user@example.com", PasswordHash: "x", Role: RoleMember}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	found, err := repo.FindByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.Email != "repo-user@example.com" {
		t.Errorf("found = %+v", found)
	}

	missing, err := repo.FindByID(context.Background(), 999999)
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing user should be nil, got %+v", missing)
	}
}

func TestTemplateRepoFindDefault(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepo(db)
	ctx := context.Background()

	none, err := repo.FindDefault(ctx, TemplateTypeWatermark, "pdf-default-a")
	if err != nil {
		t.Fatalf("find default: %v", err)
	}
	if none != nil {
		t.Errorf("no default seeded, got %+v", none)
	}

	if err := db.Create(&TemplateDocument{
		Name:         "standard watermark",
		TemplateType: TemplateTypeWatermark,
		TargetFormat: "pdf-default-a",
		IsDefault:    true,
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	found, err := repo.FindDefault(ctx, TemplateTypeWatermark, "pdf-default-a")
	if err != nil {
		t.Fatalf("find default: %v", err)
	}
	if found == nil || found.Name != "standard watermark" {
		t.Errorf("found = %+v", found)
	}
}

func TestTemplateRepoListFilters(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepo(db)
	ctx := context.Background()

	seed := []TemplateDocument{
		{Name: "wm portrait", TemplateType: TemplateTypeWatermark, TargetFormat: "list-portrait"},
		{Name: "wm landscape", TemplateType: TemplateTypeWatermark, TargetFormat: "list-landscape"},
		{Name: "brand portrait", TemplateType: TemplateTypeBranding, TargetFormat: "list-portrait"},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	byType, err := repo.List(ctx, TemplateTypeWatermark, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	count := 0
	for _, tmpl := range byType {
		if tmpl.TargetFormat == "list-portrait" || tmpl.TargetFormat == "list-landscape" {
			count++
		}
		if tmpl.TemplateType != TemplateTypeWatermark {
			t.Errorf("type filter leaked: %+v", tmpl)
		}
	}
	if count != 2 {
		t.Errorf("expected 2 watermark templates, got %d", count)
	}

	both, err := repo.List(ctx, TemplateTypeBranding, "list-portrait")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(both) != 1 || both[0].Name != "brand portrait" {
		t.Errorf("combined filter = %+v", both)
	}
}

func TestTemplateRepoDelete(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepo(db)
	ctx := context.Background()

	tmpl := TemplateDocument{Name: "to delete", TemplateType: TemplateTypeBranding, TargetFormat: "delete-fmt"}
	if err := repo.Create(ctx, &tmpl); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Delete(ctx, tmpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	gone, err := repo.FindByID(ctx, tmpl.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if gone != nil {
		t.Errorf("deleted template still visible: %+v", gone)
	}
}

func TestProductRepoFindByTypeAndEntity(t *testing.T) {
	db := newTestDB(t)
	repo := NewProductRepo(db)
	ctx := context.Background()

	if err := db.Create(&Product{ProductType: "file", EntityID: "prod-slug-1", CreatorUserID: 7, PriceAgorot: 1500}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	product, err := repo.FindByTypeAndEntity(ctx, "file", "prod-slug-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if product == nil || product.CreatorUserID != 7 {
		t.Errorf("product = %+v", product)
	}

	missing, err := repo.FindByTypeAndEntity(ctx, "file", "prod-slug-none")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Errorf("unlisted entity should return nil, got %+v", missing)
	}
}

func TestPurchaseRepoFindOrCreateFreeIdempotent(t *testing.T) {
	db := newTestDB(t)
	repo := NewPurchaseRepo(db)
	ctx := context.Background()

	first, err := repo.FindOrCreateFree(ctx, 41, "file", "free-slug-1")
	if err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if first.PaymentStatus != PaymentStatusCompleted || first.AmountAgorot != 0 {
		t.Errorf("free grant shape: %+v", first)
	}

	second, err := repo.FindOrCreateFree(ctx, 41, "file", "free-slug-1")
	if err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("repeat grant created a new row: %d vs %d", second.ID, first.ID)
	}

	var total int64
	if err := db.Model(&Purchase{}).
		Where("buyer_user_id = ? AND purchasable_id = ?", 41, "free-slug-1").
		Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 1 {
		t.Errorf("expected exactly one purchase row, got %d", total)
	}
}

func TestPurchaseRepoFindCompletedForUser(t *testing.T) {
	db := newTestDB(t)
	repo := NewPurchaseRepo(db)
	ctx := context.Background()

	expiry := time.Now().Add(-time.Hour)
	seed := []Purchase{
		{BuyerUserID: 52, PurchasableType: "file", PurchasableID: "pc-a", PaymentStatus: PaymentStatusCompleted},
		{BuyerUserID: 52, PurchasableType: "file", PurchasableID: "pc-b", PaymentStatus: PaymentStatusCompleted, AccessExpiresAt: &expiry},
		{BuyerUserID: 52, PurchasableType: "file", PurchasableID: "pc-c", PaymentStatus: "pending"},
		{BuyerUserID: 53, PurchasableType: "file", PurchasableID: "pc-a", PaymentStatus: PaymentStatusCompleted},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	purchases, err := repo.FindCompletedForUser(ctx, 52)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(purchases) != 2 {
		t.Fatalf("expected completed rows only, got %d", len(purchases))
	}

	now := time.Now()
	for _, p := range purchases {
		switch p.PurchasableID {
		case "pc-a":
			if !p.Active(now) {
				t.Error("lifetime purchase must be active")
			}
		case "pc-b":
			if p.Active(now) {
				t.Error("expired purchase must not be active")
			}
		default:
			t.Errorf("unexpected row %+v", p)
		}
	}
}

func TestAuditRepoCreate(t *testing.T) {
	db := newTestDB(t)
	repo := NewAuditRepo(db)

	userID := uint(61)
	record := AuditRecord{
		Kind:          "access_denied",
		UserID:        &userID,
		EntityType:    "file",
		EntityID:      "audit-slug-1",
		Detail:        "no completed purchase",
		CorrelationID: "req-123",
	}
	if err := repo.Create(context.Background(), record); err != nil {
		t.Fatalf("create: %v", err)
	}

	var saved AuditRecord
	if err := db.Where("entity_id = ?", "audit-slug-1").First(&saved).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if saved.Kind != "access_denied" || saved.UserID == nil || *saved.UserID != 61 {
		t.Errorf("saved = %+v", saved)
	}
	if saved.CreatedAt.IsZero() {
		t.Error("created_at must be stamped")
	}
}

func TestTemplateRepoSetDefaultKeepsSingleDefault(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepo(db)

	first := TemplateDocument{Name: "setdefault-a", TemplateType: TemplateTypeWatermark, TargetFormat: TargetFormatPDFPortrait, IsDefault: true}
	second := TemplateDocument{Name: "setdefault-b", TemplateType: TemplateTypeWatermark, TargetFormat: TargetFormatPDFPortrait}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("seed first: %v", err)
	}
	if err := db.Create(&second).Error; err != nil {
		t.Fatalf("seed second: %v", err)
	}

	if err := repo.SetDefault(context.Background(), second.ID); err != nil {
		t.Fatalf("set default: %v", err)
	}

	var defaults []TemplateDocument
	if err := db.Where("template_type = ? AND target_format = ? AND is_default = ? AND name LIKE ?",
		TemplateTypeWatermark, TargetFormatPDFPortrait, true, "setdefault-%").
		Find(&defaults).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(defaults) != 1 {
		t.Fatalf("got %d default templates for the group, want exactly 1", len(defaults))
	}
	if defaults[0].ID != second.ID {
		t.Errorf("default is %d, want %d", defaults[0].ID, second.ID)
	}

	// 再切回去也只留一个默认。
	if err := repo.SetDefault(context.Background(), first.ID); err != nil {
		t.Fatalf("set default back: %v", err)
	}
	var count int64
	if err := db.Model(&TemplateDocument{}).
		Where("template_type = ? AND target_format = ? AND is_default = ? AND name LIKE ?",
			TemplateTypeWatermark, TargetFormatPDFPortrait, true, "setdefault-%").
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d default templates after switching back, want 1", count)
	}
}

func TestTemplateRepoSetDefaultMissingTemplate(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepo(db)

	if err := repo.SetDefault(context.Background(), 987654); err == nil {
		t.Fatal("expected error for missing template")
	}
}
