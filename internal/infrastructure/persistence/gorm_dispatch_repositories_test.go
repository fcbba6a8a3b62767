package persistence

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaycore/relay/internal/domain/entity"
	"github.com/relaycore/relay/internal/infrastructure/persistence/models"
)

// openTestDB opens an in-memory sqlite database migrated with every model
// the dispatch-pipeline repositories need, the same dialect db.go's
// NewDBConnection uses for the "sqlite" database type — just pointed at
// ":memory:" instead of a file DSN.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.IdentityModel{},
		&models.ChatSessionModel{},
		&models.SessionMessageModel{},
		&models.MemoryModel{},
		&models.AgentSettingsModel{},
		&models.SpecialRoleGrantModel{},
		&models.DailyLogModel{},
	); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	return db
}

func TestGormIdentityRepository_CreateAndFind(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormIdentityRepository(db)
	ctx := context.Background()

	found, err := repo.FindByChannelUser(ctx, entity.ChannelSlack, "u1")
	if err != nil {
		t.Fatalf("expected no error on miss, got %v", err)
	}
	if found != nil {
		t.Fatalf("expected nil on miss, got %+v", found)
	}

	identity := entity.NewIdentity(entity.ChannelSlack, "u1", "Tester")
	if err := repo.Create(ctx, identity); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if identity.ID == 0 {
		t.Fatalf("expected Create to assign a non-zero ID")
	}

	found, err = repo.FindByChannelUser(ctx, entity.ChannelSlack, "u1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found == nil || found.DisplayName != "Tester" {
		t.Fatalf("expected to find the created identity, got %+v", found)
	}
}

func TestGormChatSessionRepository_SaveAndFindByKey(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormChatSessionRepository(db)
	ctx := context.Background()

	session := entity.NewChatSession("slack:dm:chat-1", entity.ChannelSlack, 1, "chat-1", entity.ScopeDM, 180000)
	if err := repo.Save(ctx, session); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if session.ID == 0 {
		t.Fatalf("expected Save to assign a non-zero ID")
	}

	found, err := repo.FindByKey(ctx, "slack:dm:chat-1")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if found == nil || found.CompletionStatus != entity.StatusActive {
		t.Fatalf("expected to find the session as Active, got %+v", found)
	}

	found.CompletionStatus = entity.StatusComplete
	if err := repo.Save(ctx, found); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}

	reloaded, err := repo.FindByKey(ctx, "slack:dm:chat-1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.CompletionStatus != entity.StatusComplete {
		t.Errorf("expected the update to persist, got %q", reloaded.CompletionStatus)
	}
	if reloaded.ID != session.ID {
		t.Errorf("expected Save on an existing row to upsert rather than insert a duplicate, got new ID %d vs original %d", reloaded.ID, session.ID)
	}
}

func TestGormSessionMessageRepository_SaveAndRecentForSession(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormSessionMessageRepository(db)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, content := range []string{"first", "second", "third"} {
		msg := entity.NewSessionMessage(1, entity.RoleUser, content, 5)
		msg.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := repo.Save(ctx, msg); err != nil {
			t.Fatalf("save failed for %q: %v", content, err)
		}
	}

	rows, err := repo.RecentForSession(ctx, 1, 2)
	if err != nil {
		t.Fatalf("recent lookup failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows (limit), got %d", len(rows))
	}
	if rows[0].Content != "second" || rows[1].Content != "third" {
		t.Errorf("expected the 2 most recent rows oldest-first, got %q then %q", rows[0].Content, rows[1].Content)
	}
}

func TestGormMemoryRepository_SaveAndRecentForIdentity(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormMemoryRepository(db)
	ctx := context.Background()

	low := entity.NewMemory(1, "identity-1", entity.MemoryFact, "likes go", 0)
	high := entity.NewMemory(1, "identity-1", entity.MemoryImportant, "never touch prod directly", 0)
	if err := repo.SaveMemory(ctx, low); err != nil {
		t.Fatalf("save low failed: %v", err)
	}
	if err := repo.SaveMemory(ctx, high); err != nil {
		t.Fatalf("save high failed: %v", err)
	}

	rows, err := repo.RecentForIdentity(ctx, "identity-1", 10)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Content != "never touch prod directly" {
		t.Errorf("expected the higher-importance memory first, got %q", rows[0].Content)
	}
}

func TestGormDailyLogRepository_TodayFor_NoRow(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormDailyLogRepository(db)

	content, err := repo.TodayFor(context.Background(), "identity-1")
	if err != nil {
		t.Fatalf("expected no error for a missing row, got %v", err)
	}
	if content != "" {
		t.Errorf("expected an empty string for a missing row, got %q", content)
	}
}

func TestGormDailyLogRepository_TodayFor_ExistingRow(t *testing.T) {
	db := openTestDB(t)
	today := time.Now().UTC().Format("2006-01-02")
	if err := db.Create(&models.DailyLogModel{
		IdentityID: "identity-1",
		LogDate:    today,
		Content:    "shipped the dispatch pipeline",
		UpdatedAt:  time.Now().UTC(),
	}).Error; err != nil {
		t.Fatalf("failed to seed daily log row: %v", err)
	}

	repo := NewGormDailyLogRepository(db)
	content, err := repo.TodayFor(context.Background(), "identity-1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if content != "shipped the dispatch pipeline" {
		t.Errorf("expected today's content, got %q", content)
	}
}

func TestGormSpecialRoleRepository_FindGrant(t *testing.T) {
	db := openTestDB(t)
	if err := db.Create(&models.SpecialRoleGrantModel{
		ChannelType:    string(entity.ChannelTelegram),
		ExternalUserID: "u1",
		RoleName:       "owner",
		ExtraTools:     "shell, write_file",
		ExtraSkills:    "finance",
	}).Error; err != nil {
		t.Fatalf("failed to seed grant: %v", err)
	}

	repo := NewGormSpecialRoleRepository(db)
	grant, err := repo.FindGrant(context.Background(), entity.ChannelTelegram, "u1")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if grant == nil || grant.RoleName != "owner" {
		t.Fatalf("expected to find the owner grant, got %+v", grant)
	}
	if len(grant.ExtraTools) != 2 || grant.ExtraTools[0] != "shell" || grant.ExtraTools[1] != "write_file" {
		t.Errorf("expected the comma-separated tools to split and trim, got %v", grant.ExtraTools)
	}
	if len(grant.ExtraSkills) != 1 || grant.ExtraSkills[0] != "finance" {
		t.Errorf("expected a single extra skill, got %v", grant.ExtraSkills)
	}
}

func TestGormAgentSettingsRepository_FindByChannel(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := NewGormAgentSettingsRepository(db)

	settings, err := repo.FindByChannel(ctx, 99)
	if err != nil {
		t.Fatalf("expected no error on miss, got %v", err)
	}
	if settings != nil {
		t.Fatalf("expected nil on miss, got %+v", settings)
	}

	if err := db.Create(&models.AgentSettingsModel{ChannelID: 1, Model: "gpt-4o", MaxTokens: 4096, Temperature: 0.7}).Error; err != nil {
		t.Fatalf("failed to seed settings: %v", err)
	}

	settings, err = repo.FindByChannel(ctx, 1)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if settings == nil || settings.Model != "gpt-4o" {
		t.Fatalf("expected to find the seeded settings, got %+v", settings)
	}
}
