package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDatabase(t *testing.T) Database {
	t.Helper()
	orm, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "open test database")

	database := Database{Orm: orm}
	require.NoError(t, database.Initialize(), "migrate schema")
	// The catalog table is owned by the ingestion pipeline in production;
	// tests create it directly.
	require.NoError(t, orm.AutoMigrate(&Document{}), "migrate catalog schema")
	return database
}

func seedCatalog(t *testing.T, database Database, tenantID string, docs ...Document) {
	t.Helper()
	for i := range docs {
		docs[i].TenantID = tenantID
	}
	require.NoError(t, database.Orm.Create(&docs).Error)
}

func TestTrackPendingDocumentsIdempotent(t *testing.T) {
	database := setupTestDatabase(t)

	inserted, err := database.TrackPendingDocuments("t1", []string{"d1", "d2", "d3"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), inserted)

	inserted, err = database.TrackPendingDocuments("t1", []string{"d1", "d2", "d3"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted, "second pass over the same documents inserts nothing")

	count, err := database.CountTrackedDocuments("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	rec, err := database.GetDocumentMigrationRecord("t1", "d1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, DocumentMigrationStatusPending, rec.Status)
	assert.Equal(t, 0, rec.AttemptsCount)
}

func TestTrackPendingDocumentsIsTenantScoped(t *testing.T) {
	database := setupTestDatabase(t)

	_, err := database.TrackPendingDocuments("t1", []string{"d1"})
	require.NoError(t, err)
	inserted, err := database.TrackPendingDocuments("t2", []string{"d1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), inserted, "same document id under another tenant is a distinct record")
}

func TestCatalogPaginationByPrimaryKey(t *testing.T) {
	database := setupTestDatabase(t)
	now := time.Now()
	seedCatalog(t, database, "t1",
		Document{DocumentID: "d1", LastModified: now},
		Document{DocumentID: "d2", LastModified: now},
		Document{DocumentID: "d3", LastModified: now},
	)

	docs, err := database.ListCatalogDocumentsAfter("t1", "", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d1", docs[0].DocumentID)
	assert.Equal(t, "d2", docs[1].DocumentID)

	docs, err = database.ListCatalogDocumentsAfter("t1", "d2", 2)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d3", docs[0].DocumentID)

	docs, err = database.ListCatalogDocumentsAfter("t1", "d3", 2)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLastTrackedDocumentID(t *testing.T) {
	database := setupTestDatabase(t)

	last, err := database.LastTrackedDocumentID("t1")
	require.NoError(t, err)
	assert.Equal(t, "", last, "no records yet")

	_, err = database.TrackPendingDocuments("t1", []string{"d2", "d1"})
	require.NoError(t, err)

	last, err = database.LastTrackedDocumentID("t1")
	require.NoError(t, err)
	assert.Equal(t, "d2", last)
}

func TestRecordDocumentFailedMonotonicAttempts(t *testing.T) {
	database := setupTestDatabase(t)
	_, err := database.TrackPendingDocuments("t1", []string{"d1"})
	require.NoError(t, err)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))

	prev := 0
	for i := 0; i < 3; i++ {
		require.NoError(t, database.RecordDocumentFailed("t1", "d1", 10))

		rec, err := database.GetDocumentMigrationRecord("t1", "d1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, DocumentMigrationStatusFailed, rec.Status)
		assert.Greater(t, rec.AttemptsCount, prev, "attempts only ever grow")
		prev = rec.AttemptsCount
	}
	assert.Equal(t, 3, prev)

	tenant, err := database.GetTenantMigrationRecord("t1")
	require.NoError(t, err)
	require.NotNil(t, tenant)
	assert.Equal(t, int64(30), tenant.TotalChunksErrored)
}

func TestPermanentlyFailedIsTerminal(t *testing.T) {
	database := setupTestDatabase(t)
	_, err := database.TrackPendingDocuments("t1", []string{"d1"})
	require.NoError(t, err)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))
	require.NoError(t, database.MarkDocumentPermanentlyFailed("t1", "d1"))

	require.NoError(t, database.RecordDocumentFailed("t1", "d1", 0))
	rec, err := database.GetDocumentMigrationRecord("t1", "d1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, DocumentMigrationStatusPermanentlyFailed, rec.Status)
	assert.Equal(t, 0, rec.AttemptsCount, "terminal records never accrue attempts")

	require.NoError(t, database.RecordDocumentMigrated("t1", "d1", 5))
	rec, err = database.GetDocumentMigrationRecord("t1", "d1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, DocumentMigrationStatusPermanentlyFailed, rec.Status)
}

func TestShouldPermanentlyFailThreshold(t *testing.T) {
	assert.False(t, ShouldPermanentlyFail(DocumentMigrationRecord{
		Status: DocumentMigrationStatusFailed, AttemptsCount: MaxMigrationAttempts - 1,
	}))
	assert.True(t, ShouldPermanentlyFail(DocumentMigrationRecord{
		Status: DocumentMigrationStatusFailed, AttemptsCount: MaxMigrationAttempts,
	}))
	assert.True(t, ShouldPermanentlyFail(DocumentMigrationRecord{
		Status: DocumentMigrationStatusFailed, AttemptsCount: MaxMigrationAttempts + 3,
	}))
	assert.True(t, ShouldPermanentlyFail(DocumentMigrationRecord{
		Status: DocumentMigrationStatusPermanentlyFailed,
	}))
	assert.False(t, ShouldPermanentlyFail(DocumentMigrationRecord{
		Status: DocumentMigrationStatusPending, AttemptsCount: MaxMigrationAttempts,
	}), "the threshold only applies to FAILED records")
}

func TestEnsureTenantMigrationRecordSingleton(t *testing.T) {
	database := setupTestDatabase(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, database.EnsureTenantMigrationRecord("t1"))
	}

	var count int64
	require.NoError(t, database.Orm.Model(&TenantMigrationRecord{}).Where("tenant_id = ?", "t1").Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCounterMonotonicity(t *testing.T) {
	database := setupTestDatabase(t)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))
	_, err := database.TrackPendingDocuments("t1", []string{"d1", "d2"})
	require.NoError(t, err)

	var lastMigrated, lastErrored int64
	steps := []func() error{
		func() error { return database.RecordDocumentMigrated("t1", "d1", 7) },
		func() error { return database.RecordDocumentFailed("t1", "d2", 3) },
		func() error { return database.RecordDocumentFailed("t1", "d2", 0) },
		func() error { return database.RecordDocumentMigrated("t1", "d2", 4) },
	}
	for _, step := range steps {
		require.NoError(t, step())
		rec, err := database.GetTenantMigrationRecord("t1")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.GreaterOrEqual(t, rec.TotalChunksMigrated, lastMigrated)
		assert.GreaterOrEqual(t, rec.TotalChunksErrored, lastErrored)
		lastMigrated = rec.TotalChunksMigrated
		lastErrored = rec.TotalChunksErrored
	}
	assert.Equal(t, int64(11), lastMigrated)
	assert.Equal(t, int64(3), lastErrored)
}

func TestObservationCounters(t *testing.T) {
	database := setupTestDatabase(t)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))

	require.NoError(t, database.IncrementNoDocsToMigrateObservations("t1"))
	require.NoError(t, database.IncrementNoDocsToMigrateObservations("t1"))
	require.NoError(t, database.IncrementNoDocsToPopulateObservations("t1"))

	rec, err := database.GetTenantMigrationRecord("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2), rec.NumTimesObservedNoAdditionalDocsToMigrate)
	assert.Equal(t, int64(1), rec.NumTimesObservedNoAdditionalDocsToPopulateMigrationTable)
}

func TestSliceContinuationTokens(t *testing.T) {
	database := setupTestDatabase(t)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))

	tokens, err := database.GetSliceContinuationTokens("t1")
	require.NoError(t, err)
	assert.Empty(t, tokens, "no slice has been visited yet")

	require.NoError(t, database.SaveSliceContinuationToken("t1", 0, "abc123"))
	require.NoError(t, database.SaveSliceContinuationToken("t1", 2, FinishedVisitingSliceToken))

	tokens, err = database.GetSliceContinuationTokens("t1")
	require.NoError(t, err)
	assert.Equal(t, "abc123", tokens["0"])
	assert.Equal(t, FinishedVisitingSliceToken, tokens["2"])
	_, ok := tokens["1"]
	assert.False(t, ok, "an unvisited slice stays absent, distinct from the sentinel")

	require.NoError(t, database.SaveSliceContinuationToken("t1", 0, "def456"))
	tokens, err = database.GetSliceContinuationTokens("t1")
	require.NoError(t, err)
	assert.Equal(t, "def456", tokens["0"])
	assert.Equal(t, FinishedVisitingSliceToken, tokens["2"], "saving one slice leaves the others alone")
}

func TestSetMigrationCompletedStampsOnce(t *testing.T) {
	database := setupTestDatabase(t)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, database.SetMigrationCompleted("t1", first))
	require.NoError(t, database.SetMigrationCompleted("t1", first.Add(time.Hour)))

	rec, err := database.GetTenantMigrationRecord("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.MigrationCompletedAt)
	assert.Equal(t, first.Unix(), rec.MigrationCompletedAt.Unix())
}

func TestSetRetrievalEnabled(t *testing.T) {
	database := setupTestDatabase(t)
	require.NoError(t, database.EnsureTenantMigrationRecord("t1"))

	require.NoError(t, database.SetRetrievalEnabled("t1", true))
	rec, err := database.GetTenantMigrationRecord("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.EnableOpensearchRetrieval)

	require.NoError(t, database.SetRetrievalEnabled("t1", false))
	rec, err = database.GetTenantMigrationRecord("t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.EnableOpensearchRetrieval)
}

func TestListCatalogTenants(t *testing.T) {
	database := setupTestDatabase(t)
	now := time.Now()
	seedCatalog(t, database, "t1", Document{DocumentID: "d1", LastModified: now})
	seedCatalog(t, database, "t2", Document{DocumentID: "d1", LastModified: now})
	// A tenant whose catalog was emptied but whose migration state remains.
	require.NoError(t, database.EnsureTenantMigrationRecord("t3"))

	tenants, err := database.ListCatalogTenants()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, tenants)
}
