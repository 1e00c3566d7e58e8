package mongostore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"bookcatalog/internal/catalog"
	"bookcatalog/internal/store/storetest"
)

func setupMongoTestDB(t *testing.T) *Store {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{
		URI:      uri,
		Database: "bookcatalog_test_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Skipf("Skipping test: cannot connect to test database: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	return s
}

func TestMongo_Contract(t *testing.T) {
	// Transactions need a replica set; set TEST_MONGODB_REPLSET when the server is one.
	opts := storetest.Options{SkipTransactions: os.Getenv("TEST_MONGODB_REPLSET") == ""}
	storetest.Run(t, func(t *testing.T) catalog.Datastore { return setupMongoTestDB(t) }, opts)
}
