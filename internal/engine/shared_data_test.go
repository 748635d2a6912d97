package engine_test

import (
	"testing"
)

func TestSharedDataUpsertKeepsID(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.Engine.UpsertSharedData(env.Ctx, "productPrice", "99.99", "", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	second, err := env.Engine.UpsertSharedData(env.Ctx, "productPrice", "149.99", "sale price", "")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert minted a new id: %s != %s", second.ID, first.ID)
	}
	if second.ValueJSON != "149.99" {
		t.Fatalf("value not replaced: %s", second.ValueJSON)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Fatalf("created_at rewritten on update")
	}

	items, err := env.Engine.ListSharedData(env.Ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("duplicate key row created: %d items", len(items))
	}
}

func TestSharedDataPropagation(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	producer := mustCase(t, env, suiteID, "create product")
	consumer := mustCase(t, env, suiteID, "place order", producer.ID)

	// producer publishes a price, consumer reads the same item
	item, err := env.Engine.UpsertSharedData(env.Ctx, "productPrice", "99.99", "", producer.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, err := env.Engine.GetSharedDataByKey(env.Ctx, "productPrice")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.ID != item.ID || got.ValueJSON != "99.99" || got.SourceCaseID != producer.ID {
		t.Fatalf("unexpected item: %+v", got)
	}

	// a price change reaches the consumer without re-wiring anything
	if _, err := env.Engine.UpsertSharedData(env.Ctx, "productPrice", "89.99", "", producer.ID); err != nil {
		t.Fatalf("republish: %v", err)
	}
	got, err = env.Engine.GetSharedDataByKey(env.Ctx, "productPrice")
	if err != nil {
		t.Fatalf("reread: %v", err)
	}
	if got.ValueJSON != "89.99" {
		t.Fatalf("consumer sees stale value %s", got.ValueJSON)
	}
	_ = consumer

	// invalid JSON never lands in the table
	if _, err := env.Engine.UpsertSharedData(env.Ctx, "bad", "{not json", "", ""); err == nil {
		t.Fatalf("expected invalid JSON rejection")
	}
}

func TestGenerateFeedsSharedData(t *testing.T) {
	env := newTestEnv(t)
	p := mustProject(t, env)
	suiteID := p.TestSuites[0].ID
	product := mustCase(t, env, suiteID, "Product creation test")

	tc, err := env.Engine.GenerateTestCase(env.Ctx, suiteID, "Create an order for a product", []string{product.ID})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if tc.SharedData == nil {
		t.Fatalf("no shared data on generated case")
	}
	for _, key := range []string{"orderId", "orderTotal", "productPrice"} {
		if _, err := env.Engine.GetSharedDataByKey(env.Ctx, key); err != nil {
			t.Fatalf("key %s not propagated: %v", key, err)
		}
	}
	item, err := env.Engine.GetSharedDataByKey(env.Ctx, "productPrice")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if item.SourceCaseID != tc.ID {
		t.Fatalf("source case not recorded: %+v", item)
	}
}
