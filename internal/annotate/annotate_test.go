package annotate

import (
	"testing"

	"github.com/lea-sql/lea/internal/model"
)

func TestScanBasicAssertions(t *testing.T) {
	sql := `SELECT
    id,
    -- #NO_NULLS
    email,
    -- #UNIQUE
    username,
    -- #SET{'A', 'B', 'AB', 'O'}
    blood_type
FROM core.users`

	res, err := Scan("core/users.sql", sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Assertions) != 3 {
		t.Fatalf("expected 3 assertions, got %d: %+v", len(res.Assertions), res.Assertions)
	}
	if res.Assertions[0].Column != "email" {
		t.Errorf("assertion 0 column = %s, want email", res.Assertions[0].Column)
	}
	if res.Assertions[2].Column != "blood_type" {
		t.Errorf("assertion 2 column = %s, want blood_type", res.Assertions[2].Column)
	}
	if len(res.Assertions[2].Values) != 4 {
		t.Errorf("expected 4 set values, got %v", res.Assertions[2].Values)
	}
}

func TestScanUniqueBy(t *testing.T) {
	sql := `SELECT
    order_id,
    -- #UNIQUE_BY(order_id)
    line_number
FROM core.order_lines`

	res, err := Scan("t.sql", sql)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assertions) != 1 {
		t.Fatalf("expected 1 assertion, got %d", len(res.Assertions))
	}
	a := res.Assertions[0]
	if a.Column != "line_number" || len(a.ByColumns) != 1 || a.ByColumns[0] != "order_id" {
		t.Errorf("unexpected assertion: %+v", a)
	}
}

func TestScanIncremental(t *testing.T) {
	sql := `-- #INCREMENTAL
SELECT id, updated_at FROM staging.events`
	res, err := Scan("t.sql", sql)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsIncremental {
		t.Error("expected IsIncremental = true")
	}
}

func TestScanLegacySynonyms(t *testing.T) {
	sql := `-- @INCREMENTAL
SELECT
    id,
    -- @UNIQUE
    email
FROM staging.users`
	res, err := Scan("t.sql", sql)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsIncremental {
		t.Error("expected @INCREMENTAL synonym to mark incremental")
	}
	if len(res.Assertions) != 1 || res.Assertions[0].Kind != model.AssertionUnique {
		t.Errorf("expected one unique assertion, got %+v", res.Assertions)
	}
}

func TestScanMalformedSet(t *testing.T) {
	sql := `SELECT
    -- #SET{'A', 'B'
    blood_type
FROM core.users`
	_, err := Scan("core/users.sql", sql)
	if err == nil {
		t.Fatal("expected parse error for unterminated #SET{...}")
	}
}

func TestScanUnknownAnnotationIgnored(t *testing.T) {
	sql := `SELECT
    -- #NOT_A_REAL_ANNOTATION
    id
FROM core.users`
	res, err := Scan("t.sql", sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Assertions) != 0 {
		t.Errorf("expected unknown annotation to be ignored, got %+v", res.Assertions)
	}
}

func TestScanCTEColumnsNotAnnotated(t *testing.T) {
	sql := `WITH base AS (
    SELECT
        -- #UNIQUE
        id
    FROM staging.raw_users
)
SELECT
    -- #NO_NULLS
    email
FROM base`
	res, err := Scan("t.sql", sql)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Assertions) != 1 {
		t.Fatalf("expected only the outer-select annotation to survive, got %+v", res.Assertions)
	}
	if res.Assertions[0].Column != "email" {
		t.Errorf("expected email, got %s", res.Assertions[0].Column)
	}
}
