package core

import (
	"testing"
	"time"
)

func TestDateValidate(t *testing.T) {
	cases := []struct {
		d  Date
		ok bool
	}{
		{NewDate(2025, 1, 1), true},
		{NewDate(2025, 12, 31), true},
		{Date{Time: time.Time{}}, false}, // zero time
	}
	for i, tc := range cases {
		err := tc.d.Validate()
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -100}).Validate(); err == nil {
		t.Fatalf("expected error for negative")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		Date:        NewDate(2025, 1, 1),
		Description: "ok",
		Amount:      Money{Cents: 100},
		Primary:     "Cat",
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	// Secondary category is optional
	good.Secondary = "Sub"
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok with secondary, got %v", err)
	}

	bads := []Expense{
		{Date: Date{Time: time.Time{}}, Description: "a", Amount: Money{Cents: 1}, Primary: "c"}, // zero date
		{Date: NewDate(2025, 1, 1), Description: "", Amount: Money{Cents: 1}, Primary: "c"},
		{Date: NewDate(2025, 1, 1), Description: "   ", Amount: Money{Cents: 1}, Primary: "c"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 0}, Primary: "c"},
		{Date: NewDate(2025, 1, 1), Description: "a", Amount: Money{Cents: 1}, Primary: ""},
	}
	for i, e := range bads {
		if err := e.Validate(); err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestCategoryValidate(t *testing.T) {
	if err := (Category{Name: "Casa"}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Category{Name: ""}).Validate(); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestSyncStatusIsValid(t *testing.T) {
	for _, s := range []SyncStatus{SyncSynced, SyncPending, SyncFailed} {
		if !s.IsValid() {
			t.Fatalf("expected %q valid", s)
		}
	}
	if SyncStatus("bogus").IsValid() {
		t.Fatalf("expected bogus status invalid")
	}
}

func TestOperationIsValid(t *testing.T) {
	for _, o := range []Operation{OpCreate, OpUpdate, OpDelete} {
		if !o.IsValid() {
			t.Fatalf("expected %q valid", o)
		}
	}
	if Operation("upsert").IsValid() {
		t.Fatalf("expected upsert invalid")
	}
}

func TestEntityTypeIsValid(t *testing.T) {
	for _, e := range []EntityType{EntityExpense, EntityCategory, EntityMedia} {
		if !e.IsValid() {
			t.Fatalf("expected %q valid", e)
		}
	}
	if EntityType("account").IsValid() {
		t.Fatalf("expected account invalid")
	}
}
