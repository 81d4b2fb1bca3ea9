package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/budget-engine/budget"
)

func TestRenderTable(t *testing.T) {
	out := renderTable("History", []string{"Cycle", "Out"}, [][]string{
		{"2024-05-01..2024-05-31", "200.00"},
		{"2024-06-01..2024-06-30", "-150.00"},
	})

	assert.Contains(t, out, "History")
	assert.Contains(t, out, "Cycle")
	assert.Contains(t, out, "2024-06-01..2024-06-30")
	assert.Contains(t, out, "-150.00")
}

func TestMoney(t *testing.T) {
	assert.Contains(t, money(decimal.NewFromInt(-150)), "-150.00")
	assert.Contains(t, money(decimal.Zero), "0.00")
	assert.Contains(t, money(decimal.RequireFromString("12.5")), "12.50")
}

func TestPrintKV(t *testing.T) {
	var buf bytes.Buffer
	printKV(&buf, "Chain", "INDIVIDUAL:u-1", "Created", "2")
	assert.Contains(t, buf.String(), "INDIVIDUAL:u-1")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestFailureReasons_Deduplicated(t *testing.T) {
	agg := errors.New("timeout")
	got := failureReasons([]budget.OwnerFailure{
		{Owner: budget.Individual("a"), Reason: budget.ReasonAggregationFailure, Err: agg},
		{Owner: budget.Individual("b"), Reason: budget.ReasonAggregationFailure, Err: agg},
		{Owner: budget.Custodial("c"), Reason: budget.ReasonStorageFailure},
	})
	assert.Equal(t, "AGGREGATION_FAILURE, STORAGE_FAILURE", got)
}
