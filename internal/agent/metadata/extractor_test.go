package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchSheet = `ACME COATINGS BATCH RECORD
Job # 554992
Formula ID: 202076
Name: Clear Coat 50% Gallons
Operator: J. Smith`

func TestExtract_BatchSheet(t *testing.T) {
	f := Extract(batchSheet)

	require.NotNil(t, f.JobNumber)
	require.NotNil(t, f.FormulaID)
	require.NotNil(t, f.ProductName)
	assert.Equal(t, "554992", *f.JobNumber)
	assert.Equal(t, "202076", *f.FormulaID)
	assert.Equal(t, "Clear Coat 50%", *f.ProductName)
}

func TestExtract_NoMatches(t *testing.T) {
	f := Extract("nothing useful on this page")

	assert.Nil(t, f.JobNumber)
	assert.Nil(t, f.FormulaID)
	assert.Nil(t, f.ProductName)
}

func TestExtract_EmptyText(t *testing.T) {
	assert.Equal(t, Fields{}, Extract(""))
}

func TestExtract_JobNumberTakesFirstInDocumentOrder(t *testing.T) {
	text := "header\njob#111 reissued from JOB # 999\nJob #: 222"

	f := Extract(text)
	require.NotNil(t, f.JobNumber)
	assert.Equal(t, "111", *f.JobNumber)
}

func TestExtract_CaseInsensitiveAndSeparators(t *testing.T) {
	f := Extract("FORMULA id:   7788\nJOB #:42\nname  Base White\n")

	require.NotNil(t, f.FormulaID)
	require.NotNil(t, f.JobNumber)
	require.NotNil(t, f.ProductName)
	assert.Equal(t, "7788", *f.FormulaID)
	assert.Equal(t, "42", *f.JobNumber)
	assert.Equal(t, "Base White", *f.ProductName)
}

func TestExtract_ProductNameTerminators(t *testing.T) {
	f := Extract("Name: Red Oxide Primer 20 Pounds per unit")
	require.NotNil(t, f.ProductName)
	assert.Equal(t, "Red Oxide Primer 20", *f.ProductName)

	f = Extract("Name: Unterminated product")
	assert.Nil(t, f.ProductName)

	f = Extract("Name:\nGallons")
	assert.Nil(t, f.ProductName)
}

func TestExtract_JobWithoutDigits(t *testing.T) {
	f := Extract("Job # pending assignment")
	assert.Nil(t, f.JobNumber)
}

func TestExtract_Deterministic(t *testing.T) {
	inputs := []string{batchSheet, "", "Job #1 Job #2", "Name: A\nName: B\n"}
	for _, in := range inputs {
		assert.Equal(t, Extract(in), Extract(in))
	}
}

func TestExtractor_ExtractAllWithCustomRule(t *testing.T) {
	rules := append(DefaultRules(), NewRegexRule("lotNumber", `(?i)Lot\s*(?:No\.?|#)[\s:]*([A-Z0-9-]+)`, false))
	ex := NewExtractor(rules...)

	all := ex.ExtractAll(batchSheet + "\nLot No: B-1207")

	assert.Equal(t, map[string]string{
		FieldJobNumber:   "554992",
		FieldFormulaID:   "202076",
		FieldProductName: "Clear Coat 50%",
		"lotNumber":      "B-1207",
	}, all)

	// custom rules don't leak into the fixed fields
	f := ex.Extract(batchSheet)
	assert.Equal(t, "554992", *f.JobNumber)
}
