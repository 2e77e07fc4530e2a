package ledger_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dicomops/storerelay/pkg/storerelay/ledger"
)

const acceptedLine = "I-00123: C-STORE-RSP status=0H iuid=1.2.840.113619.2.55.100\n"
const rejectedLine = "I-00124: C-STORE-RSP status=A700H iuid=1.2.840.113619.2.55.200\n"

func newLedger(t *testing.T) (*ledger.Ledger, string, string) {
	t.Helper()
	dir := t.TempDir()
	successPath := filepath.Join(dir, "success_identifiers.txt")
	errorPath := filepath.Join(dir, "error_identifiers.txt")
	return ledger.New(ledger.DefaultRules(), successPath, errorPath), successPath, errorPath
}

func TestRules_MutuallyExclusive(t *testing.T) {
	rules := ledger.DefaultRules()

	output := acceptedLine + rejectedLine
	assert.Equal(t, []string{"1.2.840.113619.2.55.100"}, rules.Accepted(output))
	assert.Equal(t, []string{"1.2.840.113619.2.55.200"}, rules.Rejected(output))
}

func TestRules_CaseInsensitiveAndMultiline(t *testing.T) {
	rules := ledger.DefaultRules()

	output := "STATUS=0h\nsome intervening text\nIUID=1.2.3.4"
	assert.Equal(t, []string{"1.2.3.4"}, rules.Accepted(output))
	assert.Empty(t, rules.Rejected(output))
}

func TestRules_RejectedStatusVariants(t *testing.T) {
	rules := ledger.DefaultRules()

	for _, status := range []string{"A700H", "B000H", "C001H", "1H"} {
		output := "status=" + status + " iuid=9.8.7"
		assert.Equal(t, []string{"9.8.7"}, rules.Rejected(output), "status %s", status)
		assert.Empty(t, rules.Accepted(output), "status %s", status)
	}
}

func TestLedger_RecordDeduplicates(t *testing.T) {
	led, successPath, _ := newLedger(t)

	newSuccess, newError, err := led.Record(acceptedLine)
	require.NoError(t, err)
	assert.Equal(t, 1, newSuccess)
	assert.Equal(t, 0, newError)

	// Same output again contributes nothing.
	newSuccess, newError, err = led.Record(acceptedLine)
	require.NoError(t, err)
	assert.Equal(t, 0, newSuccess)
	assert.Equal(t, 0, newError)
	assert.Equal(t, 1, led.SuccessCount())

	data, err := os.ReadFile(successPath)
	require.NoError(t, err)
	assert.Equal(t, "1.2.840.113619.2.55.100\n", string(data))
}

func TestLedger_FirstOutcomeWins(t *testing.T) {
	led, _, _ := newLedger(t)

	_, _, err := led.Record(acceptedLine)
	require.NoError(t, err)

	// The same identifier later seen as rejected stays in the success set.
	_, newError, err := led.Record("status=A700H iuid=1.2.840.113619.2.55.100")
	require.NoError(t, err)
	assert.Equal(t, 0, newError)
	assert.Equal(t, 1, led.SuccessCount())
	assert.Equal(t, 0, led.ErrorCount())
}

func TestLedger_CaseInsensitiveIdentity(t *testing.T) {
	dir := t.TempDir()
	successPath := filepath.Join(dir, "s.txt")
	errorPath := filepath.Join(dir, "e.txt")

	rules := ledger.NewRules(
		regexp.MustCompile(`ok id=(\S+)`),
		regexp.MustCompile(`bad id=(\S+)`),
	)
	led := ledger.New(rules, successPath, errorPath)

	newSuccess, _, err := led.Record("ok id=ABC.def")
	require.NoError(t, err)
	assert.Equal(t, 1, newSuccess)

	// Identifiers differing only by case are the same identifier.
	newSuccess, _, err = led.Record("ok id=abc.DEF")
	require.NoError(t, err)
	assert.Equal(t, 0, newSuccess)
	assert.Equal(t, []string{"ABC.def"}, led.Successes())
}

func TestLedger_HydrateRestoresBothSets(t *testing.T) {
	led, successPath, errorPath := newLedger(t)

	_, _, err := led.Record(acceptedLine + rejectedLine)
	require.NoError(t, err)

	// A fresh ledger over the same files sees the persisted state.
	resumed := ledger.New(ledger.DefaultRules(), successPath, errorPath)
	require.NoError(t, resumed.Hydrate())
	assert.Equal(t, 1, resumed.SuccessCount())
	assert.Equal(t, 1, resumed.ErrorCount())

	// Replayed output after hydration contributes nothing new.
	newSuccess, newError, err := resumed.Record(acceptedLine + rejectedLine)
	require.NoError(t, err)
	assert.Equal(t, 0, newSuccess)
	assert.Equal(t, 0, newError)
}

func TestLedger_HydrateMissingFilesIsFine(t *testing.T) {
	led, _, _ := newLedger(t)
	require.NoError(t, led.Hydrate())
	assert.Equal(t, 0, led.SuccessCount())
	assert.Equal(t, 0, led.ErrorCount())
}

func TestReadIdentifierLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("2.2\n1.1\n\n1.1\n"), 0o644))

	ids, err := ledger.ReadIdentifierLog(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1", "2.2"}, ids)

	ids, err = ledger.ReadIdentifierLog(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, ids)
}
