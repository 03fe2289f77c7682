package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/dedupeit/internal/core"
)

const contactsCSV = "name,email\n" +
	"John Smith,john@example.com\n" +
	"Alice Jones,alice@example.com\n" +
	"Jon Smith,john@example.com\n"

// emailService is a dedupe endpoint that groups records by email. The last
// record of a group supplies the merged values.
func emailService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []struct {
			ID   string         `json:"id"`
			Data map[string]any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		type group struct {
			GroupID    string         `json:"group_id"`
			RecordIDs  []string       `json:"record_ids"`
			MergedData map[string]any `json:"merged_data"`
		}
		var order []string
		groups := map[string]*group{}
		for _, rec := range batch {
			email, _ := rec.Data["email"].(string)
			g, ok := groups[email]
			if !ok {
				g = &group{GroupID: "g-" + email}
				groups[email] = g
				order = append(order, email)
			}
			g.RecordIDs = append(g.RecordIDs, rec.ID)
			g.MergedData = rec.Data
		}

		out := []group{}
		for _, email := range order {
			if g := groups[email]; len(g.RecordIDs) > 1 {
				out = append(out, *g)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"groups": out})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_URL", "")

	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd(t *testing.T) {
	original := version
	version = "test-version-1.0.0"
	defer func() { version = original }()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "dedupectl version test-version-1.0.0")
}

func TestRunCmd_PlainTable(t *testing.T) {
	srv := emailService(t)
	path := writeCSV(t, contactsCSV)

	out, stderr, err := execute(t, "run", path, "--service-url", srv.URL, "--plain")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Deduplicating 3 records")
	assert.Contains(t, out, "deduped +1")
	assert.Contains(t, out, "[-John-]{+Jon+} Smith")
	assert.Contains(t, out, "unique")
	assert.Contains(t, out, "Alice Jones")
	assert.Contains(t, out, "▸")
	assert.NotContains(t, out, "removed", "children stay collapsed by default")

	assert.Contains(t, out, "Original records:     3")
	assert.Contains(t, out, "After deduplication:  2")
	assert.Contains(t, out, "Reduction:            33.3%")
	assert.Contains(t, out, "Duplicate groups:     1")
}

func TestRunCmd_ExpandAll(t *testing.T) {
	srv := emailService(t)
	path := writeCSV(t, contactsCSV)

	out, _, err := execute(t, "run", path, "--service-url", srv.URL, "--plain", "--expand", "all")
	require.NoError(t, err)

	assert.Contains(t, out, "▾")
	assert.Contains(t, out, "└")
	assert.Contains(t, out, "removed")
}

func TestRunCmd_JSON(t *testing.T) {
	srv := emailService(t)
	path := writeCSV(t, contactsCSV)

	out, stderr, err := execute(t, "run", path, "--service-url", srv.URL, "--json")
	require.NoError(t, err)
	assert.Empty(t, stderr)

	var got struct {
		Status  core.DatasetStatus `json:"status"`
		Columns []string           `json:"columns"`
		Groups  int                `json:"groups"`
		Summary core.Summary       `json:"summary"`
		Records []struct {
			IsParent bool `json:"isParent"`
			Children []struct {
				Status core.Status `json:"status"`
			} `json:"children"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)

	assert.Equal(t, core.DatasetDone, got.Status)
	assert.Equal(t, []string{"name", "email"}, got.Columns)
	assert.Equal(t, 1, got.Groups)
	assert.Equal(t, core.Summary{OriginalCount: 3, DeduplicatedCount: 2, ReductionPercent: 33.3}, got.Summary)
	require.Len(t, got.Records, 2)
	assert.True(t, got.Records[0].IsParent)
	require.Len(t, got.Records[0].Children, 1)
	assert.Equal(t, core.StatusRemoved, got.Records[0].Children[0].Status)
}

func TestRunCmd_Export(t *testing.T) {
	srv := emailService(t)
	path := writeCSV(t, contactsCSV)
	exportPath := filepath.Join(t.TempDir(), "deduped_data.csv")

	_, stderr, err := execute(t, "run", path, "--service-url", srv.URL, "--plain", "--export", exportPath)
	require.NoError(t, err)
	assert.Contains(t, stderr, "Exported")

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Equal(t, "name,email\nJon Smith,john@example.com\nAlice Jones,alice@example.com\n", string(data))
}

func TestRunCmd_ServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	path := writeCSV(t, contactsCSV)

	_, _, err := execute(t, "run", path, "--service-url", srv.URL)
	require.Error(t, err)

	var se *core.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	assert.Contains(t, ErrorText(err), "(Code: DDP002)")
}

func TestRunCmd_InvalidCSV(t *testing.T) {
	path := writeCSV(t, "")

	_, _, err := execute(t, "run", path, "--service-url", "http://127.0.0.1:1/dedupe")
	require.ErrorIs(t, err, core.ErrEmptyFile)
	assert.Contains(t, ErrorText(err), "FILE005")
}

func TestRunCmd_MissingFile(t *testing.T) {
	_, _, err := execute(t, "run", filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunCmd_RequiresFileArg(t *testing.T) {
	_, _, err := execute(t, "run")
	assert.Error(t, err)
}

func TestRunsCmd_HistoryDisabled(t *testing.T) {
	_, _, err := execute(t, "runs")
	require.ErrorIs(t, err, core.ErrHistoryDisabled)
	assert.Contains(t, ErrorText(err), "DDP015")
}

func TestRunsResetCmd_RequiresConfirmation(t *testing.T) {
	_, _, err := execute(t, "runs", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}
