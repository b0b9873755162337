package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vdoc/internal/row"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("NOT_FOUND", "post/p1 not found", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "post/p1 not found", resp.Error.Message)
	assert.Nil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccessUsesStringer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(SyncSummary{Cycles: 2, Rows: 3, Synced: 4})
	require.NoError(t, err)
	assert.Equal(t, "synced 4 entries (3 rows) in 2 cycles, 0 pending\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	details := map[string]string{"table": "documents"}
	err := formatter.Error("VALIDATION", "bad type", details)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [VALIDATION]: bad type")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"not_found", row.NewNotFoundError("update", "missing"), "NOT_FOUND", ExitFailure},
		{"validation", row.NewValidationError("create", "bad id"), "VALIDATION", ExitCommandError},
		{"connection", row.NewConnectionError("open", errors.New("refused")), "CONNECTION", ExitCommandError},
		{"plain", errors.New("boom"), "INTERNAL", ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: buf}

			err := formatter.Fail("op failed", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("syncing %d entries", 3)

			assert.Empty(t, buf.String())
			if tt.wantLog {
				assert.Equal(t, "syncing 3 entries\n", errBuf.String())
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitCommandError, "load", errors.New("no such file"))
	assert.Equal(t, "load: no such file", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestDocView_String(t *testing.T) {
	deleted := int64(42)
	v := viewOf(row.VersionedRow{Type: "post", ID: "p1", V: 7, Title: "Hi", DeletedAt: &deleted})
	assert.Equal(t, "post/p1 v7 \"Hi\" (deleted at 42)\n{}", v.String())
}

func TestDocList_String(t *testing.T) {
	assert.Equal(t, "(no documents)", DocList{}.String())

	l := listOf([]row.VersionedRow{
		{Type: "post", ID: "p1", V: 1, Title: "One", Data: json.RawMessage(`{"a":1}`)},
		{Type: "post", ID: "p22", V: 10, Data: json.RawMessage(`{}`)},
	})
	lines := bytes.Split([]byte(l.String()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "ID")
	assert.Contains(t, string(lines[1]), `{"a":1}`)
	assert.Contains(t, string(lines[2]), "p22")
}
