package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/numbering/numbering"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"designator": "A1"}, "A1\n"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"designator": "A1"}, resp.Data)
	assert.NotContains(t, buf.String(), "A1\n")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("EXHAUSTED", "retry budget spent", map[string]any{"issued": []string{}}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EXHAUSTED", resp.Error.Code)
	assert.Equal(t, "retry budget spent", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success([]string{"ignored"}, "INV-1\nINV-2\n"))
	assert.Equal(t, "INV-1\nINV-2\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("plain", ""))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("CONFIGURATION", "bad prefix", map[string]string{"prefix": "(empty)"}))
	assert.Contains(t, buf.String(), "Error [CONFIGURATION]: bad prefix")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("CONFIGURATION", "bad prefix", map[string]string{"prefix": "(empty)"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", assert.AnError))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, "inner: "+assert.AnError.Error(), WrapExitError(ExitFailure, "inner", assert.AnError).Error())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "SERIES_NOT_FOUND", errorCode(numbering.ErrSeriesNotFound))
	assert.Equal(t, "EXHAUSTED", errorCode(&numbering.Error{Code: numbering.ErrCodeExhausted}))
	assert.Equal(t, "E_COMMAND", errorCode(assert.AnError))
}

func TestAllocationExitError(t *testing.T) {
	cfgErr := &numbering.Error{Code: numbering.ErrCodeConfiguration}
	assert.Equal(t, ExitCommandError, allocationExitError("x", cfgErr).Code)
	assert.Equal(t, ExitFailure, allocationExitError("x", &numbering.Error{Code: numbering.ErrCodeOverflow}).Code)
}
