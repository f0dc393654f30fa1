package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/jobs"
	"github.com/raaihank/pii-redactor/internal/redact"
	"github.com/raaihank/pii-redactor/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
		fileOutput, fileMode, fileWorkers = "", "llm", 0
		textMode, textJSON = "llm", false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "redactor "+version)
}

func TestReadTextArg(t *testing.T) {
	got, err := readTextArg(strings.NewReader("ignored"), []string{"직접 입력"})
	require.NoError(t, err)
	assert.Equal(t, "직접 입력", got)

	got, err = readTextArg(strings.NewReader("표준 입력\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "표준 입력", got)

	got, err = readTextArg(strings.NewReader("파이프 입력\r\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "파이프 입력", got)
}

func TestTextCommandRegex(t *testing.T) {
	t.Setenv("REDACTOR_LOGGING_LEVEL", "error")

	out, err := execute(t, "text", "--mode", "regex", "연락처 010-1234-5678 로 회신 바랍니다")
	require.NoError(t, err)
	assert.NotContains(t, out, "010-1234-5678")
	assert.Contains(t, out, "회신 바랍니다")
}

func TestFileCommandRegex(t *testing.T) {
	t.Setenv("REDACTOR_LOGGING_LEVEL", "error")

	dir := t.TempDir()
	input := filepath.Join(dir, "민원.csv")
	csv := "민원제목,질문내용\n도로 파손 신고,연락처 010-1234-5678 입니다\n가로등 고장,메일 hong@example.com 으로 답변 부탁\n"
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o600))

	out, err := execute(t, "file", input, "--mode", "regex", "--workers", "2")
	require.NoError(t, err)

	dest := filepath.Join(dir, "민원_PII_제거완료_정규식.csv")
	assert.Contains(t, out, dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "010-1234-5678")
	assert.NotContains(t, string(data), "hong@example.com")
	assert.Contains(t, string(data), "도로 파손 신고")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the input and the output should remain")
}

func TestFileCommandRejectsFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(input, []byte("a\nb\n"), 0o600))

	_, err := execute(t, "file", input, "-o", filepath.Join(dir, "out.xlsx"))
	assert.Error(t, err)

	_, err = execute(t, "file", filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}

func TestReloadAppliesToNextJob(t *testing.T) {
	t.Setenv("REDACTOR_LOGGING_LEVEL", "error")

	a, err := newApp()
	require.NoError(t, err)
	defer a.close()
	a.current().Server.Port = 9123

	outDir := t.TempDir()
	runner := a.newRunner(store.NewMemoryStore(), outDir, 1)
	defer runner.Shutdown(context.Background())

	input := filepath.Join(t.TempDir(), "민원.csv")
	csv := "질문내용,답변내용\n연락처 010-1234-5678 입니다,담당자 메일 hong@example.com\n"
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o600))

	next := config.GetDefaults()
	next.Server.Port = 8080
	next.Redaction.TargetColumns = []string{"답변내용"}
	next.Redaction.PassBudget = 2

	var resets int
	a.reload(next, runner, outDir, func() { resets++ })

	assert.Equal(t, 1, resets)
	assert.Equal(t, 9123, a.current().Server.Port)
	assert.Equal(t, 2, a.current().Redaction.PassBudget)

	job, _, err := runner.Run(context.Background(), jobs.Request{InputPath: input, Mode: redact.ModeRegex})
	require.NoError(t, err)
	path, _, err := runner.Output(job.ID)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "010-1234-5678")
	assert.NotContains(t, string(data), "hong@example.com")
}
