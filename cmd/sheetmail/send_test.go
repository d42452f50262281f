package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/internal/app"
	"sheetmail/internal/delivery"
)

func writeWorkbook(t *testing.T, csv string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sales.csv"), []byte(csv), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "intro.txt"), []byte("Hello from Sub\n<p>{sender_name}</p>"), 0o600))

	body := fmt.Sprintf(`
logging:
  level: error
dispatch:
  interval: 1ms
workbook:
  path: %s
  sender_domain: example.com
templates:
  dir: %s
storage:
  driver: file
  path: %s
`, filepath.Join(dir, "sales.csv"), filepath.Join(dir, "templates"), filepath.Join(dir, "history"))
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath
}

func newTestApp(t *testing.T, csv string) *app.App {
	t.Helper()
	client := delivery.ClientFunc(func(context.Context, delivery.Envelope) error { return nil })
	a, err := app.New(writeWorkbook(t, csv), app.WithClient(client))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Stop(context.Background(), app.StopCommandEnd) })
	return a
}

func TestSendOncePrintsLastOutcome(t *testing.T) {
	a := newTestApp(t, "Emails,Websites Url,Password,Name\nbob@acme.org,www.acme.org,pw,Jane\n")

	// The only outcome lands right before the run finishes; it must never be lost.
	for i := 0; i < 20; i++ {
		var buf bytes.Buffer
		require.NoError(t, sendOnce(context.Background(), a, "sales", "intro.txt", &buf))
		out := buf.String()
		assert.Contains(t, out, "[batch 1] #1 bob@acme.org sent\n", "attempt %d", i)
		assert.Contains(t, out, "completed: 1/1 processed, 1 sent, 0 rejected", "attempt %d", i)
	}
}

func TestSendOncePrintsEveryOutcomeInOrder(t *testing.T) {
	a := newTestApp(t, "Emails,Websites Url,Password,Name\nbob@acme.org,www.acme.org,pw,Jane\nnot-an-address,www.x.org,,\namy@shop.io,www.shop.io,,\n")

	var buf bytes.Buffer
	require.NoError(t, sendOnce(context.Background(), a, "sales", "intro.txt", &buf))

	var outcomes []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(line, "[batch ") {
			outcomes = append(outcomes, line)
		}
	}
	require.Len(t, outcomes, 3, buf.String())
	assert.Equal(t, "[batch 1] #1 bob@acme.org sent", outcomes[0])
	assert.True(t, strings.HasPrefix(outcomes[1], "[batch 1] #2 not-an-address rejected"), outcomes[1])
	assert.Equal(t, "[batch 1] #3 amy@shop.io sent", outcomes[2])
	assert.Contains(t, buf.String(), "completed: 3/3 processed, 2 sent, 1 rejected")
}

func TestSendOnceUnknownGroup(t *testing.T) {
	a := newTestApp(t, "Emails,Websites Url,Password,Name\nbob@acme.org,www.acme.org,pw,Jane\n")

	var buf bytes.Buffer
	err := sendOnce(context.Background(), a, "ops", "intro.txt", &buf)
	require.Error(t, err)
	assert.Empty(t, buf.String())
}
