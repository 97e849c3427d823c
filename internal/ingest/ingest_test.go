package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/internal/service"
	"mailtriage/internal/service/servicetest"
)

func newIngester() (*service.TriageService, *servicetest.MemoryStore) {
	store := servicetest.NewMemoryStore()
	svc := service.NewTriageService(store, store, store, &servicetest.MockGenerator{}, service.Options{})
	return svc, store
}

func TestHandleEmailReceivedStoresEmail(t *testing.T) {
	svc, _ := newIngester()
	h := NewEmailReceivedHandler(svc, zap.NewNop())

	err := h.HandleEmailReceived(context.Background(),
		[]byte(`{"from":"alert@monitoring.system","subject":"CPU high","body":"90%","received_at":"2024-03-01T10:00:00Z"}`))
	require.NoError(t, err)

	emails, err := svc.ListEmails(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, "alert@monitoring.system", emails[0].From)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), emails[0].ReceivedAt.UTC())
}

func TestHandleEmailReceivedDropsBadPayload(t *testing.T) {
	svc, _ := newIngester()
	h := NewEmailReceivedHandler(svc, zap.NewNop())

	assert.NoError(t, h.HandleEmailReceived(context.Background(), []byte(`{not json`)))
	assert.NoError(t, h.HandleEmailReceived(context.Background(), []byte(`{"body":"no sender"}`)))

	emails, err := svc.ListEmails(context.Background())
	require.NoError(t, err)
	assert.Empty(t, emails)
}

type failingIngester struct{ err error }

func (f failingIngester) IngestEmail(context.Context, *model.Email) error { return f.err }

func TestHandleEmailReceivedReturnsStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	h := NewEmailReceivedHandler(failingIngester{err: storeErr}, zap.NewNop())

	err := h.HandleEmailReceived(context.Background(), []byte(`{"from":"a@b.c","subject":"s"}`))

	assert.ErrorIs(t, err, storeErr)
}

const plainEML = "From: Bob Developer <bob.developer@company.com>\r\n" +
	"To: me@company.com\r\n" +
	"Subject: Code review needed\r\n" +
	"Date: Fri, 01 Mar 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please review PR #42 by Friday.\r\n"

const htmlEML = "From: newsletter@technews.io\r\n" +
	"Subject: Weekly digest\r\n" +
	"Date: Fri, 01 Mar 2024 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Top <b>stories</b> this week</p></body></html>\r\n"

func TestParseEML(t *testing.T) {
	e, err := ParseEML(strings.NewReader(plainEML))
	require.NoError(t, err)
	assert.Equal(t, "bob.developer@company.com", e.From)
	assert.Equal(t, "Code review needed", e.Subject)
	assert.Equal(t, "Please review PR #42 by Friday.", e.Body)
	assert.Equal(t, 2024, e.ReceivedAt.Year())

	e, err = ParseEML(strings.NewReader(htmlEML))
	require.NoError(t, err)
	assert.Equal(t, "newsletter@technews.io", e.From)
	assert.Contains(t, e.Body, "stories")
	assert.NotContains(t, e.Body, "<p>")
}

func TestImportFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.eml"), []byte(plainEML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.eml"), []byte(htmlEML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.eml"), []byte("Subject: no sender\r\n\r\nbody\r\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	svc, store := newIngester()
	res, err := NewImporter(svc, zap.NewNop()).ImportFiles(context.Background(), []string{dir})

	require.NoError(t, err)
	assert.Equal(t, ImportResult{Imported: 2, Failed: 1}, res)
	emails, err := store.ListEmails(context.Background())
	require.NoError(t, err)
	assert.Len(t, emails, 2)
}

func TestImportMissingPath(t *testing.T) {
	svc, _ := newIngester()

	_, err := NewImporter(svc, zap.NewNop()).ImportFiles(context.Background(), []string{"/nonexistent/x.eml"})

	assert.Error(t, err)
}
