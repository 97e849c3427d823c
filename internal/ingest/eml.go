package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jaytaylor/html2text"
	"github.com/mnako/letters"
	"go.uber.org/zap"

	"mailtriage/internal/model"
)

// ParseEML reads one RFC 822 message. The text part is preferred; an HTML-only
// message is flattened to text.
func ParseEML(r io.Reader) (*model.Email, error) {
	msg, err := letters.ParseEmail(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email: %w", err)
	}

	e := &model.Email{
		Subject:    strings.TrimSpace(msg.Headers.Subject),
		ReceivedAt: msg.Headers.Date,
	}
	if len(msg.Headers.From) > 0 && msg.Headers.From[0] != nil {
		e.From = msg.Headers.From[0].Address
	} else if msg.Headers.Sender != nil {
		e.From = msg.Headers.Sender.Address
	}

	switch {
	case strings.TrimSpace(msg.Text) != "":
		e.Body = strings.TrimSpace(msg.Text)
	case strings.TrimSpace(msg.HTML) != "":
		text, err := html2text.FromString(msg.HTML, html2text.Options{OmitLinks: true, TextOnly: true})
		if err != nil {
			return nil, fmt.Errorf("failed to flatten html body: %w", err)
		}
		e.Body = strings.TrimSpace(text)
	}
	return e, nil
}

// ImportResult counts files per outcome of ImportFiles.
type ImportResult struct {
	Imported int
	Failed   int
}

// Importer stores .eml files through an Ingester.
type Importer struct {
	ingester Ingester
	logger   *zap.Logger
}

func NewImporter(ingester Ingester, logger *zap.Logger) *Importer {
	return &Importer{
		ingester: ingester,
		logger:   logger,
	}
}

// ImportFiles imports every path; a directory contributes its *.eml files.
// A bad file is logged and counted, it does not stop the import.
func (i *Importer) ImportFiles(ctx context.Context, paths []string) (ImportResult, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return ImportResult{}, err
	}

	var res ImportResult
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		id, err := i.importFile(ctx, path)
		if err != nil {
			res.Failed++
			i.logger.Warn("Failed to import email file", zap.String("path", path), zap.Error(err))
			continue
		}
		res.Imported++
		i.logger.Info("Email file imported", zap.String("path", path), zap.Int("email_id", id))
	}
	return res, nil
}

func (i *Importer) importFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	e, err := ParseEML(f)
	if err != nil {
		return 0, err
	}
	if err := i.ingester.IngestEmail(ctx, e); err != nil {
		return 0, err
	}
	return e.ID, nil
}

func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.eml"))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}
