package extract

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/finsight/internal/domain"
)

var pdfMagic = []byte("%PDF")

// PDF resolves a document ref (the stored upload path) to extracted
// text. Structural problems with the input are validation errors and
// therefore terminal: retrying cannot repair a broken upload.
type PDF struct {
	maxBytes int64
	log      *zap.SugaredLogger
}

func NewPDF(maxBytes int64, log *zap.SugaredLogger) *PDF {
	return &PDF{maxBytes: maxBytes, log: log}
}

func (p *PDF) ExtractText(ctx context.Context, documentRef string) (string, error) {
	info, err := os.Stat(documentRef)
	if err != nil {
		return "", domain.NewValidationError("document not readable: " + documentRef)
	}
	if !strings.HasSuffix(strings.ToLower(documentRef), ".pdf") {
		return "", domain.NewValidationError("unreadable format: only PDF documents are supported")
	}
	if p.maxBytes > 0 && info.Size() > p.maxBytes {
		p.log.Warnw("document exceeds size cap", "ref", documentRef, "size", info.Size(), "max", p.maxBytes)
		return "", domain.NewValidationError("document exceeds maximum allowed size")
	}

	header := make([]byte, 4)
	f, err := os.Open(documentRef)
	if err != nil {
		return "", domain.NewValidationError("document not readable: " + documentRef)
	}
	_, err = io.ReadFull(f, header)
	f.Close()
	if err != nil || !bytes.Equal(header, pdfMagic) {
		return "", domain.NewValidationError("unreadable format: missing PDF header")
	}

	raw, err := readPlainText(documentRef)
	if err != nil {
		return "", domain.NewValidationError("unreadable format: " + err.Error())
	}

	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return "", domain.NewValidationError("empty document: no extractable text")
	}
	p.log.Infow("extracted document text", "ref", documentRef, "chars", len(text))
	return text, nil
}

// readPlainText isolates the parser; it panics on some malformed
// inputs, and a broken upload must classify as unreadable, not crash
// the worker.
func readPlainText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("pdf parse panic: %v", r)
		}
	}()
	rf, reader, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer rf.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
