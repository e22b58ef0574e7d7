package adapter

import (
	"bytes"
	"context"
	"io"

	"github.com/ledongthuc/pdf"
	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

// PDFExtractor pulls the plain text layer out of a PDF.
type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor { return &PDFExtractor{} }

// ExtractText returns the concatenated text of every page. A file that is
// not a readable PDF is a validation error.
func (p *PDFExtractor) ExtractText(_ context.Context, data []byte) (text string, err error) {
	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = goerr.New("malformed PDF", goerr.V("panic", r), goerr.T(model.TagValidation))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", goerr.Wrap(err, "failed to open PDF", goerr.T(model.TagValidation))
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", goerr.Wrap(err, "failed to read PDF text", goerr.T(model.TagValidation))
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", goerr.Wrap(err, "failed to read PDF text", goerr.T(model.TagValidation))
	}
	return buf.String(), nil
}

var _ model.TextExtractor = (*PDFExtractor)(nil)
