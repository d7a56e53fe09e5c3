// Package pdf checks that a fetched artifact is a structurally valid PDF.
package pdf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperscraper/internal/scraper"
)

var magic = []byte("%PDF-")

// minSize is the smallest file that can hold a header, one object and a trailer.
const minSize = 64

var disableConfigDir sync.Once

// Validator implements scraper.Validator.
type Validator struct {
	logger *zap.Logger
	// structural is swapped in tests.
	structural func(io.ReadSeeker) error
}

var _ scraper.Validator = (*Validator)(nil)

// New returns a Validator using pdfcpu's relaxed validation mode.
func New(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	disableConfigDir.Do(func() {
		model.ConfigPath = "disable"
	})
	return &Validator{logger: logger, structural: validateStructure}
}

// Check reports whether path holds a readable PDF. It never panics.
func (v *Validator) Check(path string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Warn("pdf validation panicked", zap.String("path", path), zap.Any("panic", r))
			ok = false
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || info.IsDir() || info.Size() < minSize {
		return false
	}
	head := make([]byte, 1024)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return false
	}
	if !bytes.Contains(head[:n], magic) {
		return false
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false
	}
	if err := v.structural(f); err != nil {
		v.logger.Debug("pdf failed validation", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

func validateStructure(rs io.ReadSeeker) error {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(rs, conf); err != nil {
		return fmt.Errorf("validate pdf: %w", err)
	}
	return nil
}
