package executors

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/domain"
)

// Extractor renders each deck page to a PNG slide image.
//
// PPTX decks are converted to PDF with soffice first; every page is then
// rasterized with pdftoppm. Slides are numbered by page order.
type Extractor struct {
	base
}

// Execute implements Executor.
func (e *Extractor) Execute(ctx context.Context, job *domain.Job, u domain.Unit) domain.Outcome {
	ws, err := e.workspace(u)
	if err != nil {
		return e.fail(u, err)
	}
	defer ws.cleanup()

	ext := "." + string(job.SourceKind)
	source, err := ws.fetch(ctx, job.SourceKey, "source"+ext)
	if err != nil {
		return e.fail(u, err)
	}

	pdf := source
	if job.SourceKind == domain.SourcePPTX {
		pdf, err = e.convertToPDF(ctx, ws, source)
		if err != nil {
			return e.fail(u, err)
		}
	}

	pages, err := e.rasterize(ctx, ws, pdf)
	if err != nil {
		return e.fail(u, err)
	}
	if len(pages) == 0 {
		return e.fail(u, domain.Wrap(domain.ErrInput, e.stage, "", "deck contains no slides", nil))
	}

	keys := make([]string, len(pages))
	for i, page := range pages {
		keys[i] = domain.SlideImageKey(job.ID, i)
		if err := ws.publish(ctx, keys[i], page); err != nil {
			return e.fail(u, err)
		}
	}

	e.logger.Info("slides extracted",
		zap.String("job_id", job.ID),
		zap.Int("slides", len(keys)))

	return domain.Outcome{Unit: u, ArtifactKey: keys[0], SlideKeys: keys}
}

func (e *Extractor) convertToPDF(ctx context.Context, ws *workspace, source string) (string, error) {
	res, err := e.runner.Run(ctx, e.cfg.SOffice,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", ws.dir,
		source,
	)
	if err != nil {
		return "", commandError(ctx, domain.ErrInput, e.stage, "soffice", res, err)
	}

	pdf := strings.TrimSuffix(source, filepath.Ext(source)) + ".pdf"
	if !nonEmpty(pdf) {
		return "", domain.Wrap(domain.ErrInput, e.stage, "soffice", "conversion produced no PDF", nil)
	}
	return pdf, nil
}

func (e *Extractor) rasterize(ctx context.Context, ws *workspace, pdf string) ([]string, error) {
	prefix := ws.path("slide")
	res, err := e.runner.Run(ctx, e.cfg.PDFToPPM,
		"-png",
		"-r", strconv.Itoa(e.cfg.DPI),
		pdf,
		prefix,
	)
	if err != nil {
		return nil, commandError(ctx, domain.ErrInput, e.stage, "pdftoppm", res, err)
	}
	return collectPages(ws.dir)
}

// collectPages returns pdftoppm output files ordered by page number.
// pdftoppm pads page numbers to the width of the page count, so the
// numeric suffix is parsed rather than sorted lexically.
func collectPages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "slide-*.png"))
	if err != nil {
		return nil, domain.Wrap(domain.ErrTransient, domain.StageExtract, "collect", "", err)
	}

	type page struct {
		n    int
		path string
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".png")
		n, err := strconv.Atoi(strings.TrimPrefix(base, "slide-"))
		if err != nil {
			continue
		}
		if info, err := os.Stat(m); err != nil || info.Size() == 0 {
			continue
		}
		pages = append(pages, page{n: n, path: m})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].n < pages[j].n })

	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
