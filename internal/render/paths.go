package render

import "path/filepath"

// Output file names inside a job's output directory.
const (
	TaggedTextFile = "tagged-text.idtt"
	PDFFile        = "preview.pdf"
	PackageFile    = "package.zip"
	TemplateFile   = "template.idml"
)

// Paths locates the per-job files shared between stages and endpoints.
type Paths struct {
	OutputDir   string
	TemplateDir string
}

// JobDir is the output directory of one job.
func (p Paths) JobDir(jobID string) string { return filepath.Join(p.OutputDir, jobID) }

func (p Paths) TaggedText(jobID string) string { return filepath.Join(p.JobDir(jobID), TaggedTextFile) }

func (p Paths) PDF(jobID string) string { return filepath.Join(p.JobDir(jobID), PDFFile) }

func (p Paths) Package(jobID string) string { return filepath.Join(p.JobDir(jobID), PackageFile) }

// Template is where the fetched template artifact for a job lives.
func (p Paths) Template(jobID string) string {
	return filepath.Join(p.TemplateDir, jobID, TemplateFile)
}
