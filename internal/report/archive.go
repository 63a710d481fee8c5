package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/ashureev/anamnesis/internal/domain"
	"github.com/ashureev/anamnesis/internal/store"
)

// Archive files rendered reports under a content root and records each
// stored artifact in the ledger. The stored location mirrors the layout
// patients/<patient-id>/reports/<name> so artifacts stay grouped per patient.
type Archive struct {
	root string
	repo store.Repository
}

// NewArchive creates an archive rooted at root, recording ledger rows in repo.
func NewArchive(root string, repo store.Repository) *Archive {
	return &Archive{root: root, repo: repo}
}

// Store copies the rendered artifact into the archive and appends a ledger
// row. It returns the recorded ledger entry.
func (a *Archive) Store(ctx context.Context, rep *Report, artifactPath string) (*domain.ReportRecord, error) {
	name := filepath.Base(artifactPath)
	location := path.Join("patients", rep.PatientID, "reports", name)

	dst := filepath.Join(a.root, "patients", rep.PatientID, "reports", name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	if err := copyFile(artifactPath, dst); err != nil {
		return nil, fmt.Errorf("archive report: %w", err)
	}

	rec := &domain.ReportRecord{
		SessionID:      rep.SessionID,
		PatientID:      rep.PatientID,
		ChiefComplaint: rep.ChiefComplaint,
		ArtifactPath:   artifactPath,
		StoredLocation: location,
		CreatedAt:      rep.GeneratedAt,
	}
	if err := a.repo.SaveReport(ctx, rec); err != nil {
		return nil, fmt.Errorf("record report: %w", err)
	}
	return rec, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
