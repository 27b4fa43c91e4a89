package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const artifactPrefix = "judgebox-"

// Artifact is the on-disk materialized source for one execution attempt.
// It is exclusively owned by the attempt that created it.
type Artifact struct {
	ID string
	// Root is removed as a whole on release.
	Root  string
	Paths Paths
}

// Materializer writes submitted source into uniquely named artifact
// directories under a work directory.
type Materializer struct {
	workdir string
	logger  *zerolog.Logger
}

// NewMaterializer returns a Materializer rooted at workdir. An empty workdir
// means os.TempDir(). When containers are used, workdir must be a path the
// Docker daemon can bind-mount.
func NewMaterializer(workdir string, logger *zerolog.Logger) *Materializer {
	if workdir == "" {
		workdir = os.TempDir()
	}
	// Bind mounts need absolute host paths.
	if abs, err := filepath.Abs(workdir); err == nil {
		workdir = abs
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Materializer{workdir: workdir, logger: logger}
}

// Materialize writes source, wrapped per profile, into a fresh artifact.
// On error nothing is left on disk.
func (m *Materializer) Materialize(source string, profile Profile) (_ *Artifact, err error) {
	if err := os.MkdirAll(m.workdir, 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	id := uuid.NewString()
	root := filepath.Join(m.workdir, artifactPrefix+id)
	if err := os.Mkdir(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(root)
		}
	}()

	srcDir := filepath.Join(root, "src")
	buildDir := filepath.Join(root, "build")
	if err := os.Mkdir(srcDir, 0o755); err != nil {
		return nil, fmt.Errorf("create source directory: %w", err)
	}
	if err := os.Mkdir(buildDir, 0o777); err != nil {
		return nil, fmt.Errorf("create build directory: %w", err)
	}
	// Containers compile as an unprivileged user; umask must not narrow this.
	if err := os.Chmod(buildDir, 0o777); err != nil {
		return nil, fmt.Errorf("chmod build directory: %w", err)
	}

	sourcePath := filepath.Join(srcDir, profile.SourceFile)
	if err := os.WriteFile(sourcePath, []byte(profile.PrepareSource(source)), 0o644); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	m.logger.Debug().Str("artifact", id).Str("language", string(profile.Language)).Msg("artifact materialized")

	return &Artifact{
		ID:   id,
		Root: root,
		Paths: Paths{
			Dir:    srcDir,
			Source: sourcePath,
			Build:  buildDir,
		},
	}, nil
}

// Release removes the artifact. Failures are logged, never returned.
func (m *Materializer) Release(artifact *Artifact) {
	if artifact == nil || artifact.Root == "" {
		return
	}
	if err := os.RemoveAll(artifact.Root); err != nil {
		m.logger.Warn().Err(err).Str("artifact", artifact.ID).Msg("failed to remove artifact")
		return
	}
	m.logger.Debug().Str("artifact", artifact.ID).Msg("artifact released")
}
