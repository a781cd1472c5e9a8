package memory

import (
	"testing"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/adapters/artifacts/artifacttest"
	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func TestArtifactStore(t *testing.T) {
	artifacttest.Run(t, func(t *testing.T) ports.ArtifactStore {
		return NewArtifactStore()
	})
}
