package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

func TestBuildPositionContext(t *testing.T) {
	tests := []struct {
		name string
		pos  ports.SlidePosition
		want string
	}{
		{"first", ports.SlidePosition{Index: 0, Total: 5}, openingContext},
		{"middle", ports.SlidePosition{Index: 2, Total: 5}, middleContext},
		{"last", ports.SlidePosition{Index: 4, Total: 5}, closingContext},
		{"single", ports.SlidePosition{Index: 0, Total: 1}, singleContext},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Build(tt.pos, 120)
			assert.Contains(t, p, tt.want)
			assert.Contains(t, p, "under 120 words")
		})
	}
}

func TestBuildDefaultsWordLimit(t *testing.T) {
	assert.Contains(t, Build(ports.SlidePosition{Index: 1, Total: 3}, 0), "under 150 words")
}
