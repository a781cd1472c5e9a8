// Package prompt builds the narration prompt shared by all providers.
package prompt

import (
	"fmt"
	"strings"

	"github.com/danielcregg/powerpoint-to-video-old/pkg/ports"
)

// DefaultMaxWords bounds the length of a narration script.
const DefaultMaxWords = 150

const (
	openingContext = "This is the first slide of the presentation. You may greet the audience and introduce the topic."
	closingContext = "This is the final slide of the presentation. Thank the audience, summarize key takeaways, or provide a professional closing."
	middleContext  = "This is a middle slide of the presentation. Continue the presentation flow without greetings or farewells."
	singleContext  = "This is the only slide of the presentation. Greet the audience, present the content and close professionally."
)

// Build returns the instruction text sent alongside the slide image.
func Build(pos ports.SlidePosition, maxWords int) string {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	lines := []string{
		"You are a professional presenter. Write a clear and engaging speaker script for this slide.",
		positionContext(pos),
		"Explain the key points as if presenting to an audience.",
		"Do not describe the slide's layout. Deliver the information directly.",
		fmt.Sprintf("Keep the script under %d words.", maxWords),
		"Return only the words to be spoken, without headings, stage directions or markdown.",
	}
	return strings.Join(lines, "\n")
}

func positionContext(pos ports.SlidePosition) string {
	switch {
	case pos.First() && pos.Last():
		return singleContext
	case pos.First():
		return openingContext
	case pos.Last():
		return closingContext
	default:
		return middleContext
	}
}
