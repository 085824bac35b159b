package scanning

import "context"

// Recognizer turns a screenshot into plain text
type Recognizer interface {
	// Recognize returns the text found in image. contentType is the MIME type
	// of image; an empty result with a nil error means the engine found no
	// text.
	Recognize(ctx context.Context, image []byte, contentType string) (string, error)
	// Close releases any resources held by the recognizer
	Close() error
}

// transcriptionPrompt is the shared prompt used by the LLM backends
const transcriptionPrompt = `You are reading a screenshot of an application that shows a table of events. Transcribe every visible line of text exactly as it appears on screen.

Rules:
- Keep one table row per output line, with the cells of a row separated by single spaces
- Copy amounts exactly as shown, including the "$" sign, thousands separators and cents (for example $15,250.00)
- Copy times exactly as shown, including AM or PM (for example 3:15 PM)
- Do not translate, summarise, reorder or correct anything
- Do not add any text before or after the transcription
- Do not use markdown code blocks`
