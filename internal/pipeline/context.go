package pipeline

import "unicode/utf8"

// MaxDocumentChars bounds the document text handed to every stage so
// per-stage invocation cost and latency stay predictable. The budget
// counts characters, not bytes; a cut never splits a rune.
const MaxDocumentChars = 15000

const truncationMarker = "\n\n[Document truncated due to length...]"

// Context is the shared input every stage receives. Stages are
// independent given this context; none consumes another's output.
type Context struct {
	Query        string
	DocumentText string
}

// BuildContext assembles the shared context, truncating oversized
// document text at the character budget with an explicit marker.
func BuildContext(query, documentText string) Context {
	if utf8.RuneCountInString(documentText) > MaxDocumentChars {
		runes := []rune(documentText)
		documentText = string(runes[:MaxDocumentChars]) + truncationMarker
	}
	return Context{Query: query, DocumentText: documentText}
}
