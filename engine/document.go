package engine

import "encoding/json"

// AllField is the catch-all field every token is additionally indexed under.
const AllField = "_all"

// Field is one indexed field of a document.
type Field struct {
	Name  string
	Value string
}

// Document is the unit of indexing. Key identifies the document for updates
// and deletes; Source is stored verbatim and returned with search hits.
type Document struct {
	Key    string
	Fields []Field
	Source json.RawMessage
}

func termKey(field, token string) string {
	return field + "\x00" + token
}
