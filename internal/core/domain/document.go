package domain

// Document is the plain-text content of one file from a source directory.
type Document struct {
	ID      string `json:"id"`
	Source  string `json:"source"`
	Content string `json:"-"`
}
