package export

// Field is one labelled value in a report summary.
type Field struct {
	Label string
	Value string
}

// Dataset defines tabular export content with an optional summary block.
type Dataset struct {
	Title   string
	Summary []Field
	Headers []string
	Rows    [][]string
}

// Renderer turns a dataset into a file body.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
	Extension() string
}
