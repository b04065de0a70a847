package manifest

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Render writes docs as a YAML stream. yaml.v3 separates consecutive
// documents with "---".
func Render(w io.Writer, docs ...any) error {
	if len(docs) == 0 {
		return nil
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)

	for _, doc := range docs {
		if err := encoder.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
	}
	return encoder.Close()
}

// RenderString is Render into a string.
func RenderString(docs ...any) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, docs...); err != nil {
		return "", err
	}
	return buf.String(), nil
}
