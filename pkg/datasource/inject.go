package datasource

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dataxchange/dxp/pkg/document"
)

// InjectData replaces the payload of the first data element of root with the
// contents of r. Lines that are empty or hold only commas are dropped. When
// root has no data element an inline CSV element is appended.
func InjectData(root *document.Element, r io.Reader) error {
	var el *document.Element
	if found := root.ChildrenNamed(ElementName); len(found) > 0 {
		el = found[0]
	} else {
		el = document.New(ElementName, "content", ContentCSV, "source", LocationInline)
		root.Append(el)
	}

	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(strings.ReplaceAll(line, ",", "")) == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read injected data: %w", err)
	}

	el.Text = b.String()
	el.SetAttr("source", LocationInline)
	return nil
}
