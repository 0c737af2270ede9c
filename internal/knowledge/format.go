package knowledge

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// EmptyMessage is shown when the knowledge base has no documents.
const EmptyMessage = "The knowledge base is empty. Add a document to get started."

// FormatPage renders a page of documents as plain text.
func FormatPage(p Page) string {
	if p.Total == 0 {
		return EmptyMessage
	}
	if len(p.Items) == 0 {
		return fmt.Sprintf("Page %d is past the end (%d pages).", p.Page, p.TotalPages)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Knowledge base: %d %s\n", p.Total, plural(p.Total, "document", "documents"))
	offset := (p.Page - 1) * p.PageSize
	for i, m := range p.Items {
		fmt.Fprintf(&b, "%d. %s (%s chars", offset+i+1, m.Title, humanize.Comma(int64(m.CharCount)))
		if m.AddedBy != "" {
			fmt.Fprintf(&b, ", added by %s", m.AddedBy)
		}
		b.WriteString(")\n")
	}
	fmt.Fprintf(&b, "Page %d of %d, %s of %s chars used",
		p.Page, p.TotalPages, humanize.Comma(int64(p.TotalChars)), humanize.Comma(int64(p.MaxTotalChars)))
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
