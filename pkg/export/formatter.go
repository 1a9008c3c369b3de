package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type exportRecord struct {
	Type      string                 `json:"type"`
	ID        int64                  `json:"id"`
	Content   string                 `json:"content"`
	CreatedAt string                 `json:"createdAt"`
	UpdatedAt string                 `json:"updatedAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func formatRecords(format string, records []exportRecord) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		body, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return nil, "", err
		}
		return body, "application/json", nil

	case FormatJSONL:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		for _, rec := range records {
			if err := encoder.Encode(rec); err != nil {
				return nil, "", err
			}
		}
		return buf.Bytes(), "application/x-ndjson", nil

	case FormatCSV:
		var buf bytes.Buffer
		buf.WriteString("type,id,content,createdAt,updatedAt\n")
		for _, rec := range records {
			escaped := strings.ReplaceAll(rec.Content, `"`, `""`)
			fmt.Fprintf(&buf, "%s,%d,\"%s\",%s,%s\n", rec.Type, rec.ID, escaped, rec.CreatedAt, rec.UpdatedAt)
		}
		return buf.Bytes(), "text/csv", nil

	case FormatTXT:
		var blocks []string
		for _, rec := range records {
			blocks = append(blocks, fmt.Sprintf("%s: %s", strings.ToUpper(rec.Type), rec.Content))
		}
		return []byte(strings.Join(blocks, "\n\n")), "text/plain", nil

	default:
		return nil, "", fmt.Errorf("unsupported format %q", format)
	}
}
