package analysis

import (
	"fmt"
	"strings"
)

// CosineSimilarity converts a cosine distance into a [0,1] similarity score.
// It is only meaningful for distances bounded near [0,2]; stores using a
// different metric should supply their own transform.
func CosineSimilarity(distance float64) float64 {
	if s := 1 - distance; s > 0 {
		return s
	}
	return 0
}

// Formatter renders a context set into the reference block embedded in
// prompts. The similarity transform depends on the store's distance metric
// and is pluggable for that reason.
type Formatter struct {
	SimilarityFromDistance func(distance float64) float64
}

// Format renders records in set order. Empty input yields an empty string,
// which callers treat as "no context available".
func (f *Formatter) Format(records []ContextRecord) string {
	if len(records) == 0 {
		return ""
	}
	similarity := f.SimilarityFromDistance
	if similarity == nil {
		similarity = CosineSimilarity
	}

	var b strings.Builder
	b.WriteString("\n## KIẾN THỨC THAM KHẢO TỪ CƠ SỞ DỮ LIỆU:\n")
	for i, record := range records {
		fmt.Fprintf(&b, "\n### Trường hợp %d:\n", i+1)
		fmt.Fprintf(&b, "- **Loại phân tích**: %s\n", metadataOrDefault(record.Metadata, "analysis_type"))
		fmt.Fprintf(&b, "- **Loại cây**: %s\n", metadataOrDefault(record.Metadata, "plant_type"))
		fmt.Fprintf(&b, "- **Tình trạng sức khỏe**: %s\n", metadataOrDefault(record.Metadata, "health_status"))
		if excerpt := documentExcerpt(record.Document); excerpt != "" {
			fmt.Fprintf(&b, "- **Kết quả phân tích**: %s\n", excerpt)
		}
		if record.Distance != nil {
			fmt.Fprintf(&b, "- **Độ tương đồng**: %.2f\n", similarity(*record.Distance))
		}
	}
	b.WriteString("\n**Lưu ý**: Sử dụng thông tin tham khảo này để đưa ra phân tích chính xác hơn, nhưng vẫn tập trung vào hình ảnh hiện tại.\n")
	return b.String()
}

func metadataOrDefault(metadata map[string]string, key string) string {
	if value, ok := metadata[key]; ok && strings.TrimSpace(value) != "" {
		return value
	}
	return "không rõ"
}

// documentExcerpt joins the first 5 non-blank lines of a document.
func documentExcerpt(document string) string {
	lines := strings.Split(strings.TrimSpace(document), "\n")
	relevant := make([]string, 0, 5)
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		relevant = append(relevant, line)
		if len(relevant) == 5 {
			break
		}
	}
	return strings.Join(relevant, " ")
}
