package analysis

const identificationPrompt = `Hãy phân tích hình ảnh này và xác định loại cây trồng. Vui lòng cung cấp thông tin sau:

1. **Tên khoa học và tên thông thường** của cây
2. **Họ thực vật** mà cây thuộc về
3. **Đặc điểm nhận dạng** chính (lá, thân, hoa, quả)
4. **Độ tin cậy** của việc nhận dạng (%)
5. **Thông tin bổ sung** về cây (nguồn gốc, mùa sinh trưởng, điều kiện trồng)

Trả lời bằng tiếng Việt với định dạng JSON có cấu trúc rõ ràng.`

const diseasePrompt = `Hãy phân tích hình ảnh này để phát hiện bệnh hoặc vấn đề trên cây trồng. Cung cấp:

1. **Tình trạng sức khỏe** tổng thể của cây (khỏe mạnh/bệnh/suy yếu)
2. **Các dấu hiệu bệnh** được phát hiện (nếu có)
3. **Tên bệnh** có thể (nếu xác định được)
4. **Nguyên nhân** có thể gây ra bệnh
5. **Mức độ nghiêm trọng** (nhẹ/trung bình/nặng)
6. **Khuyến nghị điều trị** cụ thể
7. **Biện pháp phòng ngừa** cho tương lai

Trả lời bằng tiếng Việt với định dạng JSON có cấu trúc rõ ràng.`

const growthPrompt = `Hãy phân tích giai đoạn phát triển và tình trạng sinh trưởng của cây trong hình ảnh:

1. **Giai đoạn phát triển** hiện tại (mầm, non, trưởng thành, già)
2. **Tình trạng dinh dưỡng** (đủ/thiếu/thừa chất dinh dưỡng)
3. **Điều kiện môi trường** (ánh sáng, độ ẩm, nhiệt độ - dựa trên dấu hiệu trên cây)
4. **Tốc độ sinh trưởng** ước tính (chậm/bình thường/nhanh)
5. **Khuyến nghị chăm sóc** để tối ưu hóa sinh trưởng
6. **Thời điểm thu hoạch** dự kiến (nếu là cây ăn quả/rau)

Trả lời bằng tiếng Việt với định dạng JSON có cấu trúc rõ ràng.`

const completePrompt = `Hãy thực hiện phân tích toàn diện cây trồng trong hình ảnh này:

## 1. NHẬN DẠNG CÂY
- Tên khoa học và tên thông thường
- Họ thực vật
- Đặc điểm nhận dạng chính
- Độ tin cậy nhận dạng (%)

## 2. TÌNH TRẠNG SỨC KHỎE
- Tình trạng tổng thể (khỏe mạnh/bệnh/suy yếu)
- Các dấu hiệu bệnh (nếu có)
- Tên bệnh có thể
- Mức độ nghiêm trọng

## 3. PHÂN TÍCH SINH TRƯỞNG
- Giai đoạn phát triển
- Tình trạng dinh dưỡng
- Điều kiện môi trường
- Tốc độ sinh trưởng

## 4. KHUYẾN NGHỊ
- Biện pháp điều trị (nếu có bệnh)
- Cách chăm sóc tối ưu
- Lịch bón phân và tưới nước
- Biện pháp phòng ngừa
- Thời điểm thu hoạch (nếu áp dụng)

## 5. THÔNG TIN BỔ SUNG
- Nguồn gốc cây
- Mùa sinh trưởng tốt nhất
- Điều kiện trồng lý tưởng

Trả lời bằng tiếng Việt với định dạng JSON có cấu trúc rõ ràng và chi tiết.`

var categoryPrompts = map[Category]string{
	CategoryIdentification: identificationPrompt,
	CategoryDisease:        diseasePrompt,
	CategoryGrowth:         growthPrompt,
	CategoryComplete:       completePrompt,
}

// Compose builds the final model prompt: the formatted context block (when
// present) followed by the category's instruction template. Unrecognized
// categories fall back to the complete template.
func Compose(category Category, contextText string) string {
	prompt, ok := categoryPrompts[category]
	if !ok {
		prompt = completePrompt
	}
	if contextText == "" {
		return prompt
	}
	return contextText + "\n" + prompt
}
