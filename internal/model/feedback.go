package model

// FeedbackKind 是用户反馈的类别。
type FeedbackKind string

const (
	FeedbackHelpful   FeedbackKind = "helpful"
	FeedbackUnhelpful FeedbackKind = "unhelpful"
	FeedbackOther     FeedbackKind = "other"
)

// Valid 判断反馈类别是否合法。
func (k FeedbackKind) Valid() bool {
	return k == FeedbackHelpful || k == FeedbackUnhelpful || k == FeedbackOther
}

// FeedbackEvent 是投递到 Kafka 的反馈事件。
type FeedbackEvent struct {
	SessionID string       `json:"sessionId"`
	MessageID string       `json:"messageId"`
	Model     string       `json:"model"`
	Type      FeedbackKind `json:"type"`
	Message   string       `json:"message"`
	Timestamp int64        `json:"timestamp"`
}

// UploadResult 是文件上传成功后的返回结构。
type UploadResult struct {
	FileName string `json:"fileName"`
	FilePath string `json:"filePath"`
	URL      string `json:"url"`
}
