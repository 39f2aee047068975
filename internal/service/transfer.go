package service

import (
	"encoding/json"
	"fmt"

	"buddychat-go/internal/model"
)

// ExportMessages 将会话消息导出为 JSON 数组。
func ExportMessages(sess *Session) ([]byte, error) {
	return json.MarshalIndent(sess.Messages.Snapshot(), "", "  ")
}

// ImportMessages 用 JSON 数组整体替换会话消息。
// 缺少 ID 的消息会分配新 ID；角色不合法的数据整体拒绝。
func ImportMessages(sess *Session, data []byte) ([]model.Message, error) {
	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if msgs == nil {
		return nil, ErrInvalidImport
	}
	for i := range msgs {
		if msgs[i].Role != model.RoleUser && msgs[i].Role != model.RoleAssistant {
			return nil, fmt.Errorf("%w: message %d has role %q", ErrInvalidImport, i, msgs[i].Role)
		}
		if msgs[i].ID == "" {
			msgs[i].ID = model.NewID()
		}
	}
	sess.Messages.SetAll(msgs)
	return msgs, nil
}
